package domain

import (
	"context"
	"time"

	ledgerdomain "github.com/smallbiznis/donorbook/internal/ledger/domain"
	"gorm.io/gorm"
)

type ListFilter struct {
	Kind     ledgerdomain.Kind
	Account  ledgerdomain.Account
	DateFrom *time.Time
	DateTo   *time.Time
	Limit    int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, transaction *Transaction) error
	FindByID(ctx context.Context, db *gorm.DB, id string, forUpdate bool) (*Transaction, error)
	FindBySequenceNumber(ctx context.Context, db *gorm.DB, sequenceNumber string) (*Transaction, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Transaction, error)
	// ListChronological returns active transactions in replay order, strictly after cursor.
	ListChronological(ctx context.Context, db *gorm.DB, after *ChronologicalCursor, limit int) ([]Transaction, error)
	UpdateFields(ctx context.Context, db *gorm.DB, id string, fields map[string]any) error
	MarkVoided(ctx context.Context, db *gorm.DB, id, reason, supersededBy string, at time.Time) error
	Delete(ctx context.Context, db *gorm.DB, id string) (int64, error)
}
