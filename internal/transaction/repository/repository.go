package repository

import (
	"context"
	"errors"
	"time"

	ledgerdomain "github.com/smallbiznis/donorbook/internal/ledger/domain"
	"github.com/smallbiznis/donorbook/internal/transaction/domain"
	pkgdb "github.com/smallbiznis/donorbook/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, transaction *domain.Transaction) error {
	if transaction == nil {
		return nil
	}
	return db.WithContext(ctx).Create(transaction).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id string, forUpdate bool) (*domain.Transaction, error) {
	stmt := db.WithContext(ctx).Model(&domain.Transaction{}).Where("id = ?", id)
	if forUpdate && pkgdb.SupportsRowLocks(db) {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return first(stmt)
}

func (r *repo) FindBySequenceNumber(ctx context.Context, db *gorm.DB, sequenceNumber string) (*domain.Transaction, error) {
	return first(db.WithContext(ctx).Model(&domain.Transaction{}).
		Where("sequence_number = ?", sequenceNumber))
}

func first(stmt *gorm.DB) (*domain.Transaction, error) {
	var transaction domain.Transaction
	err := stmt.Limit(1).Take(&transaction).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &transaction, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.Transaction, error) {
	var items []domain.Transaction
	stmt := db.WithContext(ctx).Model(&domain.Transaction{}).
		Where("voided = ?", false)

	if filter.Kind != "" {
		stmt = stmt.Where("kind = ?", filter.Kind)
	}
	if filter.Account != "" {
		// transfers touch both accounts
		stmt = stmt.Where("(account = ? OR kind = ?)", filter.Account, ledgerdomain.KindTransfer)
	}
	if filter.DateFrom != nil {
		stmt = stmt.Where("date >= ?", filter.DateFrom.UTC())
	}
	if filter.DateTo != nil {
		stmt = stmt.Where("date <= ?", filter.DateTo.UTC())
	}

	stmt = stmt.Order("created_at desc, date desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit)
	}

	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListChronological(ctx context.Context, db *gorm.DB, after *domain.ChronologicalCursor, limit int) ([]domain.Transaction, error) {
	var items []domain.Transaction
	stmt := db.WithContext(ctx).Model(&domain.Transaction{}).
		Where("voided = ?", false)

	if after != nil {
		stmt = stmt.Where(
			"(date > ?) OR (date = ? AND created_at > ?) OR (date = ? AND created_at = ? AND id > ?)",
			after.Date,
			after.Date, after.CreatedAt,
			after.Date, after.CreatedAt, after.ID,
		)
	}

	stmt = stmt.Order("date asc, created_at asc, id asc")
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}

	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) UpdateFields(ctx context.Context, db *gorm.DB, id string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	result := db.WithContext(ctx).Model(&domain.Transaction{}).
		Where("id = ?", id).
		Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *repo) MarkVoided(ctx context.Context, db *gorm.DB, id, reason, supersededBy string, at time.Time) error {
	fields := map[string]any{
		"voided":      true,
		"void_reason": reason,
		"voided_at":   at.UTC(),
		"updated_at":  at.UTC(),
	}
	if supersededBy != "" {
		fields["superseded_by"] = supersededBy
	}

	result := db.WithContext(ctx).Model(&domain.Transaction{}).
		Where("id = ? AND voided = ?", id, false).
		Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrTransactionVoided
	}
	return nil
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, id string) (int64, error) {
	result := db.WithContext(ctx).
		Where("id = ?", id).
		Delete(&domain.Transaction{})
	return result.RowsAffected, result.Error
}
