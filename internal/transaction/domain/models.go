package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	ledgerdomain "github.com/smallbiznis/donorbook/internal/ledger/domain"
	"gorm.io/datatypes"
)

const (
	DateLayout = "2006-01-02"

	VoidReasonRevision = "superseded by revision"
)

// Transaction is one financial event. The transaction log is the source of truth that
// ledger entries and cached balances are derived from.
type Transaction struct {
	ID                string                         `gorm:"type:varchar(26);primaryKey" json:"id"`
	SequenceNumber    string                         `gorm:"type:varchar(32);not null;uniqueIndex" json:"sequence_number"`
	SequenceYear      int                            `gorm:"not null;uniqueIndex:ux_transactions_sequence,priority:1" json:"-"`
	SequenceValue     int64                          `gorm:"not null;uniqueIndex:ux_transactions_sequence,priority:2" json:"-"`
	Date              time.Time                      `gorm:"type:date;not null;index:ix_transactions_chronology,priority:1" json:"date"`
	Kind              ledgerdomain.Kind              `gorm:"type:varchar(16);not null;index" json:"kind"`
	TransferDirection ledgerdomain.TransferDirection `gorm:"type:varchar(16);not null;default:''" json:"transfer_direction,omitempty"`
	Account           ledgerdomain.Account           `gorm:"type:varchar(16);not null;default:''" json:"account,omitempty"`
	Amount            decimal.Decimal                `gorm:"type:numeric(20,2);not null" json:"amount"`
	Description       string                         `gorm:"type:text;not null;default:''" json:"description"`
	Category          string                         `gorm:"type:varchar(128);not null;default:''" json:"category,omitempty"`
	Subcategory       string                         `gorm:"type:varchar(128);not null;default:''" json:"subcategory,omitempty"`
	PaymentMethod     string                         `gorm:"type:varchar(64);not null;default:''" json:"payment_method,omitempty"`
	Metadata          datatypes.JSONMap              `json:"metadata,omitempty"`
	Voided            bool                           `gorm:"not null;default:false;index" json:"voided"`
	VoidReason        string                         `gorm:"type:text;not null;default:''" json:"void_reason,omitempty"`
	VoidedAt          *time.Time                     `json:"voided_at,omitempty"`
	Supersedes        *string                        `gorm:"type:varchar(26)" json:"supersedes,omitempty"`
	SupersededBy      *string                        `gorm:"type:varchar(26)" json:"superseded_by,omitempty"`
	CreatedAt         time.Time                      `gorm:"not null;index:ix_transactions_chronology,priority:2" json:"created_at"`
	UpdatedAt         time.Time                      `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Transaction) TableName() string { return "transactions" }

// Posting extracts the fields that decide balance effects.
func (t Transaction) Posting() ledgerdomain.Posting {
	return ledgerdomain.Posting{
		Kind:              t.Kind,
		TransferDirection: t.TransferDirection,
		Account:           t.Account,
		Amount:            t.Amount,
	}
}

// Effects resolves the signed per-account balance changes of the transaction.
func (t Transaction) Effects() ([]ledgerdomain.Effect, error) {
	return ledgerdomain.Resolve(t.Posting())
}

// SameFinancials reports whether both transactions move the same money on the same day.
func (t Transaction) SameFinancials(other Transaction) bool {
	return t.Kind == other.Kind &&
		t.TransferDirection == other.TransferDirection &&
		t.Account == other.Account &&
		t.Amount.Equal(other.Amount) &&
		t.Date.Equal(other.Date)
}

// ParseDate parses a calendar date and pins it to UTC midnight.
func ParseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, ErrInvalidDate
	}
	parsed, err := time.ParseInLocation(DateLayout, value, time.UTC)
	if err != nil {
		return time.Time{}, ErrInvalidDate
	}
	return parsed, nil
}

// ChronologicalCursor is the last (date, created_at, id) position read in replay order.
type ChronologicalCursor struct {
	Date      time.Time
	CreatedAt time.Time
	ID        string
}

// CursorOf returns the replay position of t.
func CursorOf(t Transaction) ChronologicalCursor {
	return ChronologicalCursor{Date: t.Date, CreatedAt: t.CreatedAt, ID: t.ID}
}
