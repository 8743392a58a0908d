package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Repository persists ledger entries and cached balances. Every method runs on the
// handle it is given so callers can compose them inside one DB transaction.
type Repository interface {
	InsertEntries(ctx context.Context, db *gorm.DB, entries []LedgerEntry) error
	DeleteByAccounts(ctx context.Context, db *gorm.DB, accounts []Account) error
	DeleteByTransaction(ctx context.Context, db *gorm.DB, transactionID string) (int64, error)
	ListEntries(ctx context.Context, db *gorm.DB, account Account, filter LedgerFilter) ([]LedgerEntry, error)
	// LatestEntry returns the entry with the highest sequence of the account, or nil.
	LatestEntry(ctx context.Context, db *gorm.DB, account Account) (*LedgerEntry, error)
	CountEntries(ctx context.Context, db *gorm.DB, account Account, entryType EntryType) (int64, error)
	MaxSequences(ctx context.Context, db *gorm.DB, accounts []Account) (map[Account]int64, error)
	LoadBalances(ctx context.Context, db *gorm.DB, accounts []Account, forUpdate bool) (map[Account]decimal.Decimal, error)
	UpsertBalances(ctx context.Context, db *gorm.DB, balances map[Account]decimal.Decimal, at time.Time) error
}
