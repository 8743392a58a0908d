package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

const (
	DefaultLedgerLimit = 100
	MaxLedgerLimit     = 1000
)

type LedgerFilter struct {
	DateFrom *time.Time
	DateTo   *time.Time
	Limit    int
}

type RebuildResult struct {
	Accounts              []Account `json:"accounts"`
	TransactionsProcessed int       `json:"transactions_processed"`
	EntriesWritten        int       `json:"entries_written"`
	FinalBalances         Balances  `json:"final_balances"`
}

// AccountCheck compares the cached balance of an account with its ledger.
type AccountCheck struct {
	Account            Account         `json:"account"`
	CachedBalance      decimal.Decimal `json:"cached_balance"`
	LedgerBalance      decimal.Decimal `json:"ledger_balance"`
	ProvisionalEntries int64           `json:"provisional_entries"`
	ReversalEntries    int64           `json:"reversal_entries"`
}

// Settled reports whether the account ledger is fully rebuilt and agrees with its cache.
func (c AccountCheck) Settled() bool {
	return c.CachedBalance.Equal(c.LedgerBalance) && c.ProvisionalEntries == 0 && c.ReversalEntries == 0
}

type VerifyResult struct {
	Consistent bool           `json:"consistent"`
	Accounts   []AccountCheck `json:"accounts"`
}

// Service derives ledger entries and cached balances from the transaction log.
type Service interface {
	// Rebuild recomputes the ledger of the given accounts from scratch.
	Rebuild(ctx context.Context, accounts []Account) (RebuildResult, error)
	// RebuildAll recomputes the ledger of every known account.
	RebuildAll(ctx context.Context) (RebuildResult, error)
	Ledger(ctx context.Context, account Account, filter LedgerFilter) ([]LedgerEntryView, error)
	Balances(ctx context.Context) (Balances, error)
	// Verify reports accounts whose cache or ledger still carries optimistic writes.
	Verify(ctx context.Context) (VerifyResult, error)
}
