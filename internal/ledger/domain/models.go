package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Account identifies a money location whose balance is tracked.
type Account string

const (
	AccountCash Account = "cash"
	AccountBank Account = "bank"
)

// Accounts returns every known account in rebuild order.
func Accounts() []Account {
	return []Account{AccountBank, AccountCash}
}

func (a Account) Valid() bool {
	switch a {
	case AccountCash, AccountBank:
		return true
	default:
		return false
	}
}

// EntryType records which path produced a ledger entry.
type EntryType string

const (
	// EntryTypePosting is written by a rebuild and is authoritative.
	EntryTypePosting EntryType = "posting"
	// EntryTypeProvisional is written by the writer before the post-commit rebuild.
	EntryTypeProvisional EntryType = "provisional"
	// EntryTypeReversal cancels the effects of a superseded transaction.
	EntryTypeReversal EntryType = "reversal"
)

// LedgerEntry is one line of the per-account audit trail. Entries are derived data:
// a rebuild deletes and rewrites them from the transaction log.
type LedgerEntry struct {
	ID            snowflake.ID    `gorm:"primaryKey" json:"id"`
	TransactionID string          `gorm:"type:varchar(26);not null;index" json:"transaction_id"`
	Account       Account         `gorm:"type:varchar(16);not null;index:ix_ledger_entries_chronology,priority:1" json:"account"`
	EntryType     EntryType       `gorm:"type:varchar(16);not null" json:"entry_type"`
	ChangeAmount  decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"change_amount"`
	BalanceBefore decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"balance_before"`
	BalanceAfter  decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"balance_after"`
	Date          time.Time       `gorm:"type:date;not null;index:ix_ledger_entries_chronology,priority:2" json:"date"`
	Sequence      int64           `gorm:"not null;index:ix_ledger_entries_chronology,priority:3" json:"sequence"`
	CreatedAt     time.Time       `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (LedgerEntry) TableName() string { return "ledger_entries" }

// AccountBalance caches the current balance of an account. It is advisory; the last
// rebuilt ledger entry of the account is the authority.
type AccountBalance struct {
	Account        Account         `gorm:"type:varchar(16);primaryKey" json:"account"`
	CurrentBalance decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"current_balance"`
	LastUpdated    time.Time       `gorm:"not null" json:"last_updated"`
}

// TableName sets the database table name.
func (AccountBalance) TableName() string { return "account_balances" }

// Effect is the signed balance change a transaction applies to one account.
type Effect struct {
	Account Account
	Amount  decimal.Decimal
}

// Balances is the current balance of every account.
type Balances struct {
	Cash decimal.Decimal `json:"cash"`
	Bank decimal.Decimal `json:"bank"`
}

// Of returns the balance for a single account.
func (b Balances) Of(account Account) decimal.Decimal {
	switch account {
	case AccountCash:
		return b.Cash
	case AccountBank:
		return b.Bank
	default:
		return decimal.Zero
	}
}

// LedgerEntryView is a ledger entry as shown to readers.
type LedgerEntryView struct {
	LedgerEntry
	DisplayBalance decimal.Decimal `json:"display_balance"`
}

// NewLedgerEntryView exposes the stored running balance without recomputing it.
func NewLedgerEntryView(entry LedgerEntry) LedgerEntryView {
	return LedgerEntryView{
		LedgerEntry:    entry,
		DisplayBalance: entry.BalanceAfter,
	}
}
