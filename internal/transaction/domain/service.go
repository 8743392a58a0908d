package domain

import (
	"context"

	"github.com/shopspring/decimal"
	ledgerdomain "github.com/smallbiznis/donorbook/internal/ledger/domain"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

type CreateTransactionRequest struct {
	Date              string
	Kind              string
	TransferDirection string
	Account           string
	Amount            decimal.Decimal
	Description       string
	Category          string
	Subcategory       string
	PaymentMethod     string
	Metadata          map[string]any
}

type CreateTransactionResult struct {
	ID             string `json:"id"`
	SequenceNumber string `json:"sequence_number"`
	LedgerRebuilt  bool   `json:"ledger_rebuilt"`
	Warning        string `json:"warning,omitempty"`
}

// UpdateTransactionRequest is a partial update. Nil fields are left unchanged.
type UpdateTransactionRequest struct {
	Date              *string
	Kind              *string
	TransferDirection *string
	Account           *string
	Amount            *decimal.Decimal
	Description       *string
	Category          *string
	Subcategory       *string
	PaymentMethod     *string
	Metadata          map[string]any
}

func (r UpdateTransactionRequest) IsEmpty() bool {
	return r.Date == nil &&
		r.Kind == nil &&
		r.TransferDirection == nil &&
		r.Account == nil &&
		r.Amount == nil &&
		r.Description == nil &&
		r.Category == nil &&
		r.Subcategory == nil &&
		r.PaymentMethod == nil &&
		r.Metadata == nil
}

type UpdateTransactionResult struct {
	ID             string                     `json:"id"`
	PreviousID     string                     `json:"previous_id,omitempty"`
	SequenceNumber string                     `json:"sequence_number"`
	Replaced       bool                       `json:"replaced"`
	LedgerRebuilt  bool                       `json:"ledger_rebuilt"`
	Warning        string                     `json:"warning,omitempty"`
	Reversals      []ledgerdomain.LedgerEntry `json:"reversals,omitempty"`
}

type DeleteTransactionResult struct {
	DeletedID       string                `json:"deleted_id"`
	UpdatedBalances ledgerdomain.Balances `json:"updated_balances"`
	LedgerRebuilt   bool                  `json:"ledger_rebuilt"`
	Warning         string                `json:"warning,omitempty"`
}

type ListTransactionsRequest struct {
	Kind     string
	Account  string
	DateFrom string
	DateTo   string
	Limit    int
}

type Service interface {
	Create(ctx context.Context, req CreateTransactionRequest) (CreateTransactionResult, error)
	List(ctx context.Context, req ListTransactionsRequest) ([]Transaction, error)
	// Get looks a transaction up by id, then by sequence number.
	Get(ctx context.Context, ref string) (Transaction, error)
	Update(ctx context.Context, ref string, req UpdateTransactionRequest) (UpdateTransactionResult, error)
	Delete(ctx context.Context, ref string) (DeleteTransactionResult, error)
}
