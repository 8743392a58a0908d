package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Kind classifies a transaction.
type Kind string

const (
	KindExpense  Kind = "expense"
	KindIncome   Kind = "income"
	KindTransfer Kind = "transfer"
)

func ParseKind(value string) (Kind, error) {
	switch kind := Kind(strings.ToLower(strings.TrimSpace(value))); kind {
	case KindExpense, KindIncome, KindTransfer:
		return kind, nil
	default:
		return "", ErrInvalidKind
	}
}

// TransferDirection says which way money moves between bank and cash.
type TransferDirection string

const (
	// DirectionWithdrawal moves money from bank to cash.
	DirectionWithdrawal TransferDirection = "withdrawal"
	// DirectionDeposit moves money from cash to bank.
	DirectionDeposit TransferDirection = "deposit"
)

func ParseTransferDirection(value string) (TransferDirection, error) {
	switch direction := TransferDirection(strings.ToLower(strings.TrimSpace(value))); direction {
	case DirectionWithdrawal, DirectionDeposit:
		return direction, nil
	default:
		return "", ErrInvalidTransferDirection
	}
}

func ParseAccount(value string) (Account, error) {
	account := Account(strings.ToLower(strings.TrimSpace(value)))
	if !account.Valid() {
		return "", ErrInvalidAccount
	}
	return account, nil
}

// Posting is the part of a transaction that decides its balance effects.
type Posting struct {
	Kind              Kind
	TransferDirection TransferDirection
	Account           Account
	Amount            decimal.Decimal
}

// Resolve maps a posting to its signed per-account effects. Anything it does not
// recognise is rejected rather than defaulted.
func Resolve(p Posting) ([]Effect, error) {
	if !p.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	switch p.Kind {
	case KindExpense, KindIncome:
		if p.TransferDirection != "" {
			return nil, ErrInvalidTransferDirection
		}
		if !p.Account.Valid() {
			return nil, ErrInvalidAccount
		}
		amount := p.Amount
		if p.Kind == KindExpense {
			amount = amount.Neg()
		}
		return []Effect{{Account: p.Account, Amount: amount}}, nil
	case KindTransfer:
		switch p.TransferDirection {
		case DirectionWithdrawal:
			return []Effect{
				{Account: AccountBank, Amount: p.Amount.Neg()},
				{Account: AccountCash, Amount: p.Amount},
			}, nil
		case DirectionDeposit:
			return []Effect{
				{Account: AccountCash, Amount: p.Amount.Neg()},
				{Account: AccountBank, Amount: p.Amount},
			}, nil
		default:
			return nil, ErrInvalidTransferDirection
		}
	default:
		return nil, ErrInvalidKind
	}
}

// Reverse negates every effect.
func Reverse(effects []Effect) []Effect {
	reversed := make([]Effect, 0, len(effects))
	for _, effect := range effects {
		reversed = append(reversed, Effect{Account: effect.Account, Amount: effect.Amount.Neg()})
	}
	return reversed
}

// AccountsOf lists the distinct accounts touched by the effects, sorted.
func AccountsOf(effects ...[]Effect) []Account {
	seen := map[Account]struct{}{}
	for _, group := range effects {
		for _, effect := range group {
			seen[effect.Account] = struct{}{}
		}
	}
	accounts := make([]Account, 0, len(seen))
	for _, account := range Accounts() {
		if _, ok := seen[account]; ok {
			accounts = append(accounts, account)
		}
	}
	return accounts
}
