package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidAmount            = errors.New("invalid_amount")
	ErrInvalidKind              = errors.New("invalid_kind")
	ErrInvalidTransferDirection = errors.New("invalid_transfer_direction")
	ErrInvalidAccount           = errors.New("invalid_account")
	ErrInvalidDateRange         = errors.New("invalid_date_range")
	ErrInvalidLimit             = errors.New("invalid_limit")
	ErrRebuildLockTimeout       = errors.New("rebuild_lock_timeout")
)

// RebuildError reports a failed rebuild together with the accounts it covered.
type RebuildError struct {
	Accounts []Account
	Err      error
}

func (e *RebuildError) Error() string {
	names := make([]string, 0, len(e.Accounts))
	for _, account := range e.Accounts {
		names = append(names, string(account))
	}
	return fmt.Sprintf("ledger rebuild failed for [%s]: %v", strings.Join(names, ","), e.Err)
}

func (e *RebuildError) Unwrap() error { return e.Err }

// IsValidationError reports whether err is caused by bad caller input.
func IsValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidKind),
		errors.Is(err, ErrInvalidTransferDirection),
		errors.Is(err, ErrInvalidAccount),
		errors.Is(err, ErrInvalidDateRange),
		errors.Is(err, ErrInvalidLimit):
		return true
	default:
		return false
	}
}
