package domain

import (
	"errors"

	ledgerdomain "github.com/smallbiznis/donorbook/internal/ledger/domain"
)

var (
	ErrInvalidAmount            = ledgerdomain.ErrInvalidAmount
	ErrInvalidKind              = ledgerdomain.ErrInvalidKind
	ErrInvalidTransferDirection = ledgerdomain.ErrInvalidTransferDirection
	ErrInvalidAccount           = ledgerdomain.ErrInvalidAccount
	ErrInvalidLimit             = ledgerdomain.ErrInvalidLimit
	ErrInvalidDateRange         = ledgerdomain.ErrInvalidDateRange

	ErrInvalidDate       = errors.New("invalid_date")
	ErrInvalidID         = errors.New("invalid_id")
	ErrInvalidText       = errors.New("invalid_text")
	ErrEmptyPatch        = errors.New("empty_patch")
	ErrTransactionVoided = errors.New("transaction_voided")
	ErrConflict          = errors.New("conflict")
	ErrNotFound          = errors.New("not_found")
)

// IsValidationError reports whether err is caused by bad caller input.
func IsValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidDate),
		errors.Is(err, ErrInvalidID),
		errors.Is(err, ErrInvalidText),
		errors.Is(err, ErrEmptyPatch),
		errors.Is(err, ErrTransactionVoided):
		return true
	default:
		return ledgerdomain.IsValidationError(err)
	}
}
