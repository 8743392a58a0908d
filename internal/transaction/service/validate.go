package service

import (
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	ledgerdomain "github.com/smallbiznis/donorbook/internal/ledger/domain"
	transactiondomain "github.com/smallbiznis/donorbook/internal/transaction/domain"
	"gorm.io/datatypes"
)

const (
	maxDescriptionLength = 1000
	maxLabelLength       = 128
	maxAmountScale       = 2
)

func buildTransaction(req transactiondomain.CreateTransactionRequest) (transactiondomain.Transaction, error) {
	date, err := transactiondomain.ParseDate(req.Date)
	if err != nil {
		return transactiondomain.Transaction{}, err
	}
	kind, err := ledgerdomain.ParseKind(req.Kind)
	if err != nil {
		return transactiondomain.Transaction{}, err
	}
	direction, err := parseOptionalDirection(req.TransferDirection)
	if err != nil {
		return transactiondomain.Transaction{}, err
	}
	// transfers touch both accounts; a sent account is dropped unread
	var account ledgerdomain.Account
	if kind != ledgerdomain.KindTransfer {
		if account, err = parseOptionalAccount(req.Account); err != nil {
			return transactiondomain.Transaction{}, err
		}
	}
	if err := validateAmount(req.Amount); err != nil {
		return transactiondomain.Transaction{}, err
	}

	t := transactiondomain.Transaction{
		Date:              date,
		Kind:              kind,
		TransferDirection: direction,
		Account:           account,
		Amount:            req.Amount,
	}

	if t.Description, err = normalizeText(req.Description, maxDescriptionLength); err != nil {
		return transactiondomain.Transaction{}, err
	}
	if t.Category, err = normalizeText(req.Category, maxLabelLength); err != nil {
		return transactiondomain.Transaction{}, err
	}
	if t.Subcategory, err = normalizeText(req.Subcategory, maxLabelLength); err != nil {
		return transactiondomain.Transaction{}, err
	}
	if t.PaymentMethod, err = normalizeText(req.PaymentMethod, maxLabelLength); err != nil {
		return transactiondomain.Transaction{}, err
	}
	if len(req.Metadata) > 0 {
		t.Metadata = datatypes.JSONMap(req.Metadata)
	}

	if _, err := t.Effects(); err != nil {
		return transactiondomain.Transaction{}, err
	}
	return t, nil
}

// applyPatch merges req into current. The result is validated as a whole, so a patch
// that only changes kind must also supply whatever the new kind requires.
func applyPatch(current transactiondomain.Transaction, req transactiondomain.UpdateTransactionRequest) (transactiondomain.Transaction, error) {
	revised := current

	if req.Date != nil {
		date, err := transactiondomain.ParseDate(*req.Date)
		if err != nil {
			return transactiondomain.Transaction{}, err
		}
		revised.Date = date
	}
	if req.Kind != nil {
		kind, err := ledgerdomain.ParseKind(*req.Kind)
		if err != nil {
			return transactiondomain.Transaction{}, err
		}
		revised.Kind = kind
	}
	if req.TransferDirection != nil {
		direction, err := parseOptionalDirection(*req.TransferDirection)
		if err != nil {
			return transactiondomain.Transaction{}, err
		}
		revised.TransferDirection = direction
	}
	if req.Account != nil && revised.Kind != ledgerdomain.KindTransfer {
		account, err := parseOptionalAccount(*req.Account)
		if err != nil {
			return transactiondomain.Transaction{}, err
		}
		revised.Account = account
	}
	if req.Amount != nil {
		if err := validateAmount(*req.Amount); err != nil {
			return transactiondomain.Transaction{}, err
		}
		revised.Amount = *req.Amount
	}

	if revised.Kind == ledgerdomain.KindTransfer {
		revised.Account = ""
	} else if req.TransferDirection == nil {
		revised.TransferDirection = ""
	}

	var err error
	if req.Description != nil {
		if revised.Description, err = normalizeText(*req.Description, maxDescriptionLength); err != nil {
			return transactiondomain.Transaction{}, err
		}
	}
	if req.Category != nil {
		if revised.Category, err = normalizeText(*req.Category, maxLabelLength); err != nil {
			return transactiondomain.Transaction{}, err
		}
	}
	if req.Subcategory != nil {
		if revised.Subcategory, err = normalizeText(*req.Subcategory, maxLabelLength); err != nil {
			return transactiondomain.Transaction{}, err
		}
	}
	if req.PaymentMethod != nil {
		if revised.PaymentMethod, err = normalizeText(*req.PaymentMethod, maxLabelLength); err != nil {
			return transactiondomain.Transaction{}, err
		}
	}
	if req.Metadata != nil {
		revised.Metadata = datatypes.JSONMap(req.Metadata)
	}

	if _, err := revised.Effects(); err != nil {
		return transactiondomain.Transaction{}, err
	}
	return revised, nil
}

// detailUpdates lists the non-financial columns a patch touches.
func detailUpdates(revised transactiondomain.Transaction, req transactiondomain.UpdateTransactionRequest) map[string]any {
	fields := map[string]any{}
	if req.Description != nil {
		fields["description"] = revised.Description
	}
	if req.Category != nil {
		fields["category"] = revised.Category
	}
	if req.Subcategory != nil {
		fields["subcategory"] = revised.Subcategory
	}
	if req.PaymentMethod != nil {
		fields["payment_method"] = revised.PaymentMethod
	}
	if req.Metadata != nil {
		fields["metadata"] = revised.Metadata
	}
	return fields
}

func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return transactiondomain.ErrInvalidAmount
	}
	if -amount.Exponent() > maxAmountScale && !amount.Equal(amount.Round(maxAmountScale)) {
		return transactiondomain.ErrInvalidAmount
	}
	return nil
}

func parseOptionalDirection(value string) (ledgerdomain.TransferDirection, error) {
	if strings.TrimSpace(value) == "" {
		return "", nil
	}
	return ledgerdomain.ParseTransferDirection(value)
}

func parseOptionalAccount(value string) (ledgerdomain.Account, error) {
	if strings.TrimSpace(value) == "" {
		return "", nil
	}
	return ledgerdomain.ParseAccount(value)
}

func normalizeText(value string, limit int) (string, error) {
	value = strings.TrimSpace(value)
	if !utf8.ValidString(value) || utf8.RuneCountInString(value) > limit {
		return "", transactiondomain.ErrInvalidText
	}
	return value, nil
}
