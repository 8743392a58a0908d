package server

import (
	"strconv"
	"strings"
	"time"

	transactiondomain "github.com/smallbiznis/donorbook/internal/transaction/domain"
)

func parseOptionalInt(value string) (int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, nil
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, transactiondomain.ErrInvalidLimit
	}
	return parsed, nil
}

func parseOptionalDate(value string) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := transactiondomain.ParseDate(trimmed)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func formatDate(value time.Time) string {
	return value.UTC().Format(transactiondomain.DateLayout)
}
