package service

import (
	"context"
	"strings"
	"time"

	ledgerdomain "github.com/smallbiznis/donorbook/internal/ledger/domain"
	"github.com/smallbiznis/donorbook/internal/sequence"
	transactiondomain "github.com/smallbiznis/donorbook/internal/transaction/domain"
	"gorm.io/gorm"
)

func (s *Service) List(ctx context.Context, req transactiondomain.ListTransactionsRequest) ([]transactiondomain.Transaction, error) {
	filter := transactiondomain.ListFilter{}

	if strings.TrimSpace(req.Kind) != "" {
		kind, err := ledgerdomain.ParseKind(req.Kind)
		if err != nil {
			return nil, err
		}
		filter.Kind = kind
	}
	if strings.TrimSpace(req.Account) != "" {
		account, err := ledgerdomain.ParseAccount(req.Account)
		if err != nil {
			return nil, err
		}
		filter.Account = account
	}

	var err error
	if filter.DateFrom, err = parseOptionalDate(req.DateFrom); err != nil {
		return nil, err
	}
	if filter.DateTo, err = parseOptionalDate(req.DateTo); err != nil {
		return nil, err
	}
	if filter.DateFrom != nil && filter.DateTo != nil && filter.DateFrom.After(*filter.DateTo) {
		return nil, transactiondomain.ErrInvalidDateRange
	}

	switch {
	case req.Limit < 0:
		return nil, transactiondomain.ErrInvalidLimit
	case req.Limit == 0:
		filter.Limit = transactiondomain.DefaultListLimit
	case req.Limit > transactiondomain.MaxListLimit:
		filter.Limit = transactiondomain.MaxListLimit
	default:
		filter.Limit = req.Limit
	}

	return s.repo.List(ctx, s.db, filter)
}

func (s *Service) Get(ctx context.Context, ref string) (transactiondomain.Transaction, error) {
	transaction, err := s.lookup(ctx, s.db, ref, false)
	if err != nil {
		return transactiondomain.Transaction{}, err
	}
	return *transaction, nil
}

// lookup resolves ref as an id first and as a sequence number second.
func (s *Service) lookup(ctx context.Context, db *gorm.DB, ref string, forUpdate bool) (*transactiondomain.Transaction, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, transactiondomain.ErrInvalidID
	}

	transaction, err := s.repo.FindByID(ctx, db, ref, forUpdate)
	if err != nil {
		return nil, err
	}
	if transaction == nil && sequence.IsSequenceNumber(ref) {
		transaction, err = s.repo.FindBySequenceNumber(ctx, db, ref)
		if err != nil {
			return nil, err
		}
		if transaction != nil && forUpdate {
			transaction, err = s.repo.FindByID(ctx, db, transaction.ID, true)
			if err != nil {
				return nil, err
			}
		}
	}
	if transaction == nil {
		return nil, transactiondomain.ErrNotFound
	}
	return transaction, nil
}

func parseOptionalDate(value string) (*time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	date, err := transactiondomain.ParseDate(value)
	if err != nil {
		return nil, err
	}
	return &date, nil
}
