package service

import (
	"context"

	auditdomain "github.com/smallbiznis/donorbook/internal/audit/domain"
	ledgerdomain "github.com/smallbiznis/donorbook/internal/ledger/domain"
	"github.com/smallbiznis/donorbook/internal/observability/logger"
	transactiondomain "github.com/smallbiznis/donorbook/internal/transaction/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func (s *Service) Create(ctx context.Context, req transactiondomain.CreateTransactionRequest) (transactiondomain.CreateTransactionResult, error) {
	draft, err := buildTransaction(req)
	if err != nil {
		return transactiondomain.CreateTransactionResult{}, err
	}
	effects, err := draft.Effects()
	if err != nil {
		return transactiondomain.CreateTransactionResult{}, err
	}
	accounts := ledgerdomain.AccountsOf(effects)

	var created transactiondomain.Transaction
	var provisional []ledgerdomain.LedgerEntry
	err = s.withRetry(ctx, "create", func() error {
		created = draft
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			stage, err := s.openStage(ctx, tx, accounts)
			if err != nil {
				return err
			}

			if err := s.assignIdentity(ctx, tx, &created); err != nil {
				return err
			}
			now := s.now()
			created.CreatedAt = now
			created.UpdatedAt = now
			if err := s.repo.Insert(ctx, tx, &created); err != nil {
				return err
			}

			provisional = stage.post(s, created.ID, created.Date, ledgerdomain.EntryTypeProvisional, effects, now)
			return s.commitStage(ctx, tx, stage, now)
		})
	})
	if err != nil {
		return transactiondomain.CreateTransactionResult{}, err
	}

	log := logger.WithTransaction(logger.WithContext(ctx, s.log), created.ID, created.SequenceNumber)
	s.obsMetrics.RecordTransaction(ctx, "create")
	s.obsMetrics.RecordLedgerEntries(ctx, string(ledgerdomain.EntryTypeProvisional), len(provisional))
	s.audit(ctx, auditdomain.ActionTransactionCreated, created.ID, map[string]any{
		"sequence_number":    created.SequenceNumber,
		"kind":               string(created.Kind),
		"transfer_direction": string(created.TransferDirection),
		"account":            string(created.Account),
		"amount":             created.Amount.String(),
		"date":               created.Date.Format(transactiondomain.DateLayout),
		"metadata":           map[string]any(created.Metadata),
	})

	result := transactiondomain.CreateTransactionResult{
		ID:             created.ID,
		SequenceNumber: created.SequenceNumber,
	}
	result.LedgerRebuilt, result.Warning = s.rebuildAfterWrite(ctx, accounts)

	log.Info("transaction created",
		zap.String("kind", string(created.Kind)),
		zap.String("amount", created.Amount.String()),
		zap.Bool("ledger_rebuilt", result.LedgerRebuilt),
	)
	return result, nil
}
