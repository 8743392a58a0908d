package service

import (
	"context"
	"sort"

	auditdomain "github.com/smallbiznis/donorbook/internal/audit/domain"
	ledgerdomain "github.com/smallbiznis/donorbook/internal/ledger/domain"
	"github.com/smallbiznis/donorbook/internal/observability/logger"
	transactiondomain "github.com/smallbiznis/donorbook/internal/transaction/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// revision is what one committed Update did.
type revision struct {
	original    transactiondomain.Transaction
	replacement *transactiondomain.Transaction
	details     map[string]any
	reversals   []ledgerdomain.LedgerEntry
	provisional []ledgerdomain.LedgerEntry
}

// Update edits non-financial fields in place. A change to any field that moves money
// voids the original and records a replacement instead, so history is never rewritten.
func (s *Service) Update(ctx context.Context, ref string, req transactiondomain.UpdateTransactionRequest) (transactiondomain.UpdateTransactionResult, error) {
	if req.IsEmpty() {
		return transactiondomain.UpdateTransactionResult{}, transactiondomain.ErrEmptyPatch
	}

	var rev revision
	err := s.withRetry(ctx, "update", func() error {
		rev = revision{}
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			current, err := s.lookup(ctx, tx, ref, true)
			if err != nil {
				return err
			}
			if current.Voided {
				return transactiondomain.ErrTransactionVoided
			}
			rev.original = *current

			revised, err := applyPatch(*current, req)
			if err != nil {
				return err
			}

			if revised.SameFinancials(*current) {
				rev.details = detailUpdates(revised, req)
				if len(rev.details) == 0 {
					return nil
				}
				rev.details["updated_at"] = s.now()
				return s.repo.UpdateFields(ctx, tx, current.ID, rev.details)
			}

			return s.replace(ctx, tx, &rev, revised)
		})
	})
	if err != nil {
		return transactiondomain.UpdateTransactionResult{}, err
	}

	if rev.replacement == nil {
		return s.finishInPlace(ctx, rev), nil
	}
	return s.finishReplacement(ctx, rev), nil
}

// replace voids the original, reverses its effects and inserts the replacement.
// All reads happen before the first write.
func (s *Service) replace(ctx context.Context, tx *gorm.DB, rev *revision, revised transactiondomain.Transaction) error {
	original := rev.original
	oldEffects, err := original.Effects()
	if err != nil {
		return err
	}
	newEffects, err := revised.Effects()
	if err != nil {
		return err
	}

	stage, err := s.openStage(ctx, tx, ledgerdomain.AccountsOf(oldEffects, newEffects))
	if err != nil {
		return err
	}

	replacement := revised
	if err := s.assignIdentity(ctx, tx, &replacement); err != nil {
		return err
	}
	now := s.now()
	supersedes := original.ID
	replacement.Supersedes = &supersedes
	replacement.SupersededBy = nil
	replacement.Voided = false
	replacement.VoidReason = ""
	replacement.VoidedAt = nil
	replacement.CreatedAt = now
	replacement.UpdatedAt = now

	if err := s.repo.MarkVoided(ctx, tx, original.ID, transactiondomain.VoidReasonRevision, replacement.ID, now); err != nil {
		return err
	}
	rev.reversals = stage.post(s, original.ID, original.Date, ledgerdomain.EntryTypeReversal, ledgerdomain.Reverse(oldEffects), now)

	if err := s.repo.Insert(ctx, tx, &replacement); err != nil {
		return err
	}
	rev.provisional = stage.post(s, replacement.ID, replacement.Date, ledgerdomain.EntryTypeProvisional, newEffects, now)

	if err := s.commitStage(ctx, tx, stage, now); err != nil {
		return err
	}
	rev.replacement = &replacement
	return nil
}

func (s *Service) finishInPlace(ctx context.Context, rev revision) transactiondomain.UpdateTransactionResult {
	fields := make([]string, 0, len(rev.details))
	for field := range rev.details {
		if field != "updated_at" {
			fields = append(fields, field)
		}
	}
	sort.Strings(fields)

	if len(fields) > 0 {
		s.obsMetrics.RecordTransaction(ctx, "update")
		s.audit(ctx, auditdomain.ActionTransactionUpdated, rev.original.ID, map[string]any{
			"sequence_number": rev.original.SequenceNumber,
			"fields":          fields,
			"replaced":        false,
		})
	}

	logger.WithTransaction(logger.WithContext(ctx, s.log), rev.original.ID, rev.original.SequenceNumber).
		Info("transaction updated in place", zap.Strings("fields", fields))

	return transactiondomain.UpdateTransactionResult{
		ID:             rev.original.ID,
		SequenceNumber: rev.original.SequenceNumber,
		Replaced:       false,
		LedgerRebuilt:  false,
	}
}

func (s *Service) finishReplacement(ctx context.Context, rev revision) transactiondomain.UpdateTransactionResult {
	original, replacement := rev.original, *rev.replacement

	s.obsMetrics.RecordTransaction(ctx, "revise")
	s.obsMetrics.RecordLedgerEntries(ctx, string(ledgerdomain.EntryTypeReversal), len(rev.reversals))
	s.obsMetrics.RecordLedgerEntries(ctx, string(ledgerdomain.EntryTypeProvisional), countByType(rev.provisional, ledgerdomain.EntryTypeProvisional))

	s.audit(ctx, auditdomain.ActionTransactionReversed, original.ID, map[string]any{
		"sequence_number": original.SequenceNumber,
		"void_reason":     transactiondomain.VoidReasonRevision,
		"superseded_by":   replacement.ID,
		"reversals":       reversalRecords(rev.reversals),
	})
	s.audit(ctx, auditdomain.ActionTransactionUpdated, replacement.ID, map[string]any{
		"sequence_number": replacement.SequenceNumber,
		"supersedes":      original.ID,
		"replaced":        true,
		"kind":            string(replacement.Kind),
		"amount":          replacement.Amount.String(),
		"date":            replacement.Date.Format(transactiondomain.DateLayout),
	})

	result := transactiondomain.UpdateTransactionResult{
		ID:             replacement.ID,
		PreviousID:     original.ID,
		SequenceNumber: replacement.SequenceNumber,
		Replaced:       true,
		Reversals:      rev.reversals,
	}
	result.LedgerRebuilt, result.Warning = s.rebuildAfterWrite(ctx, nil)

	logger.WithTransaction(logger.WithContext(ctx, s.log), replacement.ID, replacement.SequenceNumber).
		Info("transaction revised",
			zap.String("previous_id", original.ID),
			zap.Int("reversal_entries", len(rev.reversals)),
			zap.Bool("ledger_rebuilt", result.LedgerRebuilt),
		)
	return result
}

// Delete removes a transaction and its ledger rows, then rebuilds every account.
func (s *Service) Delete(ctx context.Context, ref string) (transactiondomain.DeleteTransactionResult, error) {
	var deleted transactiondomain.Transaction
	err := s.withRetry(ctx, "delete", func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			current, err := s.lookup(ctx, tx, ref, true)
			if err != nil {
				return err
			}

			var effects []ledgerdomain.Effect
			if !current.Voided {
				if effects, err = current.Effects(); err != nil {
					return err
				}
			}
			stage, err := s.openStage(ctx, tx, ledgerdomain.AccountsOf(effects))
			if err != nil {
				return err
			}

			if _, err := s.ledgerRepo.DeleteByTransaction(ctx, tx, current.ID); err != nil {
				return err
			}
			rows, err := s.repo.Delete(ctx, tx, current.ID)
			if err != nil {
				return err
			}
			if rows == 0 {
				return transactiondomain.ErrNotFound
			}

			stage.adjust(ledgerdomain.Reverse(effects))
			if err := s.commitStage(ctx, tx, stage, s.now()); err != nil {
				return err
			}
			deleted = *current
			return nil
		})
	})
	if err != nil {
		return transactiondomain.DeleteTransactionResult{}, err
	}

	s.obsMetrics.RecordTransaction(ctx, "delete")
	s.audit(ctx, auditdomain.ActionTransactionDeleted, deleted.ID, map[string]any{
		"sequence_number": deleted.SequenceNumber,
		"kind":            string(deleted.Kind),
		"amount":          deleted.Amount.String(),
		"date":            deleted.Date.Format(transactiondomain.DateLayout),
		"voided":          deleted.Voided,
	})

	result := transactiondomain.DeleteTransactionResult{DeletedID: deleted.ID}
	result.LedgerRebuilt, result.Warning = s.rebuildAfterWrite(ctx, nil)

	balances, err := s.ledgerSvc.Balances(ctx)
	if err != nil {
		s.log.Warn("failed to read balances after delete", zap.Error(err))
		if result.Warning == "" {
			result.Warning = "transaction deleted; current balances could not be read"
		}
	}
	result.UpdatedBalances = balances

	logger.WithTransaction(logger.WithContext(ctx, s.log), deleted.ID, deleted.SequenceNumber).
		Info("transaction deleted", zap.Bool("ledger_rebuilt", result.LedgerRebuilt))
	return result, nil
}

func reversalRecords(entries []ledgerdomain.LedgerEntry) []map[string]any {
	records := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		records = append(records, map[string]any{
			"entry_id":       entry.ID.String(),
			"account":        string(entry.Account),
			"change_amount":  entry.ChangeAmount.String(),
			"balance_before": entry.BalanceBefore.String(),
			"balance_after":  entry.BalanceAfter.String(),
			"sequence":       entry.Sequence,
		})
	}
	return records
}
