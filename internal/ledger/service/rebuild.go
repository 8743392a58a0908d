package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/donorbook/internal/audit/domain"
	ledgerdomain "github.com/smallbiznis/donorbook/internal/ledger/domain"
	"github.com/smallbiznis/donorbook/internal/ledger/lock"
	"github.com/smallbiznis/donorbook/internal/observability/tracing"
	transactiondomain "github.com/smallbiznis/donorbook/internal/transaction/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	rebuildLockPrefix = "donorbook:ledger:rebuild:"

	scopeFull    = "full"
	scopeAccount = "account"
)

func (s *Service) Rebuild(ctx context.Context, accounts []ledgerdomain.Account) (ledgerdomain.RebuildResult, error) {
	scope, err := normalizeAccounts(accounts)
	if err != nil {
		return ledgerdomain.RebuildResult{}, err
	}
	label := scopeAccount
	if len(scope) == len(ledgerdomain.Accounts()) {
		label = scopeFull
	}
	return s.rebuild(ctx, scope, label)
}

func (s *Service) RebuildAll(ctx context.Context) (ledgerdomain.RebuildResult, error) {
	return s.rebuild(ctx, ledgerdomain.Accounts(), scopeFull)
}

func (s *Service) rebuild(ctx context.Context, scope []ledgerdomain.Account, label string) (ledgerdomain.RebuildResult, error) {
	start := time.Now()
	ctx, span := tracing.Tracer("ledger").Start(ctx, "ledger.rebuild")
	defer span.End()
	span.SetAttributes(tracing.SafeAttributes(
		attribute.String("ledger.scope", label),
		attribute.StringSlice("ledger.accounts", accountNames(scope)),
	)...)

	fail := func(outcome string, err error) (ledgerdomain.RebuildResult, error) {
		span.RecordError(tracing.SafeError(err))
		span.SetStatus(codes.Error, outcome)
		s.obsMetrics.RecordRebuild(ctx, label, outcome, time.Since(start))
		s.log.Warn("ledger rebuild failed",
			zap.Strings("accounts", accountNames(scope)),
			zap.String("outcome", outcome),
			zap.Error(err),
		)
		return ledgerdomain.RebuildResult{}, &ledgerdomain.RebuildError{Accounts: scope, Err: err}
	}

	cfg := s.config.Get()
	release, err := s.locker.Acquire(ctx, lockKeys(scope), lock.Options{
		TTL:  cfg.Lock.TTL,
		Wait: cfg.Lock.Wait,
	})
	if err != nil {
		if errors.Is(err, lock.ErrLockTimeout) {
			return fail("lock_timeout", fmt.Errorf("%w: %v", ledgerdomain.ErrRebuildLockTimeout, err))
		}
		return fail("lock_error", err)
	}
	defer release()

	var result ledgerdomain.RebuildResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var replayErr error
		result, replayErr = s.replay(ctx, tx, scope, cfg.Rebuild.BatchSize)
		return replayErr
	})
	if err != nil {
		return fail("failure", err)
	}

	elapsed := time.Since(start)
	s.obsMetrics.RecordRebuild(ctx, label, "success", elapsed)
	s.obsMetrics.RecordLedgerEntries(ctx, string(ledgerdomain.EntryTypePosting), result.EntriesWritten)
	span.SetAttributes(
		attribute.Int("ledger.transactions_processed", result.TransactionsProcessed),
		attribute.Int("ledger.entries_written", result.EntriesWritten),
	)
	s.log.Info("ledger rebuilt",
		zap.Strings("accounts", accountNames(scope)),
		zap.Int("transactions_processed", result.TransactionsProcessed),
		zap.Int("entries_written", result.EntriesWritten),
		zap.String("cash_balance", result.FinalBalances.Cash.String()),
		zap.String("bank_balance", result.FinalBalances.Bank.String()),
		zap.Duration("elapsed", elapsed),
	)

	if s.auditSvc != nil {
		_ = s.auditSvc.AuditLog(ctx, auditdomain.ActionLedgerRebuilt, auditdomain.TargetLedger, label, map[string]any{
			"accounts":               accountNames(scope),
			"transactions_processed": result.TransactionsProcessed,
			"entries_written":        result.EntriesWritten,
			"cash_balance":           result.FinalBalances.Cash.String(),
			"bank_balance":           result.FinalBalances.Bank.String(),
		})
	}

	return result, nil
}

// replay rewrites the ledger of scope from the transaction log. It must run inside one
// DB transaction so readers never observe a partially rebuilt ledger.
func (s *Service) replay(ctx context.Context, tx *gorm.DB, scope []ledgerdomain.Account, batchSize int) (ledgerdomain.RebuildResult, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	result := ledgerdomain.RebuildResult{Accounts: scope}

	if err := s.repo.DeleteByAccounts(ctx, tx, scope); err != nil {
		return result, fmt.Errorf("clear ledger entries: %w", err)
	}

	inScope := make(map[ledgerdomain.Account]bool, len(scope))
	balances := make(map[ledgerdomain.Account]decimal.Decimal, len(scope))
	for _, account := range scope {
		inScope[account] = true
		balances[account] = decimal.Zero
	}

	now := s.now()
	var sequence int64
	var cursor *transactiondomain.ChronologicalCursor
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		batch, err := s.transactions.ListChronological(ctx, tx, cursor, batchSize)
		if err != nil {
			return result, fmt.Errorf("load transactions: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		entries := make([]ledgerdomain.LedgerEntry, 0, len(batch))
		for _, transaction := range batch {
			effects, err := transaction.Effects()
			if err != nil {
				return result, fmt.Errorf("resolve transaction %s: %w", transaction.ID, err)
			}

			touched := false
			for _, effect := range effects {
				if !inScope[effect.Account] {
					continue
				}
				touched = true
				sequence++
				before := balances[effect.Account]
				after := before.Add(effect.Amount)
				balances[effect.Account] = after
				entries = append(entries, ledgerdomain.LedgerEntry{
					ID:            s.genID.Generate(),
					TransactionID: transaction.ID,
					Account:       effect.Account,
					EntryType:     ledgerdomain.EntryTypePosting,
					ChangeAmount:  effect.Amount,
					BalanceBefore: before,
					BalanceAfter:  after,
					Date:          transaction.Date,
					Sequence:      sequence,
					CreatedAt:     now,
				})
			}
			if touched {
				result.TransactionsProcessed++
			}
		}

		if err := s.repo.InsertEntries(ctx, tx, entries); err != nil {
			return result, fmt.Errorf("write ledger entries: %w", err)
		}
		result.EntriesWritten += len(entries)

		last := transactiondomain.CursorOf(batch[len(batch)-1])
		cursor = &last
		if len(batch) < batchSize {
			break
		}
	}

	if err := s.repo.UpsertBalances(ctx, tx, balances, now); err != nil {
		return result, fmt.Errorf("write balances: %w", err)
	}

	all, err := s.repo.LoadBalances(ctx, tx, ledgerdomain.Accounts(), false)
	if err != nil {
		return result, err
	}
	result.FinalBalances = toBalances(all)
	return result, nil
}

func normalizeAccounts(accounts []ledgerdomain.Account) ([]ledgerdomain.Account, error) {
	if len(accounts) == 0 {
		return nil, ledgerdomain.ErrInvalidAccount
	}
	seen := make(map[ledgerdomain.Account]struct{}, len(accounts))
	out := make([]ledgerdomain.Account, 0, len(accounts))
	for _, account := range accounts {
		if !account.Valid() {
			return nil, ledgerdomain.ErrInvalidAccount
		}
		if _, ok := seen[account]; ok {
			continue
		}
		seen[account] = struct{}{}
		out = append(out, account)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func lockKeys(accounts []ledgerdomain.Account) []string {
	keys := make([]string, 0, len(accounts))
	for _, account := range accounts {
		keys = append(keys, rebuildLockPrefix+string(account))
	}
	return keys
}

func accountNames(accounts []ledgerdomain.Account) []string {
	names := make([]string, 0, len(accounts))
	for _, account := range accounts {
		names = append(names, string(account))
	}
	return names
}
