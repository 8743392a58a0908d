package service

import (
	"context"

	"github.com/shopspring/decimal"
	ledgerdomain "github.com/smallbiznis/donorbook/internal/ledger/domain"
	"go.uber.org/zap"
)

// Verify compares every cached balance with the running balance of the newest ledger
// entry and counts entries written by the optimistic path that a rebuild has not
// replaced yet. It never writes.
func (s *Service) Verify(ctx context.Context) (ledgerdomain.VerifyResult, error) {
	accounts := ledgerdomain.Accounts()
	cached, err := s.repo.LoadBalances(ctx, s.db, accounts, false)
	if err != nil {
		return ledgerdomain.VerifyResult{}, err
	}

	result := ledgerdomain.VerifyResult{
		Consistent: true,
		Accounts:   make([]ledgerdomain.AccountCheck, 0, len(accounts)),
	}
	for _, account := range accounts {
		check := ledgerdomain.AccountCheck{
			Account:       account,
			CachedBalance: cached[account],
			LedgerBalance: decimal.Zero,
		}

		latest, err := s.repo.LatestEntry(ctx, s.db, account)
		if err != nil {
			return ledgerdomain.VerifyResult{}, err
		}
		if latest != nil {
			check.LedgerBalance = latest.BalanceAfter
		}

		if check.ProvisionalEntries, err = s.repo.CountEntries(ctx, s.db, account, ledgerdomain.EntryTypeProvisional); err != nil {
			return ledgerdomain.VerifyResult{}, err
		}
		if check.ReversalEntries, err = s.repo.CountEntries(ctx, s.db, account, ledgerdomain.EntryTypeReversal); err != nil {
			return ledgerdomain.VerifyResult{}, err
		}

		if !check.Settled() {
			result.Consistent = false
			s.obsMetrics.RecordBalanceDrift(ctx, string(account))
			s.log.Warn("ledger not settled",
				zap.String("account", string(account)),
				zap.String("cached_balance", check.CachedBalance.String()),
				zap.String("ledger_balance", check.LedgerBalance.String()),
				zap.Int64("provisional_entries", check.ProvisionalEntries),
				zap.Int64("reversal_entries", check.ReversalEntries),
			)
		}
		result.Accounts = append(result.Accounts, check)
	}
	return result, nil
}
