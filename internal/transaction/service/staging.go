package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	ledgerdomain "github.com/smallbiznis/donorbook/internal/ledger/domain"
	"gorm.io/gorm"
)

// ledgerStage accumulates the provisional ledger side of one write unit. It is loaded
// before any write so the unit performs all of its reads first.
type ledgerStage struct {
	balances  map[ledgerdomain.Account]decimal.Decimal
	sequences map[ledgerdomain.Account]int64
	entries   []ledgerdomain.LedgerEntry
}

func (s *Service) openStage(ctx context.Context, tx *gorm.DB, accounts []ledgerdomain.Account) (*ledgerStage, error) {
	balances, err := s.ledgerRepo.LoadBalances(ctx, tx, accounts, true)
	if err != nil {
		return nil, err
	}
	sequences, err := s.ledgerRepo.MaxSequences(ctx, tx, accounts)
	if err != nil {
		return nil, err
	}
	return &ledgerStage{balances: balances, sequences: sequences}, nil
}

// post appends one entry per effect and moves the staged balances.
func (st *ledgerStage) post(s *Service, transactionID string, date time.Time, entryType ledgerdomain.EntryType, effects []ledgerdomain.Effect, at time.Time) []ledgerdomain.LedgerEntry {
	posted := make([]ledgerdomain.LedgerEntry, 0, len(effects))
	for _, effect := range effects {
		before := st.balances[effect.Account]
		after := before.Add(effect.Amount)
		st.balances[effect.Account] = after
		st.sequences[effect.Account]++
		posted = append(posted, ledgerdomain.LedgerEntry{
			ID:            s.genID.Generate(),
			TransactionID: transactionID,
			Account:       effect.Account,
			EntryType:     entryType,
			ChangeAmount:  effect.Amount,
			BalanceBefore: before,
			BalanceAfter:  after,
			Date:          date,
			Sequence:      st.sequences[effect.Account],
			CreatedAt:     at,
		})
	}
	st.entries = append(st.entries, posted...)
	return posted
}

// adjust moves the staged balances without recording entries.
func (st *ledgerStage) adjust(effects []ledgerdomain.Effect) {
	for _, effect := range effects {
		st.balances[effect.Account] = st.balances[effect.Account].Add(effect.Amount)
	}
}

func (s *Service) commitStage(ctx context.Context, tx *gorm.DB, st *ledgerStage, at time.Time) error {
	if err := s.ledgerRepo.InsertEntries(ctx, tx, st.entries); err != nil {
		return err
	}
	return s.ledgerRepo.UpsertBalances(ctx, tx, st.balances, at)
}

func countByType(entries []ledgerdomain.LedgerEntry, entryType ledgerdomain.EntryType) int {
	n := 0
	for _, entry := range entries {
		if entry.EntryType == entryType {
			n++
		}
	}
	return n
}
