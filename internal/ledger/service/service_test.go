package service

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/donorbook/internal/clock"
	"github.com/smallbiznis/donorbook/internal/config"
	ledgerdomain "github.com/smallbiznis/donorbook/internal/ledger/domain"
	"github.com/smallbiznis/donorbook/internal/ledger/lock"
	ledgerrepo "github.com/smallbiznis/donorbook/internal/ledger/repository"
	"github.com/smallbiznis/donorbook/internal/migration"
	"github.com/smallbiznis/donorbook/internal/sequence"
	transactiondomain "github.com/smallbiznis/donorbook/internal/transaction/domain"
	txrepo "github.com/smallbiznis/donorbook/internal/transaction/repository"
	pkgdb "github.com/smallbiznis/donorbook/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type testEnv struct {
	db      *gorm.DB
	svc     *Service
	repo    transactiondomain.Repository
	locker  *lock.LocalLocker
	clock   *clock.FakeClock
	nextSeq int64
}

func setupService(t *testing.T, batchSize int) *testEnv {
	t.Helper()

	conn, err := pkgdb.NewTest()
	require.NoError(t, err)
	require.NoError(t, migration.AutoMigrate(conn))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := config.DefaultLedgerConfig()
	cfg.Rebuild.BatchSize = batchSize
	cfg.Lock.Wait = 20 * time.Millisecond

	fake := clock.NewFakeClock(time.Date(2025, 2, 1, 8, 0, 0, 0, time.UTC))
	fake.Step = time.Millisecond
	locker := lock.NewLocalLocker()
	repo := txrepo.Provide()

	svc := NewService(Params{
		DB:           conn,
		Log:          zap.NewNop(),
		GenID:        node,
		Repo:         ledgerrepo.Provide(),
		Transactions: repo,
		Locker:       locker,
		Config:       config.NewStaticLedgerConfig(cfg),
		Clock:        fake,
	}).(*Service)

	return &testEnv{db: conn, svc: svc, repo: repo, locker: locker, clock: fake}
}

func date(day int) time.Time {
	return time.Date(2025, 1, day, 0, 0, 0, 0, time.UTC)
}

func (e *testEnv) insert(t *testing.T, tx transactiondomain.Transaction) transactiondomain.Transaction {
	t.Helper()
	e.nextSeq++
	tx.ID = fmt.Sprintf("TX%024d", e.nextSeq)
	tx.SequenceYear = tx.Date.Year()
	tx.SequenceValue = e.nextSeq
	tx.SequenceNumber = sequence.Format(tx.SequenceYear, e.nextSeq)
	tx.CreatedAt = e.clock.Now()
	tx.UpdatedAt = tx.CreatedAt
	require.NoError(t, e.repo.Insert(context.Background(), e.db, &tx))
	return tx
}

func expense(day int, account ledgerdomain.Account, amount int64) transactiondomain.Transaction {
	return transactiondomain.Transaction{Date: date(day), Kind: ledgerdomain.KindExpense, Account: account, Amount: decimal.NewFromInt(amount)}
}

func income(day int, account ledgerdomain.Account, amount int64) transactiondomain.Transaction {
	return transactiondomain.Transaction{Date: date(day), Kind: ledgerdomain.KindIncome, Account: account, Amount: decimal.NewFromInt(amount)}
}

func transfer(day int, direction ledgerdomain.TransferDirection, amount int64) transactiondomain.Transaction {
	return transactiondomain.Transaction{Date: date(day), Kind: ledgerdomain.KindTransfer, TransferDirection: direction, Amount: decimal.NewFromInt(amount)}
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), append([]any{fmt.Sprintf("want %s, got %s", want, got)}, msgAndArgs...)...)
}

// chronological returns an account's entries oldest first.
func (e *testEnv) chronological(t *testing.T, account ledgerdomain.Account) []ledgerdomain.LedgerEntryView {
	t.Helper()
	views, err := e.svc.Ledger(context.Background(), account, ledgerdomain.LedgerFilter{Limit: ledgerdomain.MaxLedgerLimit})
	require.NoError(t, err)
	for i, j := 0, len(views)-1; i < j; i, j = i+1, j-1 {
		views[i], views[j] = views[j], views[i]
	}
	return views
}

func TestRebuild_OrdersByDateNotSubmission(t *testing.T) {
	env := setupService(t, 500)
	ctx := context.Background()

	env.insert(t, expense(3, ledgerdomain.AccountCash, 30))
	env.insert(t, expense(1, ledgerdomain.AccountCash, 10))
	env.insert(t, expense(2, ledgerdomain.AccountCash, 20))

	result, err := env.svc.RebuildAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, result.TransactionsProcessed)
	assert.Equal(t, 3, result.EntriesWritten)
	assertDecimal(t, "-60", result.FinalBalances.Cash)

	entries := env.chronological(t, ledgerdomain.AccountCash)
	require.Len(t, entries, 3)

	wantDays := []string{"2025-01-01", "2025-01-02", "2025-01-03"}
	wantAfter := []string{"-10", "-30", "-60"}
	for i, entry := range entries {
		assert.Equal(t, wantDays[i], entry.Date.UTC().Format(transactiondomain.DateLayout))
		assertDecimal(t, wantAfter[i], entry.BalanceAfter)
		assertDecimal(t, wantAfter[i], entry.DisplayBalance)
		assert.Equal(t, ledgerdomain.EntryTypePosting, entry.EntryType)
	}
	assertDecimal(t, "0", entries[0].BalanceBefore)
	assert.Less(t, entries[0].Sequence, entries[1].Sequence)
	assert.Less(t, entries[1].Sequence, entries[2].Sequence)
}

func TestRebuild_SameDayTieBreaksOnCreation(t *testing.T) {
	env := setupService(t, 500)

	first := env.insert(t, income(5, ledgerdomain.AccountBank, 100))
	second := env.insert(t, expense(5, ledgerdomain.AccountBank, 40))

	_, err := env.svc.RebuildAll(context.Background())
	require.NoError(t, err)

	entries := env.chronological(t, ledgerdomain.AccountBank)
	require.Len(t, entries, 2)
	assert.Equal(t, first.ID, entries[0].TransactionID)
	assert.Equal(t, second.ID, entries[1].TransactionID)
	assertDecimal(t, "60", entries[1].BalanceAfter)
}

func TestRebuild_IsIdempotent(t *testing.T) {
	env := setupService(t, 2)
	ctx := context.Background()

	env.insert(t, income(1, ledgerdomain.AccountBank, 500))
	env.insert(t, transfer(2, ledgerdomain.DirectionWithdrawal, 120))
	env.insert(t, expense(2, ledgerdomain.AccountCash, 45))
	env.insert(t, transfer(4, ledgerdomain.DirectionDeposit, 50))
	env.insert(t, expense(3, ledgerdomain.AccountBank, 80))

	type row struct {
		TransactionID string
		Account       ledgerdomain.Account
		Change        string
		After         string
		Sequence      int64
	}
	snapshot := func() []row {
		var entries []ledgerdomain.LedgerEntry
		require.NoError(t, env.db.Order("sequence asc").Find(&entries).Error)
		rows := make([]row, 0, len(entries))
		for _, entry := range entries {
			rows = append(rows, row{entry.TransactionID, entry.Account, entry.ChangeAmount.String(), entry.BalanceAfter.String(), entry.Sequence})
		}
		return rows
	}

	first, err := env.svc.RebuildAll(ctx)
	require.NoError(t, err)
	before := snapshot()

	second, err := env.svc.RebuildAll(ctx)
	require.NoError(t, err)

	assert.Equal(t, before, snapshot())
	assert.Equal(t, first.EntriesWritten, second.EntriesWritten)
	assert.True(t, first.FinalBalances.Cash.Equal(second.FinalBalances.Cash))
	assert.True(t, first.FinalBalances.Bank.Equal(second.FinalBalances.Bank))
}

func TestRebuild_BalancesMatchSumAcrossBatches(t *testing.T) {
	env := setupService(t, 3)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	want := map[ledgerdomain.Account]decimal.Decimal{
		ledgerdomain.AccountCash: decimal.Zero,
		ledgerdomain.AccountBank: decimal.Zero,
	}
	for i := 0; i < 40; i++ {
		day := rng.Intn(28) + 1
		amount := int64(rng.Intn(500) + 1)
		var tx transactiondomain.Transaction
		switch rng.Intn(4) {
		case 0:
			tx = expense(day, ledgerdomain.AccountCash, amount)
		case 1:
			tx = income(day, ledgerdomain.AccountBank, amount)
		case 2:
			tx = transfer(day, ledgerdomain.DirectionWithdrawal, amount)
		default:
			tx = transfer(day, ledgerdomain.DirectionDeposit, amount)
		}
		if i%9 == 0 {
			tx.Voided = true
		}
		inserted := env.insert(t, tx)
		if inserted.Voided {
			continue
		}
		effects, err := inserted.Effects()
		require.NoError(t, err)
		for _, effect := range effects {
			want[effect.Account] = want[effect.Account].Add(effect.Amount)
		}
	}

	result, err := env.svc.RebuildAll(ctx)
	require.NoError(t, err)
	assert.True(t, want[ledgerdomain.AccountCash].Equal(result.FinalBalances.Cash))
	assert.True(t, want[ledgerdomain.AccountBank].Equal(result.FinalBalances.Bank))

	balances, err := env.svc.Balances(ctx)
	require.NoError(t, err)
	assert.True(t, want[ledgerdomain.AccountCash].Equal(balances.Cash))
	assert.True(t, want[ledgerdomain.AccountBank].Equal(balances.Bank))

	for _, account := range ledgerdomain.Accounts() {
		entries := env.chronological(t, account)
		require.NotEmpty(t, entries)
		running := decimal.Zero
		for i, entry := range entries {
			assert.True(t, running.Equal(entry.BalanceBefore), "entry %d of %s", i, account)
			running = running.Add(entry.ChangeAmount)
			assert.True(t, running.Equal(entry.BalanceAfter), "entry %d of %s", i, account)
		}
		assert.True(t, running.Equal(balances.Of(account)), "last entry of %s must equal the cached balance", account)

		sorted := sort.SliceIsSorted(entries, func(i, j int) bool {
			if !entries[i].Date.Equal(entries[j].Date) {
				return entries[i].Date.Before(entries[j].Date)
			}
			return entries[i].Sequence < entries[j].Sequence
		})
		assert.True(t, sorted)
	}
}

func TestRebuild_IgnoresVoidedTransactions(t *testing.T) {
	env := setupService(t, 500)
	ctx := context.Background()

	env.insert(t, income(1, ledgerdomain.AccountCash, 100))
	_, err := env.svc.RebuildAll(ctx)
	require.NoError(t, err)
	baseline := env.chronological(t, ledgerdomain.AccountCash)

	voided := expense(2, ledgerdomain.AccountCash, 70)
	voided.Voided = true
	voided.VoidReason = transactiondomain.VoidReasonRevision
	env.insert(t, voided)

	_, err = env.svc.RebuildAll(ctx)
	require.NoError(t, err)
	after := env.chronological(t, ledgerdomain.AccountCash)

	require.Len(t, after, len(baseline))
	assert.Equal(t, baseline[0].TransactionID, after[0].TransactionID)
	assertDecimal(t, "100", after[0].BalanceAfter)
}

func TestRebuild_TransfersNetToZero(t *testing.T) {
	env := setupService(t, 500)

	env.insert(t, transfer(1, ledgerdomain.DirectionWithdrawal, 300))
	env.insert(t, transfer(2, ledgerdomain.DirectionDeposit, 125))
	env.insert(t, transfer(3, ledgerdomain.DirectionWithdrawal, 10))

	result, err := env.svc.RebuildAll(context.Background())
	require.NoError(t, err)
	assert.True(t, result.FinalBalances.Cash.Add(result.FinalBalances.Bank).IsZero())
	assertDecimal(t, "185", result.FinalBalances.Cash)
	assertDecimal(t, "-185", result.FinalBalances.Bank)
	assert.Equal(t, 6, result.EntriesWritten)
}

func TestRebuild_ScopedToAccounts(t *testing.T) {
	env := setupService(t, 500)
	ctx := context.Background()

	env.insert(t, income(1, ledgerdomain.AccountBank, 200))
	env.insert(t, expense(1, ledgerdomain.AccountCash, 15))
	env.insert(t, transfer(2, ledgerdomain.DirectionWithdrawal, 50))

	_, err := env.svc.RebuildAll(ctx)
	require.NoError(t, err)
	bankBefore := env.chronological(t, ledgerdomain.AccountBank)

	result, err := env.svc.Rebuild(ctx, []ledgerdomain.Account{ledgerdomain.AccountCash, ledgerdomain.AccountCash})
	require.NoError(t, err)
	assert.Equal(t, []ledgerdomain.Account{ledgerdomain.AccountCash}, result.Accounts)
	assert.Equal(t, 2, result.TransactionsProcessed)
	assert.Equal(t, 2, result.EntriesWritten)
	assertDecimal(t, "35", result.FinalBalances.Cash)
	assertDecimal(t, "150", result.FinalBalances.Bank)

	bankAfter := env.chronological(t, ledgerdomain.AccountBank)
	require.Len(t, bankAfter, len(bankBefore))
	for i := range bankBefore {
		assert.Equal(t, bankBefore[i].ID, bankAfter[i].ID, "bank entries must be untouched")
	}

	_, err = env.svc.Rebuild(ctx, nil)
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidAccount)
	_, err = env.svc.Rebuild(ctx, []ledgerdomain.Account{"wallet"})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidAccount)
}

func TestRebuild_LockTimeout(t *testing.T) {
	env := setupService(t, 500)
	ctx := context.Background()

	release, err := env.locker.Acquire(ctx, lockKeys([]ledgerdomain.Account{ledgerdomain.AccountCash}), lock.Options{})
	require.NoError(t, err)
	defer release()

	_, err = env.svc.RebuildAll(ctx)
	require.Error(t, err)

	var rebuildErr *ledgerdomain.RebuildError
	require.ErrorAs(t, err, &rebuildErr)
	assert.ErrorIs(t, err, ledgerdomain.ErrRebuildLockTimeout)
	assert.Equal(t, ledgerdomain.Accounts(), rebuildErr.Accounts)

	// a disjoint account set is not blocked
	_, err = env.svc.Rebuild(ctx, []ledgerdomain.Account{ledgerdomain.AccountBank})
	assert.NoError(t, err)
}

func TestLedger_Filters(t *testing.T) {
	env := setupService(t, 500)
	ctx := context.Background()

	for day := 1; day <= 5; day++ {
		env.insert(t, income(day, ledgerdomain.AccountBank, int64(day*10)))
	}
	_, err := env.svc.RebuildAll(ctx)
	require.NoError(t, err)

	from, to := date(2), date(4)
	views, err := env.svc.Ledger(ctx, ledgerdomain.AccountBank, ledgerdomain.LedgerFilter{DateFrom: &from, DateTo: &to})
	require.NoError(t, err)
	require.Len(t, views, 3)
	assert.Equal(t, "2025-01-04", views[0].Date.UTC().Format(transactiondomain.DateLayout), "newest first")
	assert.Equal(t, "2025-01-02", views[2].Date.UTC().Format(transactiondomain.DateLayout))

	views, err = env.svc.Ledger(ctx, ledgerdomain.AccountBank, ledgerdomain.LedgerFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, views, 2)

	_, err = env.svc.Ledger(ctx, ledgerdomain.AccountBank, ledgerdomain.LedgerFilter{DateFrom: &to, DateTo: &from})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidDateRange)

	_, err = env.svc.Ledger(ctx, ledgerdomain.AccountBank, ledgerdomain.LedgerFilter{Limit: -1})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidLimit)

	_, err = env.svc.Ledger(ctx, "wallet", ledgerdomain.LedgerFilter{})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidAccount)
}

func TestBalances_EmptyLedgerReadsZero(t *testing.T) {
	env := setupService(t, 500)

	balances, err := env.svc.Balances(context.Background())
	require.NoError(t, err)
	assert.True(t, balances.Cash.IsZero())
	assert.True(t, balances.Bank.IsZero())
}

func TestVerify_DetectsUnsettledLedger(t *testing.T) {
	env := setupService(t, 500)
	ctx := context.Background()

	env.insert(t, income(1, ledgerdomain.AccountCash, 70))
	_, err := env.svc.RebuildAll(ctx)
	require.NoError(t, err)

	result, err := env.svc.Verify(ctx)
	require.NoError(t, err)
	assert.True(t, result.Consistent)
	require.Len(t, result.Accounts, 2)

	// an optimistic write appends a provisional entry and moves the cache
	require.NoError(t, env.svc.repo.InsertEntries(ctx, env.db, []ledgerdomain.LedgerEntry{{
		ID:            env.svc.genID.Generate(),
		TransactionID: "TX-provisional",
		Account:       ledgerdomain.AccountCash,
		EntryType:     ledgerdomain.EntryTypeProvisional,
		ChangeAmount:  decimal.NewFromInt(5),
		BalanceBefore: decimal.NewFromInt(70),
		BalanceAfter:  decimal.NewFromInt(75),
		Date:          date(2),
		Sequence:      99,
		CreatedAt:     env.clock.Now(),
	}}))
	require.NoError(t, env.svc.repo.UpsertBalances(ctx, env.db, map[ledgerdomain.Account]decimal.Decimal{
		ledgerdomain.AccountCash: decimal.NewFromInt(75),
	}, env.clock.Now()))

	result, err = env.svc.Verify(ctx)
	require.NoError(t, err)
	assert.False(t, result.Consistent)
	for _, check := range result.Accounts {
		if check.Account == ledgerdomain.AccountCash {
			assert.Equal(t, int64(1), check.ProvisionalEntries)
			assertDecimal(t, "75", check.LedgerBalance)
		}
	}

	_, err = env.svc.RebuildAll(ctx)
	require.NoError(t, err)

	result, err = env.svc.Verify(ctx)
	require.NoError(t, err)
	assert.True(t, result.Consistent)
}
