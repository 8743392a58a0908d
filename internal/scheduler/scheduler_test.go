package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/donorbook/internal/clock"
	"github.com/smallbiznis/donorbook/internal/config"
	ledgerdomain "github.com/smallbiznis/donorbook/internal/ledger/domain"
	"github.com/smallbiznis/donorbook/internal/ledger/lock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockLedgerSvc struct {
	mock.Mock
}

func (m *mockLedgerSvc) Rebuild(ctx context.Context, accounts []ledgerdomain.Account) (ledgerdomain.RebuildResult, error) {
	args := m.Called(ctx, accounts)
	return args.Get(0).(ledgerdomain.RebuildResult), args.Error(1)
}

func (m *mockLedgerSvc) RebuildAll(ctx context.Context) (ledgerdomain.RebuildResult, error) {
	args := m.Called(ctx)
	return args.Get(0).(ledgerdomain.RebuildResult), args.Error(1)
}

func (m *mockLedgerSvc) Ledger(ctx context.Context, account ledgerdomain.Account, filter ledgerdomain.LedgerFilter) ([]ledgerdomain.LedgerEntryView, error) {
	args := m.Called(ctx, account, filter)
	return args.Get(0).([]ledgerdomain.LedgerEntryView), args.Error(1)
}

func (m *mockLedgerSvc) Balances(ctx context.Context) (ledgerdomain.Balances, error) {
	args := m.Called(ctx)
	return args.Get(0).(ledgerdomain.Balances), args.Error(1)
}

func (m *mockLedgerSvc) Verify(ctx context.Context) (ledgerdomain.VerifyResult, error) {
	args := m.Called(ctx)
	return args.Get(0).(ledgerdomain.VerifyResult), args.Error(1)
}

func newTestScheduler(t *testing.T, ledgerSvc ledgerdomain.Service, locker lock.Locker, cfg Config) *Scheduler {
	t.Helper()

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	sched, err := New(Params{
		Log:       zap.NewNop(),
		LedgerSvc: ledgerSvc,
		Locker:    locker,
		GenID:     node,
		Clock:     clock.NewFakeClock(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)),
		Config:    cfg,
	})
	require.NoError(t, err)
	return sched
}

func settled() ledgerdomain.VerifyResult {
	return ledgerdomain.VerifyResult{
		Consistent: true,
		Accounts: []ledgerdomain.AccountCheck{
			{Account: ledgerdomain.AccountBank, CachedBalance: decimal.Zero, LedgerBalance: decimal.Zero},
			{Account: ledgerdomain.AccountCash, CachedBalance: decimal.Zero, LedgerBalance: decimal.Zero},
		},
	}
}

func unsettled() ledgerdomain.VerifyResult {
	return ledgerdomain.VerifyResult{
		Consistent: false,
		Accounts: []ledgerdomain.AccountCheck{
			{Account: ledgerdomain.AccountBank, CachedBalance: decimal.Zero, LedgerBalance: decimal.Zero},
			{Account: ledgerdomain.AccountCash, CachedBalance: decimal.NewFromInt(10), LedgerBalance: decimal.NewFromInt(10), ProvisionalEntries: 1},
		},
	}
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestReconcile_SettledLedgerIsLeftAlone(t *testing.T) {
	ledgerSvc := &mockLedgerSvc{}
	ledgerSvc.On("Verify", mock.Anything).Return(settled(), nil).Once()

	sched := newTestScheduler(t, ledgerSvc, lock.NewLocalLocker(), Config{})
	require.NoError(t, sched.RunOnce(context.Background()))

	ledgerSvc.AssertExpectations(t)
	ledgerSvc.AssertNotCalled(t, "RebuildAll", mock.Anything)
}

func TestReconcile_RebuildsUnsettledLedger(t *testing.T) {
	ledgerSvc := &mockLedgerSvc{}
	ledgerSvc.On("Verify", mock.Anything).Return(unsettled(), nil).Once()
	ledgerSvc.On("RebuildAll", mock.Anything).Return(ledgerdomain.RebuildResult{TransactionsProcessed: 3}, nil).Once()

	sched := newTestScheduler(t, ledgerSvc, lock.NewLocalLocker(), Config{})
	require.NoError(t, sched.RunOnce(context.Background()))

	ledgerSvc.AssertExpectations(t)
}

func TestReconcile_DefersWhenRebuildIsRunning(t *testing.T) {
	ledgerSvc := &mockLedgerSvc{}
	ledgerSvc.On("Verify", mock.Anything).Return(unsettled(), nil).Once()
	ledgerSvc.On("RebuildAll", mock.Anything).Return(ledgerdomain.RebuildResult{}, &ledgerdomain.RebuildError{
		Accounts: ledgerdomain.Accounts(),
		Err:      ledgerdomain.ErrRebuildLockTimeout,
	}).Once()

	sched := newTestScheduler(t, ledgerSvc, lock.NewLocalLocker(), Config{})
	assert.NoError(t, sched.RunOnce(context.Background()))
	ledgerSvc.AssertExpectations(t)
}

func TestReconcile_SurfacesRebuildFailure(t *testing.T) {
	ledgerSvc := &mockLedgerSvc{}
	ledgerSvc.On("Verify", mock.Anything).Return(unsettled(), nil).Once()
	ledgerSvc.On("RebuildAll", mock.Anything).Return(ledgerdomain.RebuildResult{}, &ledgerdomain.RebuildError{
		Accounts: ledgerdomain.Accounts(),
		Err:      assert.AnError,
	}).Once()

	sched := newTestScheduler(t, ledgerSvc, lock.NewLocalLocker(), Config{})
	err := sched.RunOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), jobLedgerReconcile)
}

func TestRunJob_SkipsWhenAnotherInstanceHoldsTheJob(t *testing.T) {
	ledgerSvc := &mockLedgerSvc{}
	locker := lock.NewLocalLocker()

	release, err := locker.Acquire(context.Background(), []string{jobLockPrefix + jobLedgerReconcile}, lock.Options{})
	require.NoError(t, err)
	defer release()

	sched := newTestScheduler(t, ledgerSvc, locker, Config{})
	require.NoError(t, sched.RunOnce(context.Background()))
	ledgerSvc.AssertNotCalled(t, "Verify", mock.Anything)
}

func TestRunJob_TimeoutIsSoft(t *testing.T) {
	sched := newTestScheduler(t, &mockLedgerSvc{}, lock.NewLocalLocker(), Config{})

	err := sched.runJob(context.Background(), "timeout_job", 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.NoError(t, err)
}

func TestRunJob_TagsContextWithRun(t *testing.T) {
	sched := newTestScheduler(t, &mockLedgerSvc{}, lock.NewLocalLocker(), Config{})

	var seen *jobRun
	err := sched.runJob(context.Background(), "tagged_job", time.Second, func(ctx context.Context) error {
		seen = jobRunFromContext(ctx)
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, seen)
	assert.Equal(t, "tagged_job", seen.job)
	assert.NotEmpty(t, seen.runID)
}

func TestIsJobEnabled(t *testing.T) {
	ledgerSvc := &mockLedgerSvc{}
	sched := newTestScheduler(t, ledgerSvc, lock.NewLocalLocker(), Config{EnabledJobs: []string{"something_else"}})

	assert.False(t, sched.isJobEnabled(jobLedgerReconcile))
	require.NoError(t, sched.RunOnce(context.Background()))
	ledgerSvc.AssertNotCalled(t, "Verify", mock.Anything)

	sched.cfg.EnabledJobs = []string{"LEDGER_RECONCILE"}
	assert.True(t, sched.isJobEnabled(jobLedgerReconcile))
}

func TestProvideConfig(t *testing.T) {
	cfg := ProvideConfig(config.Config{SchedulerEnabled: false, ReconcileInterval: 15 * time.Minute})
	assert.False(t, cfg.Enabled)
	assert.Equal(t, 15*time.Minute, cfg.RunInterval)
	assert.Equal(t, DefaultConfig().JobTimeout, cfg.JobTimeout)
}
