package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/donorbook/internal/clock"
	ledgerdomain "github.com/smallbiznis/donorbook/internal/ledger/domain"
	"github.com/smallbiznis/donorbook/internal/ledger/lock"
	obsmetrics "github.com/smallbiznis/donorbook/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const jobLockPrefix = "donorbook:scheduler:"

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log        *zap.Logger
	LedgerSvc  ledgerdomain.Service
	Locker     lock.Locker
	GenID      *snowflake.Node
	Clock      clock.Clock
	Config     Config              `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Scheduler struct {
	log        *zap.Logger
	cfg        Config
	genID      *snowflake.Node
	clock      clock.Clock
	ledgerSvc  ledgerdomain.Service
	locker     lock.Locker
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.LedgerSvc == nil || p.Locker == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.withDefaults()
	return &Scheduler{
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        cfg,
		genID:      p.GenID,
		clock:      p.Clock,
		ledgerSvc:  p.LedgerSvc,
		locker:     p.Locker,
		obsMetrics: p.ObsMetrics,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()

	release, err := s.locker.Acquire(parent, []string{jobLockPrefix + name}, lock.Options{TTL: s.cfg.LockTTL})
	if err != nil {
		if errors.Is(err, lock.ErrLockTimeout) {
			s.log.Debug("job already running elsewhere", zap.String("job", name))
			s.obsMetrics.RecordJob(parent, name, "skipped", 0)
			return nil
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run := s.startJobRun(ctx, name)
	s.logJobStart(ctx, run)
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)

	err = fn(ctx)
	if err != nil {
		run.IncError()
	}
	s.logJobFinish(ctx, run)

	elapsed := s.clock.Now().Sub(start)
	if err == nil {
		s.obsMetrics.RecordJob(ctx, name, "success", elapsed)
		return nil
	}

	// deadline is a soft timeout: the next tick tries again
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.obsMetrics.RecordJob(ctx, name, "timeout", elapsed)
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	s.obsMetrics.RecordJob(ctx, name, "error", elapsed)
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		{jobLedgerReconcile, s.isJobEnabled(jobLedgerReconcile), func(ctx context.Context) error {
			return s.runJob(ctx, jobLedgerReconcile, s.cfg.JobTimeout, s.ReconcileLedgerJob)
		}},
	}

	for _, job := range jobs {
		if job.Enabled {
			err = errors.Join(err, job.Run(parent))
		}
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// an empty list enables every job
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// ReconcileLedgerJob rebuilds the ledger when a write left it unsettled, for example
// after a post-write rebuild timed out on the lock or failed.
func (s *Scheduler) ReconcileLedgerJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)

	check, err := s.ledgerSvc.Verify(ctx)
	if err != nil {
		return err
	}
	if check.Consistent {
		return nil
	}

	drifted := make([]string, 0, len(check.Accounts))
	for _, account := range check.Accounts {
		if !account.Settled() {
			drifted = append(drifted, string(account.Account))
		}
	}
	s.logger(ctx).Info("reconciling ledger", zap.Strings("accounts", drifted))

	result, err := s.ledgerSvc.RebuildAll(ctx)
	if err != nil {
		if errors.Is(err, ledgerdomain.ErrRebuildLockTimeout) {
			s.logger(ctx).Info("rebuild in progress elsewhere, deferring reconcile")
			return nil
		}
		return err
	}
	run.AddProcessed(result.TransactionsProcessed)
	return nil
}
