package scheduler

import (
	"time"

	"github.com/smallbiznis/donorbook/internal/config"
)

const jobLedgerReconcile = "ledger_reconcile"

// Config controls scheduler intervals and job selection.
type Config struct {
	Enabled     bool
	RunInterval time.Duration
	JobTimeout  time.Duration
	// LockTTL bounds how long a crashed instance keeps other instances from running a job.
	LockTTL     time.Duration
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		Enabled:     true,
		RunInterval: time.Hour,
		JobTimeout:  5 * time.Minute,
		LockTTL:     10 * time.Minute,
	}
}

func ProvideConfig(cfg config.Config) Config {
	out := DefaultConfig()
	out.Enabled = cfg.SchedulerEnabled
	if cfg.ReconcileInterval > 0 {
		out.RunInterval = cfg.ReconcileInterval
	}
	return out
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	return c
}
