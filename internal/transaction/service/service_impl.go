package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cenkalti/backoff/v5"
	auditdomain "github.com/smallbiznis/donorbook/internal/audit/domain"
	"github.com/smallbiznis/donorbook/internal/clock"
	"github.com/smallbiznis/donorbook/internal/config"
	ledgerdomain "github.com/smallbiznis/donorbook/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/donorbook/internal/observability/metrics"
	"github.com/smallbiznis/donorbook/internal/sequence"
	transactiondomain "github.com/smallbiznis/donorbook/internal/transaction/domain"
	pkgdb "github.com/smallbiznis/donorbook/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxRetryInterval = time.Second

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       transactiondomain.Repository
	LedgerRepo ledgerdomain.Repository
	LedgerSvc  ledgerdomain.Service
	Sequence   *sequence.Allocator
	Config     *config.LedgerConfigHolder `optional:"true"`
	AuditSvc   auditdomain.Service        `optional:"true"`
	ObsMetrics *obsmetrics.Metrics        `optional:"true"`
	Clock      clock.Clock                `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       transactiondomain.Repository
	ledgerRepo ledgerdomain.Repository
	ledgerSvc  ledgerdomain.Service
	sequence   *sequence.Allocator
	config     *config.LedgerConfigHolder
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
	clock      clock.Clock
}

func NewService(p Params) transactiondomain.Service {
	c := p.Clock
	if c == nil {
		c = clock.New()
	}
	alloc := p.Sequence
	if alloc == nil {
		alloc = sequence.NewAllocator(c)
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("transaction.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		ledgerRepo: p.LedgerRepo,
		ledgerSvc:  p.LedgerSvc,
		sequence:   alloc,
		config:     p.Config,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
		clock:      c,
	}
}

// withRetry runs unit until it succeeds, fails with a non-conflict error or runs out of
// attempts. unit must be a complete DB transaction so a retry starts from scratch.
func (s *Service) withRetry(ctx context.Context, operation string, unit func() error) error {
	cfg := s.config.Get()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = cfg.Write.RetryBackoff
	policy.MaxInterval = maxRetryInterval

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := unit()
		if err == nil {
			return struct{}{}, nil
		}
		if !pkgdb.IsConflictErr(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		s.obsMetrics.RecordWriteRetry(ctx, operation)
		s.log.Debug("write conflict, retrying",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		return struct{}{}, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(cfg.Write.MaxRetries)),
	)
	if err == nil {
		return nil
	}
	if pkgdb.IsConflictErr(err) {
		return fmt.Errorf("%w: %s gave up after %d attempts: %v", transactiondomain.ErrConflict, operation, attempt, err)
	}
	return err
}

// assignIdentity gives t a fresh id and the next sequence number of its year.
func (s *Service) assignIdentity(ctx context.Context, tx *gorm.DB, t *transactiondomain.Transaction) error {
	year := t.Date.Year()
	value, err := s.sequence.Next(ctx, tx, year)
	if err != nil {
		return fmt.Errorf("allocate sequence number: %w", err)
	}
	t.ID = s.sequence.NextTransactionID()
	t.SequenceYear = year
	t.SequenceValue = value
	t.SequenceNumber = sequence.Format(year, value)
	return nil
}

// rebuildAfterWrite runs the authoritative rebuild once the write has committed. A
// failure never fails the write; it is reported as a warning instead.
func (s *Service) rebuildAfterWrite(ctx context.Context, accounts []ledgerdomain.Account) (bool, string) {
	var err error
	if len(accounts) == 0 {
		_, err = s.ledgerSvc.RebuildAll(ctx)
	} else {
		_, err = s.ledgerSvc.Rebuild(ctx, accounts)
	}
	if err != nil {
		s.log.Warn("ledger rebuild after write failed", zap.Error(err))
		return false, rebuildWarning(err)
	}
	return true, ""
}

func rebuildWarning(err error) string {
	if errors.Is(err, ledgerdomain.ErrRebuildLockTimeout) {
		return "ledger rebuild timed out waiting for another rebuild; balances are provisional until the next rebuild"
	}
	return "ledger rebuild failed; balances are provisional until the next rebuild"
}

func (s *Service) audit(ctx context.Context, action, targetID string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	if err := s.auditSvc.AuditLog(ctx, action, auditdomain.TargetTransaction, targetID, metadata); err != nil {
		s.log.Warn("failed to write transaction audit log", zap.String("action", action), zap.Error(err))
	}
}

// now returns the write timestamp, truncated to what every supported database stores.
func (s *Service) now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Microsecond)
}
