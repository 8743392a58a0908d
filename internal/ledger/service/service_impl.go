package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/donorbook/internal/audit/domain"
	"github.com/smallbiznis/donorbook/internal/clock"
	"github.com/smallbiznis/donorbook/internal/config"
	ledgerdomain "github.com/smallbiznis/donorbook/internal/ledger/domain"
	"github.com/smallbiznis/donorbook/internal/ledger/lock"
	obsmetrics "github.com/smallbiznis/donorbook/internal/observability/metrics"
	transactiondomain "github.com/smallbiznis/donorbook/internal/transaction/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Repo         ledgerdomain.Repository
	Transactions transactiondomain.Repository
	Locker       lock.Locker
	Config       *config.LedgerConfigHolder `optional:"true"`
	AuditSvc     auditdomain.Service        `optional:"true"`
	ObsMetrics   *obsmetrics.Metrics        `optional:"true"`
	Clock        clock.Clock                `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	repo         ledgerdomain.Repository
	transactions transactiondomain.Repository
	locker       lock.Locker
	config       *config.LedgerConfigHolder
	auditSvc     auditdomain.Service
	obsMetrics   *obsmetrics.Metrics
	clock        clock.Clock
}

func NewService(p Params) ledgerdomain.Service {
	c := p.Clock
	if c == nil {
		c = clock.New()
	}
	locker := p.Locker
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("ledger.service"),
		genID:        p.GenID,
		repo:         p.Repo,
		transactions: p.Transactions,
		locker:       locker,
		config:       p.Config,
		auditSvc:     p.AuditSvc,
		obsMetrics:   p.ObsMetrics,
		clock:        c,
	}
}

func (s *Service) Ledger(ctx context.Context, account ledgerdomain.Account, filter ledgerdomain.LedgerFilter) ([]ledgerdomain.LedgerEntryView, error) {
	if !account.Valid() {
		return nil, ledgerdomain.ErrInvalidAccount
	}
	if filter.DateFrom != nil && filter.DateTo != nil && filter.DateFrom.After(*filter.DateTo) {
		return nil, ledgerdomain.ErrInvalidDateRange
	}

	switch {
	case filter.Limit < 0:
		return nil, ledgerdomain.ErrInvalidLimit
	case filter.Limit == 0:
		filter.Limit = ledgerdomain.DefaultLedgerLimit
	case filter.Limit > ledgerdomain.MaxLedgerLimit:
		filter.Limit = ledgerdomain.MaxLedgerLimit
	}

	entries, err := s.repo.ListEntries(ctx, s.db, account, filter)
	if err != nil {
		return nil, err
	}

	views := make([]ledgerdomain.LedgerEntryView, 0, len(entries))
	for _, entry := range entries {
		views = append(views, ledgerdomain.NewLedgerEntryView(entry))
	}
	return views, nil
}

func (s *Service) Balances(ctx context.Context) (ledgerdomain.Balances, error) {
	balances, err := s.repo.LoadBalances(ctx, s.db, ledgerdomain.Accounts(), false)
	if err != nil {
		return ledgerdomain.Balances{}, err
	}
	return toBalances(balances), nil
}

func toBalances(values map[ledgerdomain.Account]decimal.Decimal) ledgerdomain.Balances {
	out := ledgerdomain.Balances{Cash: decimal.Zero, Bank: decimal.Zero}
	if value, ok := values[ledgerdomain.AccountCash]; ok {
		out.Cash = value
	}
	if value, ok := values[ledgerdomain.AccountBank]; ok {
		out.Bank = value
	}
	return out
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC()
}
