package ledger

import (
	"github.com/smallbiznis/donorbook/internal/ledger/lock"
	"github.com/smallbiznis/donorbook/internal/ledger/repository"
	"github.com/smallbiznis/donorbook/internal/ledger/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ledger.service",
	fx.Provide(repository.Provide),
	fx.Provide(lock.New),
	fx.Provide(service.NewService),
)
