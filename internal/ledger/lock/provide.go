package lock

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/donorbook/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Log       *zap.Logger
}

// New returns a redis-backed locker when redis is configured and an in-process
// locker otherwise.
func New(p Params) Locker {
	log := p.Log.Named("ledger.lock")
	if !p.Config.Redis.Enabled() {
		log.Info("using in-process rebuild lock")
		return NewLocalLocker()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     p.Config.Redis.Addr,
		Password: p.Config.Redis.Password,
		DB:       p.Config.Redis.DB,
	})
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})

	log.Info("using redis rebuild lock", zap.String("addr", p.Config.Redis.Addr))
	return NewRedisLocker(client, log)
}
