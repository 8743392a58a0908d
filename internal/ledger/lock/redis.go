package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

const (
	defaultPollInterval = 25 * time.Millisecond
	releaseTimeout      = 5 * time.Second
)

// RedisLocker serializes holders across processes sharing one redis instance.
type RedisLocker struct {
	client       *redis.Client
	script       *redis.Script
	log          *zap.Logger
	PollInterval time.Duration
}

func NewRedisLocker(client *redis.Client, log *zap.Logger) *RedisLocker {
	if client == nil {
		return nil
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisLocker{
		client:       client,
		script:       redis.NewScript(lockReleaseScript),
		log:          log,
		PollInterval: defaultPollInterval,
	}
}

func (l *RedisLocker) Acquire(ctx context.Context, keys []string, opts Options) (Release, error) {
	if l == nil || l.client == nil {
		return nil, errors.New("lock client not configured")
	}
	if opts.TTL <= 0 {
		return nil, errors.New("lock ttl must be positive")
	}
	keys = normalizeKeys(keys)

	deadline := time.Now().Add(opts.Wait)
	tokens := make(map[string]string, len(keys))
	order := make([]string, 0, len(keys))
	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		for i := len(order) - 1; i >= 0; i-- {
			key := order[i]
			if err := l.release(releaseCtx, key, tokens[key]); err != nil {
				l.log.Warn("failed to release lock", zap.String("key", key), zap.Error(err))
			}
		}
	}

	for _, key := range keys {
		token, err := l.acquireOne(ctx, key, opts.TTL, deadline)
		if err != nil {
			release()
			return nil, err
		}
		tokens[key] = token
		order = append(order, key)
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}

func (l *RedisLocker) acquireOne(ctx context.Context, key string, ttl time.Duration, deadline time.Time) (string, error) {
	for {
		token, ok, err := l.tryLock(ctx, key, ttl)
		if err != nil {
			return "", err
		}
		if ok {
			return token, nil
		}
		if !time.Now().Before(deadline) {
			return "", ErrLockTimeout
		}

		timer := time.NewTimer(l.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *RedisLocker) tryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

func (l *RedisLocker) release(ctx context.Context, key, token string) error {
	if key == "" || token == "" {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{key}, token).Err()
}
