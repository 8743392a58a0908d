package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRedisLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := NewRedisLocker(client, zap.NewNop())
	locker.PollInterval = 5 * time.Millisecond
	return locker, mr
}

func TestNormalizeKeys(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, normalizeKeys([]string{"b", " a ", "", "b"}))
}

func TestLocalLocker_TimesOutWhileHeld(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	release, err := locker.Acquire(ctx, []string{"cash"}, Options{Wait: time.Second})
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, []string{"bank", "cash"}, Options{Wait: 20 * time.Millisecond})
	assert.ErrorIs(t, err, ErrLockTimeout)

	// bank must have been released by the failed attempt
	releaseBank, err := locker.Acquire(ctx, []string{"bank"}, Options{})
	require.NoError(t, err)
	releaseBank()

	release()
	release()

	again, err := locker.Acquire(ctx, []string{"cash"}, Options{})
	require.NoError(t, err)
	again()
}

func TestLocalLocker_SerializesOverlappingSets(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	var active, maxActive int32
	var wg sync.WaitGroup
	sets := [][]string{{"cash"}, {"bank", "cash"}, {"cash", "bank"}, {"cash"}}
	for i := 0; i < 20; i++ {
		keys := sets[i%len(sets)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locker.Acquire(ctx, keys, Options{Wait: 5 * time.Second})
			if !assert.NoError(t, err) {
				return
			}
			defer release()
			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive)
}

func TestLocalLocker_HonoursContext(t *testing.T) {
	locker := NewLocalLocker()
	release, err := locker.Acquire(context.Background(), []string{"cash"}, Options{})
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = locker.Acquire(ctx, []string{"cash"}, Options{Wait: time.Second})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRedisLocker_AcquireAndRelease(t *testing.T) {
	locker, mr := newTestRedisLocker(t)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, []string{"ledger:cash", "ledger:bank"}, Options{TTL: time.Minute})
	require.NoError(t, err)
	assert.True(t, mr.Exists("ledger:cash"))
	assert.True(t, mr.Exists("ledger:bank"))

	_, err = locker.Acquire(ctx, []string{"ledger:cash"}, Options{TTL: time.Minute, Wait: 20 * time.Millisecond})
	assert.ErrorIs(t, err, ErrLockTimeout)

	release()
	assert.False(t, mr.Exists("ledger:cash"))
	assert.False(t, mr.Exists("ledger:bank"))
}

func TestRedisLocker_WaitsForHolder(t *testing.T) {
	locker, _ := newTestRedisLocker(t)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, []string{"ledger:cash"}, Options{TTL: time.Minute})
	require.NoError(t, err)

	go func() {
		time.Sleep(30 * time.Millisecond)
		release()
	}()

	second, err := locker.Acquire(ctx, []string{"ledger:cash"}, Options{TTL: time.Minute, Wait: 2 * time.Second})
	require.NoError(t, err)
	second()
}

func TestRedisLocker_ReleaseKeepsForeignToken(t *testing.T) {
	locker, mr := newTestRedisLocker(t)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, []string{"ledger:cash"}, Options{TTL: time.Minute})
	require.NoError(t, err)

	// simulate expiry followed by another holder taking the key
	require.NoError(t, mr.Set("ledger:cash", "someone-else"))
	release()

	value, err := mr.Get("ledger:cash")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", value)
}

func TestRedisLocker_RequiresTTL(t *testing.T) {
	locker, _ := newTestRedisLocker(t)
	_, err := locker.Acquire(context.Background(), []string{"ledger:cash"}, Options{})
	assert.Error(t, err)
}
