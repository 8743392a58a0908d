package sequence

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/donorbook/internal/clock"
	pkgdb "github.com/smallbiznis/donorbook/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupAllocator(t *testing.T) (*gorm.DB, *Allocator) {
	t.Helper()
	conn, err := pkgdb.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&Counter{}))
	return conn, NewAllocator(clock.NewFakeClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)))
}

func TestFormatAndParse(t *testing.T) {
	assert.Equal(t, "2025-00001", Format(2025, 1))
	assert.Equal(t, "2025-123456", Format(2025, 123456))

	year, value, ok := Parse("2025-00042")
	require.True(t, ok)
	assert.Equal(t, 2025, year)
	assert.Equal(t, int64(42), value)

	_, _, ok = Parse("2025-123456")
	assert.True(t, ok)

	for _, ref := range []string{"", "2025-1", "25-00001", "2025-00000", "01JABCDEF", "2025-0001a"} {
		assert.False(t, IsSequenceNumber(ref), ref)
	}
}

func TestNext_IncrementsPerYear(t *testing.T) {
	conn, alloc := setupAllocator(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := alloc.Next(ctx, conn, 2025)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	got, err := alloc.Next(ctx, conn, 2026)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got, "each year starts its own counter")

	_, err = alloc.Next(ctx, conn, 0)
	assert.ErrorIs(t, err, ErrInvalidYear)
}

func TestNext_RolledBackValueLeavesGap(t *testing.T) {
	conn, alloc := setupAllocator(t)
	ctx := context.Background()

	first, err := alloc.Next(ctx, conn, 2025)
	require.NoError(t, err)
	require.Equal(t, int64(1), first)

	_ = conn.Transaction(func(tx *gorm.DB) error {
		_, err := alloc.Next(ctx, tx, 2025)
		require.NoError(t, err)
		return assert.AnError
	})

	next, err := alloc.Next(ctx, conn, 2025)
	require.NoError(t, err)
	assert.Greater(t, next, first)
}

// The in-memory database has a single connection, so these callers take turns. The
// file-backed variant below lets them overlap.
func TestNext_ConcurrentCallersGetDistinctValues(t *testing.T) {
	conn, alloc := setupAllocator(t)
	ctx := context.Background()

	const workers = 25
	values := make(chan int64, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := conn.Transaction(func(tx *gorm.DB) error {
				value, err := alloc.Next(ctx, tx, 2025)
				if err != nil {
					return err
				}
				values <- value
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	close(values)

	seen := map[int64]bool{}
	for value := range values {
		assert.False(t, seen[value], "duplicate sequence value %d", value)
		seen[value] = true
	}
	assert.Len(t, seen, workers)
}

func TestNext_OverlappingConnectionsGetDistinctValuesOrConflict(t *testing.T) {
	conn, err := pkgdb.NewTestFile(filepath.Join(t.TempDir(), "sequence.db"), 4)
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&Counter{}))
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	alloc := NewAllocator(clock.NewFakeClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)))
	ctx := context.Background()

	type outcome struct {
		value int64
		err   error
	}

	const workers = 16
	outcomes := make(chan outcome, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var value int64
			err := conn.Transaction(func(tx *gorm.DB) error {
				var err error
				value, err = alloc.Next(ctx, tx, 2025)
				return err
			})
			outcomes <- outcome{value: value, err: err}
		}()
	}
	wg.Wait()
	close(outcomes)

	seen := map[int64]bool{}
	for o := range outcomes {
		if o.err != nil {
			assert.True(t, pkgdb.IsConflictErr(o.err), "unexpected error: %v", o.err)
			continue
		}
		assert.False(t, seen[o.value], "duplicate sequence value %d", o.value)
		seen[o.value] = true
	}
	require.NotEmpty(t, seen)

	// rolled back reservations take their increment with them
	var counter Counter
	require.NoError(t, conn.First(&counter, "year = ?", 2025).Error)
	assert.Equal(t, int64(len(seen)), counter.LastValue)
	for value := int64(1); value <= counter.LastValue; value++ {
		assert.True(t, seen[value], "missing sequence value %d", value)
	}
}

func TestNextTransactionID_Monotonic(t *testing.T) {
	alloc := NewAllocator(clock.NewFakeClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)))

	prev := alloc.NextTransactionID()
	for i := 0; i < 100; i++ {
		next := alloc.NextTransactionID()
		_, err := ulid.ParseStrict(next)
		require.NoError(t, err)
		assert.Less(t, prev, next)
		prev = next
	}
}
