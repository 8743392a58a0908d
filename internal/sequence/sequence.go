// Package sequence allocates transaction identifiers: an opaque time-ordered id and a
// human-readable per-year sequence number.
package sequence

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/donorbook/internal/clock"
	pkgdb "github.com/smallbiznis/donorbook/pkg/db"
	"gorm.io/gorm"
)

var ErrInvalidYear = errors.New("invalid_sequence_year")

var sequencePattern = regexp.MustCompile(`^(\d{4})-(\d{5,})$`)

// Counter is the last sequence value handed out for a year.
type Counter struct {
	Year      int       `gorm:"primaryKey;autoIncrement:false"`
	LastValue int64     `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName sets the database table name.
func (Counter) TableName() string { return "sequence_counters" }

type Allocator struct {
	clock clock.Clock

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func NewAllocator(c clock.Clock) *Allocator {
	if c == nil {
		c = clock.New()
	}
	return &Allocator{
		clock:   c,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// NextTransactionID returns a new ULID. Ids minted in the same millisecond stay
// lexically increasing.
func (a *Allocator) NextTransactionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(a.clock.Now()), a.entropy).String()
}

// Next reserves the next sequence value of year on the caller's transaction. The
// increment is one statement, so concurrent callers never observe the same value. A
// rolled back caller leaves a gap.
func (a *Allocator) Next(ctx context.Context, tx *gorm.DB, year int) (int64, error) {
	if year < 1 || year > 9999 {
		return 0, ErrInvalidYear
	}
	now := a.clock.Now().UTC()

	if tx.Dialector.Name() == pkgdb.TypeMySQL {
		return a.nextMySQL(ctx, tx, year, now)
	}

	var value int64
	err := tx.WithContext(ctx).Raw(
		`INSERT INTO sequence_counters (year, last_value, updated_at)
		VALUES (?, 1, ?)
		ON CONFLICT (year) DO UPDATE
		SET last_value = sequence_counters.last_value + 1, updated_at = excluded.updated_at
		RETURNING last_value`,
		year,
		now,
	).Scan(&value).Error
	if err != nil {
		return 0, err
	}
	if value < 1 {
		return 0, fmt.Errorf("sequence counter for %d returned %d", year, value)
	}
	return value, nil
}

func (a *Allocator) nextMySQL(ctx context.Context, tx *gorm.DB, year int, now time.Time) (int64, error) {
	db := tx.WithContext(ctx)
	if err := db.Exec(
		`INSERT INTO sequence_counters (year, last_value, updated_at)
		VALUES (?, LAST_INSERT_ID(1), ?)
		ON DUPLICATE KEY UPDATE last_value = LAST_INSERT_ID(last_value + 1), updated_at = VALUES(updated_at)`,
		year,
		now,
	).Error; err != nil {
		return 0, err
	}

	var value int64
	if err := db.Raw(`SELECT LAST_INSERT_ID()`).Scan(&value).Error; err != nil {
		return 0, err
	}
	return value, nil
}

// Format renders a sequence number such as 2025-00001.
func Format(year int, value int64) string {
	return fmt.Sprintf("%04d-%05d", year, value)
}

// Parse splits a sequence number into its year and value.
func Parse(ref string) (int, int64, bool) {
	match := sequencePattern.FindStringSubmatch(ref)
	if match == nil {
		return 0, 0, false
	}
	year, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, 0, false
	}
	value, err := strconv.ParseInt(match[2], 10, 64)
	if err != nil || value < 1 {
		return 0, 0, false
	}
	return year, value, true
}

// IsSequenceNumber reports whether ref has the shape of a sequence number.
func IsSequenceNumber(ref string) bool {
	_, _, ok := Parse(ref)
	return ok
}
