package lock

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
)

var ErrLockTimeout = errors.New("lock_timeout")

// Options tunes a single acquisition.
type Options struct {
	// TTL bounds how long a distributed lock survives a crashed holder.
	TTL time.Duration
	// Wait bounds how long Acquire blocks. Zero means a single attempt.
	Wait time.Duration
}

// Release frees every key taken by one Acquire call. It is safe to call more than once.
type Release func()

// Locker serializes work over sets of keys. Keys are always taken in sorted order, so
// two callers with overlapping sets cannot deadlock each other.
type Locker interface {
	Acquire(ctx context.Context, keys []string, opts Options) (Release, error)
}

func normalizeKeys(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
