package lock

import (
	"context"
	"sync"
)

// LocalLocker serializes holders within one process.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: map[string]chan struct{}{}}
}

func (l *LocalLocker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

func (l *LocalLocker) Acquire(ctx context.Context, keys []string, opts Options) (Release, error) {
	keys = normalizeKeys(keys)

	waitCtx := ctx
	if opts.Wait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, opts.Wait)
		defer cancel()
	}

	held := make([]chan struct{}, 0, len(keys))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i]
		}
	}

	for _, key := range keys {
		ch := l.slot(key)
		if opts.Wait <= 0 {
			select {
			case ch <- struct{}{}:
				held = append(held, ch)
				continue
			default:
				release()
				return nil, ErrLockTimeout
			}
		}

		select {
		case ch <- struct{}{}:
			held = append(held, ch)
		case <-waitCtx.Done():
			release()
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return nil, ErrLockTimeout
		}
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}
