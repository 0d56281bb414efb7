package lock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/garyjia/fleet-requests/internal/application/port"
)

// ErrTimeout is returned when keys could not be locked within the wait bound
var ErrTimeout = errors.New("lock wait timed out")

// MemoryLocker locks keys within one process. Keys are taken in sorted order so two
// callers locking overlapping sets cannot deadlock.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]chan struct{}
	wait time.Duration
}

// NewMemoryLocker creates a locker that waits at most wait for each key
func NewMemoryLocker(wait time.Duration) *MemoryLocker {
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &MemoryLocker{held: make(map[string]chan struct{}), wait: wait}
}

// Acquire implements port.Locker
func (l *MemoryLocker) Acquire(ctx context.Context, keys ...string) (func(), error) {
	ordered := normalize(keys)

	ctx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	var taken []string
	for _, key := range ordered {
		if err := l.lock(ctx, key); err != nil {
			l.unlock(taken)
			return nil, fmt.Errorf("lock %s: %w", key, err)
		}
		taken = append(taken, key)
	}

	var once sync.Once
	return func() { once.Do(func() { l.unlock(taken) }) }, nil
}

func (l *MemoryLocker) lock(ctx context.Context, key string) error {
	for {
		l.mu.Lock()
		ch, busy := l.held[key]
		if !busy {
			l.held[key] = make(chan struct{})
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return ErrTimeout
			}
			return ctx.Err()
		}
	}
}

func (l *MemoryLocker) unlock(keys []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, key := range keys {
		if ch, ok := l.held[key]; ok {
			close(ch)
			delete(l.held, key)
		}
	}
}

// normalize sorts and deduplicates keys
func normalize(keys []string) []string {
	out := append([]string(nil), keys...)
	sort.Strings(out)
	n := 0
	for i, k := range out {
		if i > 0 && k == out[n-1] {
			continue
		}
		out[n] = k
		n++
	}
	return out[:n]
}

var _ port.Locker = (*MemoryLocker)(nil)
