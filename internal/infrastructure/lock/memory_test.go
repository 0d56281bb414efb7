package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLocker_MutualExclusion(t *testing.T) {
	l := NewMemoryLocker(time.Second)

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(context.Background(), "driver:d1", "vehicle:v1")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
}

func TestMemoryLocker_OverlappingSetsInReverseOrder(t *testing.T) {
	l := NewMemoryLocker(time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(context.Background(), "a", "b")
			if assert.NoError(t, err) {
				release()
			}
		}()
		go func() {
			defer wg.Done()
			release, err := l.Acquire(context.Background(), "b", "a")
			if assert.NoError(t, err) {
				release()
			}
		}()
	}
	wg.Wait()
}

func TestMemoryLocker_Timeout(t *testing.T) {
	l := NewMemoryLocker(20 * time.Millisecond)

	release, err := l.Acquire(context.Background(), "k")
	require.NoError(t, err)
	defer release()

	_, err = l.Acquire(context.Background(), "other", "k")
	assert.True(t, errors.Is(err, ErrTimeout))

	// the partially taken key must have been released
	r2, err := l.Acquire(context.Background(), "other")
	require.NoError(t, err)
	r2()
}

func TestMemoryLocker_ReleaseIsIdempotent(t *testing.T) {
	l := NewMemoryLocker(time.Second)

	release, err := l.Acquire(context.Background(), "k", "k")
	require.NoError(t, err)
	release()
	release()

	r2, err := l.Acquire(context.Background(), "k")
	require.NoError(t, err)
	r2()
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, normalize([]string{"c", "a", "b", "a"}))
	assert.Empty(t, normalize(nil))
}
