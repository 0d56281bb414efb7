package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/fleet-requests/internal/domain/event"
)

// mockLogger implements Logger for testing
type mockLogger struct {
	mu     sync.Mutex
	infos  []string
	errors []string
}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infos = append(m.infos, msg)
}

func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, msg)
}

func (m *mockLogger) ErrorCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.errors)
}

func newEvent(t event.Type) *event.Event {
	return event.NewEvent(t, "req-1", nil)
}

func TestDispatch(t *testing.T) {
	t.Run("runs type handlers then wildcard handlers in order", func(t *testing.T) {
		d := NewDispatcher()
		var mu sync.Mutex
		var order []string
		record := func(name string) Handler {
			return func(ctx context.Context, evt *event.Event) error {
				mu.Lock()
				defer mu.Unlock()
				order = append(order, name)
				return nil
			}
		}

		d.SubscribeAll("all", record("all"))
		d.Subscribe(event.TypeRequestTransitioned, record("first"))
		d.Subscribe(event.TypeRequestTransitioned, record("second"))
		d.Subscribe(event.TypeTripStarted, record("other"))

		require.NoError(t, d.Dispatch(context.Background(), newEvent(event.TypeRequestTransitioned)))
		assert.Equal(t, []string{"first", "second", "all"}, order)
	})

	t.Run("returns first error encountered", func(t *testing.T) {
		d := NewDispatcher()
		expectedErr := errors.New("handler error")
		called := false

		d.Subscribe(event.TypeRequestCreated, func(ctx context.Context, evt *event.Event) error {
			return expectedErr
		})
		d.Subscribe(event.TypeRequestCreated, func(ctx context.Context, evt *event.Event) error {
			called = true
			return nil
		})

		err := d.Dispatch(context.Background(), newEvent(event.TypeRequestCreated))
		assert.ErrorIs(t, err, expectedErr)
		assert.False(t, called)
	})

	t.Run("recovers from handler panic", func(t *testing.T) {
		logger := &mockLogger{}
		d := NewDispatcher(WithLogger(logger))
		d.Subscribe(event.TypeRequestCreated, func(ctx context.Context, evt *event.Event) error {
			panic("test panic")
		})

		err := d.Dispatch(context.Background(), newEvent(event.TypeRequestCreated))
		assert.Error(t, err)
		assert.Positive(t, logger.ErrorCount())
	})

	t.Run("returns error when dispatcher is closed", func(t *testing.T) {
		d := NewDispatcher()
		require.NoError(t, d.Close())
		assert.Error(t, d.Dispatch(context.Background(), newEvent(event.TypeRequestCreated)))
	})
}

func TestDispatchAsync(t *testing.T) {
	t.Run("handlers outlive a cancelled caller context", func(t *testing.T) {
		d := NewDispatcher()
		var sawCancel atomic.Bool
		var called atomic.Int32

		d.SubscribeAll("all", func(ctx context.Context, evt *event.Event) error {
			time.Sleep(20 * time.Millisecond)
			if ctx.Err() != nil {
				sawCancel.Store(true)
			}
			called.Add(1)
			return nil
		})

		ctx, cancel := context.WithCancel(context.Background())
		d.DispatchAsync(ctx, newEvent(event.TypeTripLocation))
		cancel()

		require.NoError(t, d.Close())
		assert.Equal(t, int32(1), called.Load())
		assert.False(t, sawCancel.Load())
	})

	t.Run("bounds handler time", func(t *testing.T) {
		d := NewDispatcher(WithHandlerTimeout(10 * time.Millisecond))
		var deadline atomic.Bool

		d.Subscribe(event.TypeTripStarted, func(ctx context.Context, evt *event.Event) error {
			<-ctx.Done()
			deadline.Store(errors.Is(ctx.Err(), context.DeadlineExceeded))
			return ctx.Err()
		})

		d.DispatchAsync(context.Background(), newEvent(event.TypeTripStarted))
		require.NoError(t, d.Close())
		assert.True(t, deadline.Load())
	})

	t.Run("no dispatch after close", func(t *testing.T) {
		d := NewDispatcher()
		var called atomic.Int32
		d.Subscribe(event.TypeRequestCreated, func(ctx context.Context, evt *event.Event) error {
			called.Add(1)
			return nil
		})

		require.NoError(t, d.Close())
		d.DispatchAsync(context.Background(), newEvent(event.TypeRequestCreated))
		time.Sleep(20 * time.Millisecond)
		assert.Zero(t, called.Load())
	})
}

func TestUnsubscribeAndList(t *testing.T) {
	d := NewDispatcher()
	noop := func(ctx context.Context, evt *event.Event) error { return nil }

	d.SubscribeNamed(event.TypeTripReturned, "metrics", noop)
	d.SubscribeNamed(event.TypeTripReturned, "kafka", noop)
	d.Unsubscribe(event.TypeTripReturned, "metrics")

	handlers := d.ListHandlers(event.TypeTripReturned)
	require.Len(t, handlers, 1)
	assert.Equal(t, "kafka", handlers[0].Name)
	assert.Nil(t, handlers[0].Handler)
}

func TestClose(t *testing.T) {
	d := NewDispatcher()
	require.NoError(t, d.Close())
	assert.Error(t, d.Close())
}

func TestConcurrentSubscribeAndDispatch(t *testing.T) {
	d := NewDispatcher()
	var called atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			d.SubscribeNamed(event.TypeRequestAssigned, fmt.Sprintf("h-%d", id), func(ctx context.Context, evt *event.Event) error {
				called.Add(1)
				return nil
			})
		}(i)
	}
	wg.Wait()
	require.Len(t, d.ListHandlers(event.TypeRequestAssigned), 10)

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = d.Dispatch(context.Background(), newEvent(event.TypeRequestAssigned))
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(50), called.Load())
}
