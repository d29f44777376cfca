package event

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusPublishDelivers(t *testing.T) {
	bus := NewBus(Config{Workers: 1, BufferSize: 16})
	bus.Start()
	defer bus.Stop()

	var got atomic.Value
	done := make(chan struct{})
	bus.Subscribe(EventTick, func(ctx context.Context, e Event) error {
		got.Store(e.Data)
		close(done)
		return nil
	})

	require.NoError(t, bus.Publish(Event{Type: EventTick, Data: "payload"}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler was not invoked")
	}
	assert.Equal(t, "payload", got.Load())
}

func TestBusHandlerRegistrationOrder(t *testing.T) {
	bus := NewBus(Config{Workers: 1, BufferSize: 16})
	bus.Start()

	var mu sync.Mutex
	var order []int
	for i := 1; i <= 3; i++ {
		i := i
		bus.Subscribe(EventOrder, func(ctx context.Context, e Event) error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		})
	}

	require.NoError(t, bus.Publish(Event{Type: EventOrder}))
	bus.Stop()

	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestBusGeneralHandlerSeesAllTypes(t *testing.T) {
	bus := NewBus(Config{Workers: 1, BufferSize: 16})
	bus.Start()

	var count atomic.Int64
	bus.SubscribeAll(func(ctx context.Context, e Event) error {
		count.Add(1)
		return nil
	})

	require.NoError(t, bus.Publish(Event{Type: EventTick}))
	require.NoError(t, bus.Publish(Event{Type: EventOrder}))
	require.NoError(t, bus.Publish(Event{Type: EventTrade}))
	bus.Stop()

	assert.Equal(t, int64(3), count.Load())
}

func TestBusSingleWorkerPreservesFIFO(t *testing.T) {
	bus := NewBus(Config{Workers: 1, BufferSize: 128})
	bus.Start()

	var mu sync.Mutex
	var seen []int
	bus.Subscribe(EventTrade, func(ctx context.Context, e Event) error {
		mu.Lock()
		seen = append(seen, e.Data.(int))
		mu.Unlock()
		return nil
	})

	for i := 0; i < 100; i++ {
		require.NoError(t, bus.Publish(Event{Type: EventTrade, Data: i}))
	}
	bus.Stop()

	require.Len(t, seen, 100)
	for i, v := range seen {
		assert.Equal(t, i, v)
	}
}

func TestBusStopDrainsQueuedEvents(t *testing.T) {
	bus := NewBus(Config{Workers: 1, BufferSize: 256, DrainTimeout: 2 * time.Second})
	bus.Start()

	var count atomic.Int64
	bus.Subscribe(EventBar, func(ctx context.Context, e Event) error {
		count.Add(1)
		return nil
	})

	for i := 0; i < 50; i++ {
		require.NoError(t, bus.Publish(Event{Type: EventBar}))
	}
	bus.Stop()

	assert.Equal(t, int64(50), count.Load())
}

func TestBusPublishAfterStop(t *testing.T) {
	bus := NewBus(Config{Workers: 1, BufferSize: 16})
	bus.Start()
	bus.Stop()

	err := bus.Publish(Event{Type: EventTick})
	assert.ErrorIs(t, err, ErrBusClosed)

	err = bus.PublishSync(context.Background(), Event{Type: EventTick})
	assert.ErrorIs(t, err, ErrBusClosed)
}

func TestBusQueueFull(t *testing.T) {
	bus := NewBus(Config{Workers: 1, BufferSize: 1})
	// not started: nothing consumes the queue
	require.NoError(t, bus.Publish(Event{Type: EventTick}))
	err := bus.Publish(Event{Type: EventTick})
	assert.ErrorIs(t, err, ErrBusFull)
}

func TestBusPublishSyncRunsInline(t *testing.T) {
	bus := NewBus(Config{Workers: 1, BufferSize: 16})
	// PublishSync works without Start, replay engines rely on this
	var seen []string
	bus.Subscribe(EventTrade, func(ctx context.Context, e Event) error {
		seen = append(seen, "trade")
		return nil
	})
	bus.Subscribe(EventOrder, func(ctx context.Context, e Event) error {
		seen = append(seen, "order")
		return nil
	})

	ctx := context.Background()
	require.NoError(t, bus.PublishSync(ctx, Event{Type: EventTrade}))
	require.NoError(t, bus.PublishSync(ctx, Event{Type: EventOrder}))

	assert.Equal(t, []string{"trade", "order"}, seen)
}

func TestBusTimerEmitsAndSkipsWhenBusy(t *testing.T) {
	bus := NewBus(Config{Workers: 1, BufferSize: 16, TimerInterval: 20 * time.Millisecond})
	bus.Start()
	defer bus.Stop()

	var fired atomic.Int64
	block := make(chan struct{})
	bus.Subscribe(EventTimer, func(ctx context.Context, e Event) error {
		if fired.Add(1) == 1 {
			<-block // hold the worker across several ticks
		}
		return nil
	})

	time.Sleep(150 * time.Millisecond)
	close(block)
	time.Sleep(60 * time.Millisecond)

	n := fired.Load()
	// one blocked tick plus a few after release; far fewer than elapsed/interval
	assert.GreaterOrEqual(t, n, int64(2))
	assert.Less(t, n, int64(8))
}

func TestBusHandlerErrorDoesNotStopOthers(t *testing.T) {
	bus := NewBus(Config{Workers: 1, BufferSize: 16})
	bus.Start()

	var second atomic.Bool
	bus.Subscribe(EventTick, func(ctx context.Context, e Event) error {
		return assert.AnError
	})
	bus.Subscribe(EventTick, func(ctx context.Context, e Event) error {
		second.Store(true)
		return nil
	})

	require.NoError(t, bus.Publish(Event{Type: EventTick}))
	bus.Stop()

	assert.True(t, second.Load())
}
