package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/domain"
)

func TestEventBus_IsolatesFailingAndSlowHandlers(t *testing.T) {
	bus := NewEventBus(EventBusConfig{})

	failing, err := bus.Subscribe(HandlerFunc(func(context.Context, *domain.Event) bool {
		return false
	}), SubscribeOptions{Name: "failing", EventTypes: []string{"x"}})
	require.NoError(t, err)

	slow, err := bus.Subscribe(FromBlocking(func(*domain.Event) bool {
		time.Sleep(2 * time.Second)
		return true
	}), SubscribeOptions{Name: "slow", EventTypes: []string{"x"}})
	require.NoError(t, err)

	good, err := bus.Subscribe(HandlerFunc(func(context.Context, *domain.Event) bool {
		return true
	}), SubscribeOptions{Name: "good", EventTypes: []string{"x"}})
	require.NoError(t, err)

	ev := domain.NewEvent("x", nil)
	start := time.Now()
	results := bus.Publish(context.Background(), ev, 100*time.Millisecond)
	assert.Less(t, time.Since(start), time.Second)

	require.Len(t, results, 3)
	assert.False(t, results[failing])
	assert.False(t, results[slow])
	assert.True(t, results[good])
	assert.EqualValues(t, 3, ev.DeliveryAttempts())

	stats := bus.Stats()
	assert.EqualValues(t, 1, stats.TotalEventsPublished)
	assert.EqualValues(t, 1, stats.TotalEventsDelivered)
	assert.EqualValues(t, 2, stats.TotalEventsFailed)

	hs, ok := bus.HandlerStats(failing)
	require.True(t, ok)
	assert.EqualValues(t, 1, hs.EventsReceived)
	assert.EqualValues(t, 1, hs.EventsFailed)
	assert.NotNil(t, hs.LastEventAt)
}

func TestEventBus_PanickingHandlerCountsAsFailure(t *testing.T) {
	bus := NewEventBus(EventBusConfig{})
	id, err := bus.Subscribe(HandlerFunc(func(context.Context, *domain.Event) bool {
		panic("boom")
	}), SubscribeOptions{EventTypes: []string{"x"}})
	require.NoError(t, err)

	results := bus.Publish(context.Background(), domain.NewEvent("x", nil), time.Second)
	assert.False(t, results[id])
	assert.False(t, bus.PublishSync(context.Background(), domain.NewEvent("x", nil), time.Second))
}

func TestEventBus_GlobalAndTypedHandlers(t *testing.T) {
	bus := NewEventBus(EventBusConfig{})
	var typed, global atomic.Int32

	_, err := bus.Subscribe(HandlerFunc(func(context.Context, *domain.Event) bool {
		typed.Add(1)
		return true
	}), SubscribeOptions{EventTypes: []string{"a"}})
	require.NoError(t, err)
	_, err = bus.Subscribe(HandlerFunc(func(context.Context, *domain.Event) bool {
		global.Add(1)
		return true
	}), SubscribeOptions{Name: "all"})
	require.NoError(t, err)

	bus.Publish(context.Background(), domain.NewEvent("a", nil), 0)
	bus.Publish(context.Background(), domain.NewEvent("b", nil), 0)

	assert.EqualValues(t, 1, typed.Load())
	assert.EqualValues(t, 2, global.Load())
	assert.Equal(t, 1, bus.Stats().GlobalHandlers)
}

func TestEventBus_NoHandlers(t *testing.T) {
	bus := NewEventBus(EventBusConfig{})
	assert.Empty(t, bus.Publish(context.Background(), domain.NewEvent("nobody", nil), 0))
	assert.False(t, bus.PublishSync(context.Background(), domain.NewEvent("nobody", nil), 0))
}

func TestEventBus_Capacity(t *testing.T) {
	bus := NewEventBus(EventBusConfig{MaxHandlersPerType: 2})
	h := HandlerFunc(func(context.Context, *domain.Event) bool { return true })

	for i := 0; i < 2; i++ {
		_, err := bus.Subscribe(h, SubscribeOptions{EventTypes: []string{"x"}})
		require.NoError(t, err)
	}
	_, err := bus.Subscribe(h, SubscribeOptions{EventTypes: []string{"x"}})
	assert.True(t, errors.Is(err, ErrHandlerCapacity))
	assert.True(t, errors.Is(err, ErrValidation))

	_, err = bus.Subscribe(nil, SubscribeOptions{})
	assert.ErrorIs(t, err, ErrHandlerInvalid)
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := NewEventBus(EventBusConfig{})
	var calls atomic.Int32
	id, err := bus.Subscribe(HandlerFunc(func(context.Context, *domain.Event) bool {
		calls.Add(1)
		return true
	}), SubscribeOptions{EventTypes: []string{"a", "b"}})
	require.NoError(t, err)

	assert.True(t, bus.Unsubscribe(id, "a"))
	bus.Publish(context.Background(), domain.NewEvent("a", nil), 0)
	bus.Publish(context.Background(), domain.NewEvent("b", nil), 0)
	assert.EqualValues(t, 1, calls.Load())

	assert.True(t, bus.Unsubscribe(id))
	assert.False(t, bus.Unsubscribe(id))
	assert.Equal(t, 0, bus.Stats().HandlerCount)
}

func TestEventBus_Filters(t *testing.T) {
	bus := NewEventBus(EventBusConfig{})
	var calls atomic.Int32
	_, err := bus.Subscribe(HandlerFunc(func(context.Context, *domain.Event) bool {
		calls.Add(1)
		return true
	}), SubscribeOptions{
		Filters: []EventFilter{
			AllOf(SourceFilter("progress_manager"), Not(MetadataFilter(map[string]string{"category": "internal"}))),
		},
	})
	require.NoError(t, err)

	publish := func(source, category string) {
		ev := domain.NewEvent("task.created", nil,
			domain.WithSource(source),
			domain.WithMetadata(map[string]string{"category": category}))
		bus.Publish(context.Background(), ev, 0)
	}
	publish("progress_manager", "build")
	publish("progress_manager", "internal")
	publish("other", "build")

	assert.EqualValues(t, 1, calls.Load())
}

func TestEventFilters(t *testing.T) {
	ev := domain.NewEvent("task.failed", nil, domain.WithCorrelationID("t1"))

	assert.True(t, TypeFilter("task.failed", "task.completed").Match(ev))
	assert.False(t, TypeFilter("task.created").Match(ev))
	assert.True(t, CorrelationFilter("t1").Match(ev))
	assert.True(t, AnyOf(TypeFilter("nope"), CorrelationFilter("t1")).Match(ev))
	assert.False(t, AnyOf().Match(ev))
	assert.True(t, AllOf().Match(ev))
}
