package messaging

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jornada-hub/jornada/internal/domain/shared"
)

func badgeEvent(userID string) shared.Event {
	return shared.BadgeEarnedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventBadgeEarned, userID, time.Date(2024, 5, 20, 10, 0, 0, 0, time.UTC)),
		BadgeID:   "first_book",
		BadgeName: "Primeiro Livro",
	}
}

func TestInMemoryEventBus_Sync(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{EnableMetrics: true})
	defer bus.Close()

	var typed, all []string
	require.NoError(t, bus.Subscribe(shared.EventBadgeEarned, func(e shared.Event) error {
		typed = append(typed, e.AggregateID())
		return nil
	}))
	require.NoError(t, bus.Subscribe(shared.EventPhaseChanged, func(shared.Event) error {
		t.Fatal("wrong event type delivered")
		return nil
	}))
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		all = append(all, string(e.EventType()))
		return errors.New("ignored")
	}))

	require.NoError(t, bus.Publish(badgeEvent("u-1")))

	assert.Equal(t, []string{"u-1"}, typed)
	assert.Equal(t, []string{string(shared.EventBadgeEarned)}, all)

	snap := bus.Metrics().Snapshot()
	assert.Equal(t, int64(1), snap.TotalPublished)
	assert.Equal(t, int64(2), snap.HandlerRuns)
	assert.Equal(t, int64(1), snap.HandlerFailures)
}

func TestInMemoryEventBus_RecoversPanics(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{})
	defer bus.Close()

	called := false
	require.NoError(t, bus.Subscribe(shared.EventBadgeEarned, func(shared.Event) error { panic("boom") }))
	require.NoError(t, bus.Subscribe(shared.EventBadgeEarned, func(shared.Event) error {
		called = true
		return nil
	}))

	assert.NoError(t, bus.Publish(badgeEvent("u-1")))
	assert.True(t, called)
}

func TestInMemoryEventBus_AsyncCloseWaits(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 2})

	var n atomic.Int32
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		time.Sleep(5 * time.Millisecond)
		n.Add(1)
		return nil
	}))
	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(badgeEvent("u-1")))
	}

	require.NoError(t, bus.Close())
	assert.Equal(t, int32(5), n.Load())

	assert.ErrorIs(t, bus.Publish(badgeEvent("u-1")), ErrEventBusClosed)
	assert.ErrorIs(t, bus.SubscribeAll(func(shared.Event) error { return nil }), ErrEventBusClosed)
}

// ══════════════════════════════════════════════════════════════════════════════
// REDIS EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// fakeBroker fans published messages out to every subscriber.
type fakeBroker struct {
	mu   sync.Mutex
	subs []chan RedisMessage
}

type fakeClient struct {
	broker *fakeBroker
	failed bool
}

func (c *fakeClient) Publish(_ context.Context, channel string, message interface{}) error {
	if c.failed {
		return errors.New("redis down")
	}
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	for _, s := range c.broker.subs {
		s <- RedisMessage{Channel: channel, Payload: message.(string)}
	}
	return nil
}

func (c *fakeClient) Subscribe(context.Context, ...string) (<-chan RedisMessage, error) {
	ch := make(chan RedisMessage, 16)
	c.broker.mu.Lock()
	c.broker.subs = append(c.broker.subs, ch)
	c.broker.mu.Unlock()
	return ch, nil
}

func (c *fakeClient) Close() error { return nil }

func TestRedisEventBus_FansOutToOtherInstances(t *testing.T) {
	broker := &fakeBroker{}
	a, err := NewRedisEventBus(RedisEventBusConfig{Client: &fakeClient{broker: broker}, InstanceID: "a"})
	require.NoError(t, err)
	defer a.Close()
	b, err := NewRedisEventBus(RedisEventBusConfig{Client: &fakeClient{broker: broker}, InstanceID: "b"})
	require.NoError(t, err)
	defer b.Close()

	var localA atomic.Int32
	require.NoError(t, a.SubscribeAll(func(shared.Event) error {
		localA.Add(1)
		return nil
	}))

	received := make(chan shared.Event, 1)
	require.NoError(t, b.Subscribe(shared.EventBadgeEarned, func(e shared.Event) error {
		received <- e
		return nil
	}))

	require.NoError(t, a.Publish(badgeEvent("u-7")))

	select {
	case e := <-received:
		assert.Equal(t, "u-7", e.AggregateID())
		assert.Equal(t, "first_book", e.Payload()["badge_id"])
		_, remote := e.(*RemoteEvent)
		assert.True(t, remote)
	case <-time.After(time.Second):
		t.Fatal("event not delivered to the other instance")
	}

	// Local handlers run asynchronously; the echo from Redis must not add a second call.
	require.Eventually(t, func() bool { return localA.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), localA.Load())
}

func TestRedisEventBus_RedisFailureStillDeliversLocally(t *testing.T) {
	bus, err := NewRedisEventBus(RedisEventBusConfig{
		Client:         &fakeClient{broker: &fakeBroker{}, failed: true},
		LocalBusConfig: InMemoryEventBusConfig{AsyncMode: false},
	})
	require.NoError(t, err)
	defer bus.Close()

	called := false
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		called = true
		return nil
	}))

	assert.NoError(t, bus.Publish(badgeEvent("u-1")))
	assert.True(t, called)
}

func TestRedisEventBus_RequiresClient(t *testing.T) {
	_, err := NewRedisEventBus(RedisEventBusConfig{})
	assert.Error(t, err)
}
