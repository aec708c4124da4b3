package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jornada-hub/jornada/internal/domain/shared"
	"github.com/jornada-hub/jornada/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// REDIS EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "jornada:events"

// RedisClient is the pub/sub surface the bus needs.
type RedisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channels ...string) (<-chan RedisMessage, error)
	Close() error
}

// RedisMessage is a message received from Redis Pub/Sub.
type RedisMessage struct {
	Channel string
	Payload string
	Err     error
}

// RedisEventBus publishes every event to a Redis channel and delivers events
// from other instances to local handlers. Events published here are handled
// locally right away and skipped when they come back from Redis.
type RedisEventBus struct {
	client     RedisClient
	localBus   *InMemoryEventBus
	channel    string
	instanceID string
	log        *logger.Logger
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.RWMutex
	closed     bool
}

// RedisEventBusConfig contains configuration for RedisEventBus.
type RedisEventBusConfig struct {
	Client RedisClient

	// Channel defaults to DefaultChannel.
	Channel string

	// InstanceID filters self-published events. Generated when empty.
	InstanceID string

	LocalBusConfig InMemoryEventBusConfig
	Logger         *logger.Logger
}

// NewRedisEventBus creates the bus and starts listening on the channel.
func NewRedisEventBus(config RedisEventBusConfig) (*RedisEventBus, error) {
	if config.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if config.Channel == "" {
		config.Channel = DefaultChannel
	}
	if config.InstanceID == "" {
		config.InstanceID = uuid.NewString()
	}
	if config.Logger == nil {
		config.Logger = logger.Nop()
	}
	if config.LocalBusConfig.Logger == nil {
		config.LocalBusConfig.Logger = config.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	bus := &RedisEventBus{
		client:     config.Client,
		localBus:   NewInMemoryEventBus(config.LocalBusConfig),
		channel:    config.Channel,
		instanceID: config.InstanceID,
		log:        config.Logger.With(logger.Component("redis_eventbus"), logger.String("instance_id", config.InstanceID)),
		ctx:        ctx,
		cancel:     cancel,
	}

	messages, err := bus.client.Subscribe(ctx, bus.channel)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe %s: %w", bus.channel, err)
	}
	bus.wg.Add(1)
	go func() {
		defer bus.wg.Done()
		bus.listen(messages)
	}()

	return bus, nil
}

// Subscribe registers a handler for one event type.
func (b *RedisEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.localBus.Subscribe(eventType, handler)
}

// SubscribeAll registers a handler for all events.
func (b *RedisEventBus) SubscribeAll(handler shared.EventHandler) error {
	return b.localBus.SubscribeAll(handler)
}

// Publish sends the event to Redis and to local handlers. A Redis failure is
// logged; local delivery still happens.
func (b *RedisEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errors.New("event cannot be nil")
	}

	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrEventBusClosed
	}

	data, err := json.Marshal(eventEnvelope{
		InstanceID:  b.instanceID,
		EventType:   event.EventType(),
		AggregateID: event.AggregateID(),
		OccurredAt:  event.OccurredAt(),
		Payload:     event.Payload(),
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := b.client.Publish(b.ctx, b.channel, string(data)); err != nil {
		b.log.Error("failed to publish to redis",
			logger.String("event_type", string(event.EventType())),
			logger.Err(err),
		)
	}
	return b.localBus.Publish(event)
}

func (b *RedisEventBus) listen(messages <-chan RedisMessage) {
	for {
		select {
		case <-b.ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			if msg.Err != nil {
				b.log.Error("redis subscription error", logger.Err(msg.Err))
				continue
			}
			b.deliver(msg)
		}
	}
}

func (b *RedisEventBus) deliver(msg RedisMessage) {
	var envelope eventEnvelope
	if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
		b.log.Error("failed to unmarshal event", logger.Err(err))
		return
	}
	if envelope.InstanceID == b.instanceID {
		return
	}

	if err := b.localBus.Publish(&RemoteEvent{
		eventType:   envelope.EventType,
		aggregateID: envelope.AggregateID,
		occurredAt:  envelope.OccurredAt,
		payload:     envelope.Payload,
	}); err != nil {
		b.log.Error("failed to process remote event", logger.Err(err))
	}
}

// Close stops listening and closes the local bus. The Redis client is closed
// too.
func (b *RedisEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()

	if err := b.localBus.Close(); err != nil {
		b.log.Error("failed to close local bus", logger.Err(err))
	}
	return b.client.Close()
}

// Metrics returns the metrics of the local bus.
func (b *RedisEventBus) Metrics() *EventBusMetrics {
	return b.localBus.Metrics()
}

// ══════════════════════════════════════════════════════════════════════════════
// ENVELOPE
// ══════════════════════════════════════════════════════════════════════════════

type eventEnvelope struct {
	InstanceID  string                 `json:"instance_id"`
	EventType   shared.EventType       `json:"event_type"`
	AggregateID string                 `json:"aggregate_id"`
	OccurredAt  time.Time              `json:"occurred_at"`
	Payload     map[string]interface{} `json:"payload"`
}

// RemoteEvent is an event received from another instance. Only the envelope
// survives the trip, so handlers see it as a generic shared.Event.
type RemoteEvent struct {
	eventType   shared.EventType
	aggregateID string
	occurredAt  time.Time
	payload     map[string]interface{}
}

// EventType implements shared.Event.
func (e *RemoteEvent) EventType() shared.EventType { return e.eventType }

// AggregateID implements shared.Event.
func (e *RemoteEvent) AggregateID() string { return e.aggregateID }

// OccurredAt implements shared.Event.
func (e *RemoteEvent) OccurredAt() time.Time { return e.occurredAt }

// Payload implements shared.Event.
func (e *RemoteEvent) Payload() map[string]interface{} { return e.payload }
