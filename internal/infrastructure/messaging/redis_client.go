package messaging

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// GoRedisClient adapts a go-redis client to RedisClient.
type GoRedisClient struct {
	client *redis.Client

	mu     sync.Mutex
	subs   []*redis.PubSub
	closed bool
}

var _ RedisClient = (*GoRedisClient)(nil)

// NewGoRedisClient wraps client. The client stays owned by the caller; Close
// only ends the subscriptions opened here.
func NewGoRedisClient(client *redis.Client) *GoRedisClient {
	return &GoRedisClient{client: client}
}

// Publish implements RedisClient.
func (c *GoRedisClient) Publish(ctx context.Context, channel string, message interface{}) error {
	return c.client.Publish(ctx, channel, message).Err()
}

// Subscribe implements RedisClient. The returned channel is closed when ctx is
// done or the client is closed.
func (c *GoRedisClient) Subscribe(ctx context.Context, channels ...string) (<-chan RedisMessage, error) {
	ps := c.client.Subscribe(ctx, channels...)
	// Wait for the subscription confirmation so that a dead server fails here.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = ps.Close()
		return nil, ErrEventBusClosed
	}
	c.subs = append(c.subs, ps)
	c.mu.Unlock()

	out := make(chan RedisMessage)
	go func() {
		defer close(out)
		in := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- RedisMessage{Channel: msg.Channel, Payload: msg.Payload}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close implements RedisClient.
func (c *GoRedisClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	var firstErr error
	for _, ps := range c.subs {
		if err := ps.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.subs = nil
	return firstErr
}
