package redis

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/felipe0410/enrolment-sub004/internal/infrastructure/messaging"
)

// ══════════════════════════════════════════════════════════════════════════════
// PUB/SUB ADAPTER
// Adapts the go-redis client to the transport interface the distributed
// event bus consumes. Subscriptions are fan-in: each Subscribe call gets
// its own underlying Redis subscription and output channel.
// ══════════════════════════════════════════════════════════════════════════════

// PubSub implements messaging.RedisClient over a Redis connection.
type PubSub struct {
	client *redis.Client
	mu     sync.Mutex
	subs   []*redis.PubSub
	closed bool
}

// NewPubSub creates a pub/sub adapter sharing the cache's connection pool.
func NewPubSub(cache *Cache) *PubSub {
	return &PubSub{client: cache.Client()}
}

// Publish sends a message to the given channel.
func (p *PubSub) Publish(ctx context.Context, channel string, message interface{}) error {
	return p.client.Publish(ctx, channel, message).Err()
}

// Subscribe subscribes to the given channels and returns a message
// stream. The stream closes when ctx is cancelled or the adapter is
// closed; receive errors are forwarded on the stream rather than
// terminating it.
func (p *PubSub) Subscribe(ctx context.Context, channels ...string) (<-chan messaging.RedisMessage, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("redis: pubsub adapter is closed")
	}

	sub := p.client.Subscribe(ctx, channels...)
	p.subs = append(p.subs, sub)
	p.mu.Unlock()

	// Confirm the subscription before handing out the stream so callers
	// never publish into a channel nobody listens on yet.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis: failed to subscribe: %w", err)
	}

	out := make(chan messaging.RedisMessage)
	go func() {
		defer close(out)
		in := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- messaging.RedisMessage{Channel: msg.Channel, Payload: msg.Payload}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Close terminates every subscription. The shared Redis connection is
// owned by the Cache and stays open.
func (p *PubSub) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	var firstErr error
	for _, sub := range p.subs {
		if err := sub.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.subs = nil
	return firstErr
}
