package bus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	redis "github.com/redis/go-redis/v9"
)

// Redis implements Bus on Redis PUBLISH/PSUBSCRIBE.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to the Redis server at rawURL and verifies it answers PING.
func NewRedis(ctx context.Context, rawURL string) (*Redis, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Redis{client: client}, nil
}

// Publish sends payload to channel.
func (r *Redis) Publish(ctx context.Context, channel string, payload []byte) error {
	if r == nil || r.client == nil {
		return errors.New("redis bus not initialised")
	}
	return r.client.Publish(ctx, channel, payload).Err()
}

// PSubscribe subscribes to pattern and dispatches messages to fn from a single goroutine.
func (r *Redis) PSubscribe(ctx context.Context, pattern string, fn Handler) (io.Closer, error) {
	if r == nil || r.client == nil {
		return nil, errors.New("redis bus not initialised")
	}
	if fn == nil {
		return nil, errors.New("nil handler")
	}
	pubsub := r.client.PSubscribe(ctx, pattern)
	// Wait for the subscription confirmation so no message published after return is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis psubscribe %s: %w", pattern, err)
	}
	sub := &redisSubscription{pubsub: pubsub}
	messages := pubsub.Channel()
	go func() {
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				fn(msg.Channel, []byte(msg.Payload))
			}
		}
	}()
	return sub, nil
}

// Ping verifies the server is reachable.
func (r *Redis) Ping(ctx context.Context) error {
	if r == nil || r.client == nil {
		return errors.New("redis bus not initialised")
	}
	return r.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (r *Redis) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}

type redisSubscription struct {
	pubsub *redis.PubSub
	once   sync.Once
	err    error
}

func (s *redisSubscription) Close() error {
	s.once.Do(func() {
		s.err = s.pubsub.Close()
	})
	return s.err
}
