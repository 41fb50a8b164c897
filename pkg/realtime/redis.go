package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisPublisher publishes messages on redis channels named prefix+key.
type RedisPublisher struct {
	client *redis.Client
	prefix string
}

// NewRedisPublisher builds a publisher over an existing client.
func NewRedisPublisher(client *redis.Client, prefix string) *RedisPublisher {
	return &RedisPublisher{client: client, prefix: prefix}
}

func (p *RedisPublisher) Publish(ctx context.Context, msg Message) error {
	frame, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.prefix+msg.Key, frame).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", msg.Key, err)
	}
	return nil
}

// RedisRelay forwards every prefixed redis message into a local hub so
// consoles on any instance see events committed by any other.
type RedisRelay struct {
	client *redis.Client
	prefix string
	hub    *Hub
	logger *zap.Logger
}

func NewRedisRelay(client *redis.Client, prefix string, hub *Hub, logger *zap.Logger) *RedisRelay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisRelay{client: client, prefix: prefix, hub: hub, logger: logger}
}

// Run blocks until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.client.PSubscribe(ctx, r.prefix+"*")
	defer sub.Close() //nolint:errcheck

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe realtime channels: %w", err)
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			key := strings.TrimPrefix(m.Channel, r.prefix)
			r.hub.Deliver(key, []byte(m.Payload))
		}
	}
}
