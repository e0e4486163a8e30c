package actions

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/solatis/ideafilter/internal/types"
)

// DefaultTrapChannel is the pub/sub channel TRAP messages are published on.
const DefaultTrapChannel = "ideafilter:trap"

// Publisher is the TRAP context records are handed to.
type Publisher interface {
	Publish(ctx context.Context, record types.Record) error
}

// RedisPublisher publishes records as JSON on a Redis pub/sub channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

// NewRedisPublisher publishes on channel, or DefaultTrapChannel when empty.
func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultTrapChannel
	}
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, record types.Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	return p.client.Publish(ctx, p.channel, data).Err()
}

// Close closes the underlying client.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

type trapAction struct {
	base
	publisher Publisher
}

func newTrap(b base, env Env) (*trapAction, error) {
	if env.Trap == nil {
		return nil, invalid("trap action requires a TRAP publisher")
	}
	return &trapAction{base: b, publisher: env.Trap}, nil
}

func (t *trapAction) Run(ctx context.Context, record types.Record) error {
	if err := t.publisher.Publish(ctx, record); err != nil {
		return transport(err, "publish to TRAP")
	}
	return nil
}
