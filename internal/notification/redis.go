package notification

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultChannelPrefix prefixes the pub/sub channel of each message kind.
const DefaultChannelPrefix = "paymentwall:events:"

// RedisPublisher publishes notifications on Redis pub/sub channels named
// after the message kind.
type RedisPublisher struct {
	client *redis.Client
	prefix string
}

// NewRedisPublisher builds a publisher on the provided client.
func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client, prefix: DefaultChannelPrefix}
}

// Channel returns the channel a message of kind is published on.
func (p *RedisPublisher) Channel(kind string) string {
	return p.prefix + kind
}

// Send publishes the message body.
func (p *RedisPublisher) Send(ctx context.Context, message Message) error {
	if err := p.client.Publish(ctx, p.Channel(message.Kind), message.Body).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", message.Kind, err)
	}
	return nil
}
