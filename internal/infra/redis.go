package infra

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/paymentwall/internal/config"
)

// RedisOptions configures the client used for idempotency records, transfer
// claims, rate limits and event publishing.
type RedisOptions struct {
	URL string
	// Timeout bounds reads and writes; dialing gets twice as long.
	Timeout  time.Duration
	PoolSize int
}

// RedisOptionsFrom reads client settings from the service configuration.
func RedisOptionsFrom(cfg config.Config) RedisOptions {
	return RedisOptions{URL: cfg.RedisURL, Timeout: cfg.RedisTimeout, PoolSize: cfg.RedisPoolSize}
}

func (o RedisOptions) clientOptions() (*redis.Options, error) {
	if o.URL == "" {
		return nil, fmt.Errorf("redis url is required")
	}
	opt, err := redis.ParseURL(o.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if o.Timeout > 0 {
		opt.DialTimeout = 2 * o.Timeout
		opt.ReadTimeout = o.Timeout
		opt.WriteTimeout = o.Timeout
	}
	if o.PoolSize > 0 {
		opt.PoolSize = o.PoolSize
	}
	return opt, nil
}

// NewRedisClient builds a client from opts and pings it.
func NewRedisClient(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	opt, err := opts.clientOptions()
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
