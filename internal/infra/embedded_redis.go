package infra

import (
	"context"
	"fmt"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// NewEmbeddedRedis starts an in-process Redis for development runs without
// REDIS_URL. The returned stop function closes the client and the server.
func NewEmbeddedRedis(ctx context.Context) (*redis.Client, func(), error) {
	srv, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("start embedded redis: %w", err)
	}
	client, err := NewRedisClient(ctx, RedisOptions{URL: "redis://" + srv.Addr()})
	if err != nil {
		srv.Close()
		return nil, nil, err
	}
	stop := func() {
		client.Close()
		srv.Close()
	}
	return client, stop, nil
}
