package circuitbreaker

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisWrapper runs Redis operations behind a breaker. redis.Nil is a normal
// miss and redis.TxFailedErr a lost optimistic race; neither is a failure.
type RedisWrapper struct {
	client  redis.UniversalClient
	breaker *Breaker
}

// NewRedisWrapper wraps client with a breaker configured by RedisConfig().
func NewRedisWrapper(client redis.UniversalClient, service string, logger *zap.Logger) *RedisWrapper {
	cfg := RedisConfig()
	cfg.IsSuccessful = func(err error) bool {
		return errors.Is(err, redis.Nil) || errors.Is(err, redis.TxFailedErr)
	}
	return &RedisWrapper{client: client, breaker: New("redis", service, cfg, logger)}
}

// Client returns the wrapped client.
func (w *RedisWrapper) Client() redis.UniversalClient { return w.client }

// Do runs fn with the client under the breaker.
func (w *RedisWrapper) Do(ctx context.Context, fn func(ctx context.Context, c redis.UniversalClient) error) error {
	return w.breaker.Execute(ctx, func() error { return fn(ctx, w.client) })
}

// Ping checks connectivity through the breaker.
func (w *RedisWrapper) Ping(ctx context.Context) error {
	return w.Do(ctx, func(ctx context.Context, c redis.UniversalClient) error {
		return c.Ping(ctx).Err()
	})
}

// IsOpen reports whether calls are currently being rejected.
func (w *RedisWrapper) IsOpen() bool { return w.breaker.State() == StateOpen }
