package httpx

import (
	"context"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const redisQuotaPrefix = "perkmanager:quota:"

type redisLimiter struct {
	client  redis.UniversalClient
	logger  *slog.Logger
	timeout time.Duration
}

// NewRedisLimiter constructs a limiter shared by every perkd replica.
func NewRedisLimiter(addr, password string, db int, logger *slog.Logger) (Limiter, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return NewRedisLimiterWithClient(client, logger), nil
}

// NewRedisLimiterWithClient wraps an existing client.
func NewRedisLimiterWithClient(client redis.UniversalClient, logger *slog.Logger) Limiter {
	return &redisLimiter{client: client, logger: logger, timeout: 250 * time.Millisecond}
}

// Take counts the hit and reads the window in one round trip. Redis failures
// let the request through.
func (l *redisLimiter) Take(key string, limit int, window time.Duration) quota {
	if limit <= 0 {
		return quota{allowed: true}
	}
	if window <= 0 {
		window = time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	redisKey := redisQuotaPrefix + key
	var (
		used *redis.IntCmd
		ttl  *redis.DurationCmd
	)
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		used = pipe.Incr(ctx, redisKey)
		pipe.ExpireNX(ctx, redisKey, window)
		ttl = pipe.PTTL(ctx, redisKey)
		return nil
	})
	if err != nil {
		if l.logger != nil {
			l.logger.Error("quota check failed", "key", key, "error", err)
		}
		return quota{allowed: true}
	}
	remaining := ttl.Val()
	if remaining <= 0 {
		remaining = window
	}
	count := int(used.Val())
	return quota{allowed: count <= limit, used: count, resetAt: time.Now().Add(remaining)}
}

func (l *redisLimiter) Close() {
	_ = l.client.Close()
}
