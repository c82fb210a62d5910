package httpx

import (
	"context"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const (
	redisAdmissionPrefix  = "edgeship:admission:"
	redisAdmissionTimeout = 250 * time.Millisecond
)

// redisLimiter shares dispatch quotas and build locks between orchestrator replicas.
type redisLimiter struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisLimiter connects to addr and returns a Limiter backed by it.
func NewRedisLimiter(ctx context.Context, addr, password string, db int, logger *slog.Logger) (Limiter, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return newRedisLimiter(client, logger), nil
}

func newRedisLimiter(client *redis.Client, logger *slog.Logger) *redisLimiter {
	return &redisLimiter{client: client, logger: logger}
}

// Allow admits the request when Redis cannot answer; an outage must not block deployments.
func (l *redisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) admission {
	if limit <= 0 {
		return admission{allowed: true}
	}
	if window <= 0 {
		window = time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, redisAdmissionTimeout)
	defer cancel()

	k := redisAdmissionPrefix + key
	count, err := l.client.Incr(ctx, k).Result()
	if err != nil {
		l.logger.Error("admission check failed", "key", key, "error", err)
		return admission{allowed: true}
	}
	if count == 1 {
		if err := l.client.PExpire(ctx, k, window).Err(); err != nil {
			l.logger.Error("admission expiry failed", "key", key, "error", err)
		}
	}
	ttl, err := l.client.PTTL(ctx, k).Result()
	if err != nil || ttl <= 0 {
		ttl = window
	}
	return admission{
		allowed: count <= int64(limit),
		count:   int(count),
		resetAt: time.Now().Add(ttl),
	}
}

func (l *redisLimiter) Release(ctx context.Context, key string) {
	ctx, cancel := context.WithTimeout(ctx, redisAdmissionTimeout)
	defer cancel()
	if err := l.client.Del(ctx, redisAdmissionPrefix+key).Err(); err != nil {
		l.logger.Warn("admission release failed", "key", key, "error", err)
	}
}

func (l *redisLimiter) Close() {
	_ = l.client.Close()
}
