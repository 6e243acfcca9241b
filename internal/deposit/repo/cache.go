package repo

import (
	"context"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"

	"depositgate.com/internal/deposit/domain"
	"depositgate.com/pkg/metrics"
)

const creditedKeyPrefix = "deposit:credited:"

type redisCreditedCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCreditedCache client 为 nil 时返回空实现 (永远 miss)
func NewCreditedCache(c *redis.Client, ttl time.Duration) domain.CreditedCache {
	if c == nil {
		return noopCache{}
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &redisCreditedCache{client: c, ttl: ttl}
}

func (r *redisCreditedCache) IsCredited(ctx context.Context, txHash string) (bool, error) {
	start := time.Now()
	n, err := r.client.Exists(ctx, r.getKey(txHash)).Result()
	metrics.RedisCmdDuration.WithLabelValues("exists", metrics.Status(err)).Observe(time.Since(start).Seconds())
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *redisCreditedCache) MarkCredited(ctx context.Context, txHash string) error {
	start := time.Now()
	// 加入随机时间 防止同时过期
	err := r.client.Set(ctx, r.getKey(txHash), 1, withJitter(r.ttl, time.Minute)).Err()
	metrics.RedisCmdDuration.WithLabelValues("set", metrics.Status(err)).Observe(time.Since(start).Seconds())
	return err
}

func (r *redisCreditedCache) getKey(txHash string) string {
	return creditedKeyPrefix + txHash
}

func withJitter(ttl time.Duration, jitter time.Duration) time.Duration {
	if ttl <= 0 || jitter <= 0 {
		return ttl
	}
	// [0, jitter) 的随机
	return ttl + time.Duration(rand.Int63n(int64(jitter)))
}

type noopCache struct{}

func (noopCache) IsCredited(context.Context, string) (bool, error) { return false, nil }
func (noopCache) MarkCredited(context.Context, string) error       { return nil }
