package xredis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"depositgate.com/pkg/logger"
)

// 只有锁的持有者才能续期 / 释放
var (
	renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// RedisLockMaster 多副本选主：谁拿到锁谁干活
type RedisLockMaster struct {
	rdb *redis.Client
	id  string // 当前节点的唯一ID
}

func NewRedisLockMaster(rdb *redis.Client) *RedisLockMaster {
	return &RedisLockMaster{
		rdb: rdb,
		id:  fmt.Sprintf("%s-%d", uuid.NewString(), time.Now().UnixNano()),
	}
}

// ID 锁里存的持有者标识，单实例模式为 "standalone"
func (r *RedisLockMaster) ID() string {
	if r == nil {
		return "standalone"
	}
	return r.id
}

// TryAcquireMaster 抢锁或续期；rdb 为空时视为单实例，永远是 master
func (r *RedisLockMaster) TryAcquireMaster(ctx context.Context, key string, ttl time.Duration) bool {
	if r == nil || r.rdb == nil {
		return true
	}
	ok, err := r.rdb.SetNX(ctx, key, r.id, ttl).Result()
	if err != nil {
		logger.Warn(ctx, "redis lock acquire failed", zap.String("key", key), zap.Error(err))
		return false
	}
	if ok {
		return true
	}

	// 锁已存在：是自己的就续期
	n, err := renewScript.Run(ctx, r.rdb, []string{key}, r.id, ttl.Milliseconds()).Int64()
	if err != nil {
		logger.Warn(ctx, "redis lock renew failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return n == 1
}

// Release 主动释放 (进程退出时调用)
func (r *RedisLockMaster) Release(ctx context.Context, key string) {
	if r == nil || r.rdb == nil {
		return
	}
	if err := releaseScript.Run(ctx, r.rdb, []string{key}, r.id).Err(); err != nil && err != redis.Nil {
		logger.Warn(ctx, "redis lock release failed", zap.String("key", key), zap.Error(err))
	}
}
