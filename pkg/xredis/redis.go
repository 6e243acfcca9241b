package xredis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Config struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
}

// NewRedis 创建客户端并 Ping，Addr 为空表示不启用 redis，返回 nil
func NewRedis(ctx context.Context, c *Config) (*redis.Client, error) {
	if c == nil || c.Addr == "" {
		return nil, nil
	}
	poolSize := c.PoolSize
	if poolSize <= 0 {
		poolSize = 100
	}
	minIdle := c.MinIdleConns
	if minIdle <= 0 {
		minIdle = 10
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         c.Addr,
		Password:     c.Password,
		DB:           c.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     poolSize,
		MinIdleConns: minIdle,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", c.Addr, err)
	}
	return rdb, nil
}
