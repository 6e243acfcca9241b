package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"depositgate.com/pkg/logger"
)

// MasterLock 多副本只让一个干活
type MasterLock interface {
	TryAcquireMaster(ctx context.Context, key string, ttl time.Duration) bool
	Release(ctx context.Context, key string)
	ID() string
}

// leadership 记住自己是不是 master，切换时打一条日志
type leadership struct {
	name     string
	lock     MasterLock
	key      string
	ttl      time.Duration
	isMaster bool
}

func (l *leadership) acquire(ctx context.Context) bool {
	ok := l.lock.TryAcquireMaster(ctx, l.key, l.ttl)
	if ok == l.isMaster {
		return ok
	}
	l.isMaster = ok
	if ok {
		logger.Info(ctx, l.name+" became master", zap.String("key", l.key), zap.String("owner", l.lock.ID()))
	} else {
		logger.Warn(ctx, l.name+" lost master", zap.String("key", l.key), zap.String("owner", l.lock.ID()))
	}
	return ok
}

// release 退出时主动释放，别的副本不用等 TTL
func (l *leadership) release(ctx context.Context) {
	l.lock.Release(context.WithoutCancel(ctx), l.key)
	l.isMaster = false
}
