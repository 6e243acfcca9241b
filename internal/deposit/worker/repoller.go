package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"depositgate.com/internal/deposit/domain"
	"depositgate.com/pkg/logger"
	"depositgate.com/pkg/metrics"
)

// ClaimProcessor 重查用到的 service 能力
type ClaimProcessor interface {
	SubmitClaim(ctx context.Context, claim domain.Claim) (*domain.Result, error)
	Due(ctx context.Context, limit int) ([]*domain.PendingClaim, error)
	Drop(ctx context.Context, txHash string) error
}

type Config struct {
	Interval  time.Duration
	BatchSize int
	MaxAge    time.Duration // 超过这个时间还没结论就放弃
	LockKey   string
	LockTTL   time.Duration
}

// Repoller 定时把到期的 Pending 声明重新走一遍 SubmitClaim
type Repoller struct {
	cfg    Config
	proc   ClaimProcessor
	master *leadership
	now    func() time.Time
}

func NewRepoller(cfg Config, proc ClaimProcessor, lock MasterLock) *Repoller {
	if cfg.Interval <= 0 {
		cfg.Interval = 12 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 3 * cfg.Interval
	}
	return &Repoller{
		cfg:    cfg,
		proc:   proc,
		master: &leadership{name: "repoller", lock: lock, key: cfg.LockKey, ttl: cfg.LockTTL},
		now:    time.Now,
	}
}

// Start 阻塞直到 ctx 结束
func (r *Repoller) Start(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	logger.Info(ctx, "repoller started", zap.Duration("interval", r.cfg.Interval), zap.Int("batch", r.cfg.BatchSize))

	for {
		select {
		case <-ctx.Done():
			r.master.release(ctx)
			logger.Info(ctx, "repoller stopped")
			return
		case <-ticker.C:
			// 分布式锁：抢到锁才执行
			if !r.master.acquire(ctx) {
				continue
			}
			if _, err := r.RunOnce(ctx); err != nil {
				logger.Error(ctx, "repoll round failed", zap.Error(err))
			}
		}
	}
}

// RunOnce 处理一批到期声明，返回处理条数
func (r *Repoller) RunOnce(ctx context.Context) (int, error) {
	claims, err := r.proc.Due(ctx, r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	metrics.PendingClaims.Set(float64(len(claims)))

	done := 0
	for _, c := range claims {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		if r.cfg.MaxAge > 0 && r.now().Sub(c.FirstSeenAt) > r.cfg.MaxAge {
			logger.Warn(ctx, "pending claim expired, dropping",
				zap.String("tx_hash", c.TxHash),
				zap.String("reason", string(c.Reason)),
				zap.Int("attempts", c.Attempts),
				zap.Time("first_seen_at", c.FirstSeenAt),
			)
			if err := r.proc.Drop(ctx, c.TxHash); err != nil {
				logger.Warn(ctx, "drop pending claim failed", zap.String("tx_hash", c.TxHash), zap.Error(err))
			}
			done++
			continue
		}

		res, err := r.proc.SubmitClaim(ctx, domain.Claim{TxHash: c.TxHash})
		if err != nil {
			// 账本故障：留着下一轮再试
			logger.Error(ctx, "repoll claim failed", zap.String("tx_hash", c.TxHash), zap.Error(err))
			continue
		}
		logger.Debug(ctx, "repolled claim",
			zap.String("tx_hash", c.TxHash),
			zap.String("outcome", string(res.Outcome)),
			zap.String("reason", string(res.Reason)),
		)
		done++
	}
	return done, nil
}
