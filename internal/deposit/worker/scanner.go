package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"depositgate.com/internal/deposit/domain"
	"depositgate.com/pkg/logger"
	"depositgate.com/pkg/metrics"
)

// BlockSource 扫块用到的链能力
type BlockSource interface {
	CurrentBlockHeight(ctx context.Context) (uint64, error)
	BlockDeposits(ctx context.Context, number uint64, to string) ([]*domain.ChainTransaction, error)
}

// DepositCrediter 扫到的交易交给 service 校验入账
type DepositCrediter interface {
	CreditObserved(ctx context.Context, tx *domain.ChainTransaction, height uint64) (*domain.Result, error)
}

// Cursor 扫块进度的持久化
type Cursor interface {
	Load(ctx context.Context, name string) (uint64, bool, error)
	Store(ctx context.Context, name string, height uint64) error
}

type ScannerConfig struct {
	Name           string // 游标名
	DepositAddress string
	Confirmations  uint64 // 只扫 head - Confirmations 及之前的块
	Interval       time.Duration
	BatchBlocks    uint64 // 每轮最多扫多少块
	StartBlock     uint64 // 没有游标时的起点，0 = 从当前已确认高度开始
	LockKey        string
	LockTTL        time.Duration
}

// Scanner 不等用户提交，按块扫描打到充值地址的交易并入账
type Scanner struct {
	cfg      ScannerConfig
	chain    BlockSource
	crediter DepositCrediter
	cursor   Cursor
	master   *leadership
}

func NewScanner(cfg ScannerConfig, chain BlockSource, crediter DepositCrediter, cursor Cursor, lock MasterLock) *Scanner {
	if cfg.Name == "" {
		cfg.Name = "deposit-scanner"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 12 * time.Second
	}
	if cfg.BatchBlocks == 0 {
		cfg.BatchBlocks = 20
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 3 * cfg.Interval
	}
	return &Scanner{
		cfg:      cfg,
		chain:    chain,
		crediter: crediter,
		cursor:   cursor,
		master:   &leadership{name: "scanner", lock: lock, key: cfg.LockKey, ttl: cfg.LockTTL},
	}
}

// Start 阻塞直到 ctx 结束
func (s *Scanner) Start(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	logger.Info(ctx, "scanner started",
		zap.String("cursor", s.cfg.Name),
		zap.Duration("interval", s.cfg.Interval),
		zap.Uint64("confirmations", s.cfg.Confirmations),
	)

	for {
		select {
		case <-ctx.Done():
			s.master.release(ctx)
			logger.Info(ctx, "scanner stopped")
			return
		case <-ticker.C:
			if !s.master.acquire(ctx) {
				continue
			}
			if _, err := s.RunOnce(ctx); err != nil {
				logger.Error(ctx, "scan round failed", zap.Error(err))
			}
		}
	}
}

// RunOnce 从游标往后扫一批已确认的块，返回处理完的块数
// 每处理完一个块就推进游标，中途失败下一轮从失败的块重扫
func (s *Scanner) RunOnce(ctx context.Context) (int, error) {
	head, err := s.chain.CurrentBlockHeight(ctx)
	if err != nil {
		return 0, err
	}
	if head < s.cfg.Confirmations {
		return 0, nil
	}
	safe := head - s.cfg.Confirmations

	last, ok, err := s.cursor.Load(ctx, s.cfg.Name)
	if err != nil {
		return 0, err
	}
	var from uint64
	switch {
	case ok:
		from = last + 1
	case s.cfg.StartBlock > 0:
		from = s.cfg.StartBlock
	default:
		// 第一次运行：不回扫历史，从当前已确认高度开始
		from = safe
	}
	if from > safe {
		return 0, nil
	}
	to := safe
	if to-from+1 > s.cfg.BatchBlocks {
		to = from + s.cfg.BatchBlocks - 1
	}

	done := 0
	for n := from; n <= to; n++ {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		if err := s.scanBlock(ctx, n, head); err != nil {
			logger.Error(ctx, "scan block failed", zap.Uint64("block", n), zap.Error(err))
			return done, err
		}
		if err := s.cursor.Store(ctx, s.cfg.Name, n); err != nil {
			// 游标写不进去就停下，避免下一轮从旧位置重复拉块
			return done, err
		}
		metrics.ScannedHeight.Set(float64(n))
		done++
	}
	logger.Debug(ctx, "scan round finished",
		zap.Uint64("from", from),
		zap.Uint64("to", to),
		zap.Uint64("head", head),
	)
	return done, nil
}

func (s *Scanner) scanBlock(ctx context.Context, n, head uint64) error {
	deposits, err := s.chain.BlockDeposits(ctx, n, s.cfg.DepositAddress)
	if err != nil {
		return err
	}
	for _, tx := range deposits {
		res, err := s.crediter.CreditObserved(ctx, tx, head)
		if err != nil {
			// 账本故障：游标不动，整块下一轮重来，入账幂等
			return err
		}
		logger.Info(ctx, "scanned deposit",
			zap.String("tx_hash", res.TxHash),
			zap.Uint64("block", n),
			zap.String("outcome", string(res.Outcome)),
			zap.String("reason", string(res.Reason)),
			zap.Bool("already_credited", res.AlreadyCredited),
		)
	}
	return nil
}
