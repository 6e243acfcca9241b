package service

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"depositgate.com/internal/deposit/domain"
	"depositgate.com/internal/deposit/policy"
	"depositgate.com/internal/deposit/validator"
	"depositgate.com/pkg/logger"
	"depositgate.com/pkg/metrics"
)

// Config 启动后不可变
type Config struct {
	DepositAddress      common.Address
	MinimumDeposit      *big.Int // wei
	MinimumDepositUnits string   // 整币单位，展示用
	ClaimTimeout        time.Duration
	NotFoundGrace       time.Duration
	RetryAfter          time.Duration // Pending 的首次重试间隔，之后指数增长
	MaxRetryAfter       time.Duration
	Retry               Retry
}

// Retry 单次请求内访问节点的重试
type Retry struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxTries        uint
}

type DepositService struct {
	cfg     Config
	chain   domain.ChainClient
	policy  *policy.Confirmation
	ledger  domain.Ledger
	pending domain.PendingStore
	cache   domain.CreditedCache

	sf     singleflight.Group
	tracer trace.Tracer
	now    func() time.Time
}

func NewDepositService(cfg Config, chain domain.ChainClient, p *policy.Confirmation, ledger domain.Ledger,
	pending domain.PendingStore, cache domain.CreditedCache) *DepositService {
	if cfg.ClaimTimeout <= 0 {
		cfg.ClaimTimeout = 10 * time.Second
	}
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = 15 * time.Second
	}
	if cfg.MaxRetryAfter < cfg.RetryAfter {
		cfg.MaxRetryAfter = cfg.RetryAfter
	}
	if cfg.Retry.MaxTries == 0 {
		cfg.Retry.MaxTries = 3
	}
	return &DepositService{
		cfg:     cfg,
		chain:   chain,
		policy:  p,
		ledger:  ledger,
		pending: pending,
		cache:   cache,
		tracer:  otel.Tracer("depositgate.com/internal/deposit/service"),
		now:     time.Now,
	}
}

// DepositInfo 对外公开的充值参数
func (s *DepositService) DepositInfo() domain.Info {
	return domain.Info{
		DepositAddress:        s.cfg.DepositAddress.Hex(),
		MinimumDeposit:        new(big.Int).Set(s.cfg.MinimumDeposit),
		MinimumDepositUnits:   s.cfg.MinimumDepositUnits,
		RequiredConfirmations: s.policy.Required(),
	}
}

// SubmitClaim 校验一笔充值声明，满足条件则入账 (每个 tx_hash 最多一次)
// 只有账本故障才返回 error，其它情况都体现在 Result 里
func (s *DepositService) SubmitClaim(ctx context.Context, claim domain.Claim) (*domain.Result, error) {
	hash, err := domain.NormalizeHash(claim.TxHash)
	if err != nil {
		return s.finish(ctx, &domain.Result{Outcome: domain.OutcomeRejected, Reason: domain.ReasonInvalidHash, TxHash: claim.TxHash}), nil
	}

	ctx, span := s.tracer.Start(ctx, "deposit.SubmitClaim", trace.WithAttributes(attribute.String("tx_hash", hash)))
	defer span.End()

	res, err := s.submit(ctx, hash)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ledger failure")
		logger.Error(ctx, "submit claim failed", zap.String("tx_hash", hash), zap.Error(err))
		return nil, err
	}
	span.SetAttributes(attribute.String("outcome", string(res.Outcome)), attribute.String("reason", string(res.Reason)))
	return s.finish(ctx, res), nil
}

func (s *DepositService) submit(ctx context.Context, hash string) (*domain.Result, error) {
	// Received: 已入账直接返回
	if res, err := s.alreadyCredited(ctx, hash); err != nil || res != nil {
		return res, err
	}

	// Fetching
	tx, height, err := s.lookup(ctx, hash)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return s.notFound(ctx, hash)
	case err != nil:
		logger.Warn(ctx, "chain lookup failed", zap.String("tx_hash", hash), zap.Error(err))
		return s.toPending(ctx, hash, domain.ReasonChainUnavailable, err.Error()), nil
	}

	// Validating: 先看是否 final，再做正确性校验
	verdict := s.policy.Evaluate(tx, height)
	if verdict == policy.AwaitConfirmations {
		logger.Debug(ctx, "awaiting confirmations",
			zap.String("tx_hash", hash),
			zap.Uint64("confirmations", tx.Confirmations),
			zap.Uint64("required", s.policy.Required()),
		)
		return s.toPending(ctx, hash, domain.ReasonAwaitingConfirmations, ""), nil
	}
	return s.credit(ctx, hash, tx)
}

// credit 校验通过就入账；tx 必须已经 final 或者 NeverFinal
func (s *DepositService) credit(ctx context.Context, hash string, tx *domain.ChainTransaction) (*domain.Result, error) {
	amount, verr := validator.Validate(tx, s.cfg.DepositAddress, s.cfg.MinimumDeposit)
	if verr != nil {
		logger.Info(ctx, "deposit rejected", zap.String("tx_hash", hash), zap.String("reason", verr.Error()))
		s.clearPending(ctx, hash)
		return &domain.Result{Outcome: domain.OutcomeRejected, Reason: verr.Reason, TxHash: hash}, nil
	}

	// Crediting
	account := tx.From
	cr, err := s.ledger.TryCredit(ctx, account, hash, amount, *tx.BlockNumber)
	if err != nil {
		return nil, err
	}
	if cr == domain.Credited {
		logger.Info(ctx, "deposit credited",
			zap.String("tx_hash", hash),
			zap.String("account", account),
			zap.String("amount", amount.String()),
			zap.Uint64("block", *tx.BlockNumber),
		)
		f, _ := new(big.Float).SetInt(amount).Float64()
		metrics.CreditedWeiTotal.Add(f)
	}
	s.markCredited(ctx, hash)
	s.clearPending(ctx, hash)

	return &domain.Result{
		Outcome:         domain.OutcomeDone,
		TxHash:          hash,
		Account:         account,
		Amount:          amount,
		AlreadyCredited: cr == domain.AlreadyCredited,
	}, nil
}

// CreditObserved 扫块发现的交易：和用户提交走同一套确认数 / 校验 / 幂等入账
func (s *DepositService) CreditObserved(ctx context.Context, observed *domain.ChainTransaction, height uint64) (*domain.Result, error) {
	hash, err := domain.NormalizeHash(observed.Hash)
	if err != nil {
		return &domain.Result{Outcome: domain.OutcomeRejected, Reason: domain.ReasonInvalidHash, TxHash: observed.Hash}, nil
	}
	if res, err := s.alreadyCredited(ctx, hash); err != nil || res != nil {
		return res, err
	}

	tx := *observed
	tx.Confirmations = policy.Confirmations(&tx, height)
	if s.policy.Evaluate(&tx, height) == policy.AwaitConfirmations {
		return &domain.Result{Outcome: domain.OutcomePending, Reason: domain.ReasonAwaitingConfirmations, TxHash: hash}, nil
	}
	return s.credit(ctx, hash, &tx)
}

// DepositBalance 充值地址当前的链上余额 (wei)
func (s *DepositService) DepositBalance(ctx context.Context) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ClaimTimeout)
	defer cancel()
	return s.chain.BalanceAt(ctx, s.cfg.DepositAddress.Hex())
}

func (s *DepositService) alreadyCredited(ctx context.Context, hash string) (*domain.Result, error) {
	hit, err := s.cache.IsCredited(ctx, hash)
	if err != nil {
		// 缓存只是快路径，挂了走数据库
		logger.Warn(ctx, "credited cache read failed", zap.Error(err))
	}
	if !hit {
		ok, err := s.ledger.HasCredited(ctx, hash)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
	}

	credit, err := s.ledger.GetCredit(ctx, hash)
	if errors.Is(err, domain.ErrCreditNotFound) {
		// 缓存说有、库里没有：以库为准
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !hit {
		s.markCredited(ctx, hash)
	}
	s.clearPending(ctx, hash)
	return &domain.Result{
		Outcome:         domain.OutcomeDone,
		TxHash:          hash,
		Account:         credit.Account,
		Amount:          credit.Amount,
		AlreadyCredited: true,
	}, nil
}

type lookupResult struct {
	tx     *domain.ChainTransaction
	height uint64
}

// lookup 同一个进程内同一个 hash 并发只打一次节点
func (s *DepositService) lookup(ctx context.Context, hash string) (*domain.ChainTransaction, uint64, error) {
	v, err, _ := s.sf.Do(hash, func() (interface{}, error) {
		// 不跟随首个调用方取消，超时由 ClaimTimeout 兜住
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ClaimTimeout)
		defer cancel()
		return s.fetch(fctx, hash)
	})
	if err != nil {
		return nil, 0, err
	}
	r := v.(*lookupResult)
	// 各调用方拿到独立副本
	tx := *r.tx
	return &tx, r.height, nil
}

func (s *DepositService) fetch(ctx context.Context, hash string) (*lookupResult, error) {
	ctx, span := s.tracer.Start(ctx, "deposit.fetchTransaction")
	defer span.End()

	tx, err := retry(ctx, s.cfg.Retry, func() (*domain.ChainTransaction, error) {
		tx, err := s.chain.FetchTransaction(ctx, hash)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, backoff.Permanent(err)
		}
		return tx, err
	})
	if err != nil {
		return nil, chainErr(err)
	}

	var height uint64
	if tx.BlockNumber != nil {
		height, err = retry(ctx, s.cfg.Retry, func() (uint64, error) {
			return s.chain.CurrentBlockHeight(ctx)
		})
		if err != nil {
			return nil, chainErr(err)
		}
		tx.Confirmations = policy.Confirmations(tx, height)
	}
	return &lookupResult{tx: tx, height: height}, nil
}

func retry[T any](ctx context.Context, r Retry, op backoff.Operation[T]) (T, error) {
	b := backoff.NewExponentialBackOff()
	if r.InitialInterval > 0 {
		b.InitialInterval = r.InitialInterval
	}
	if r.MaxInterval > 0 {
		b.MaxInterval = r.MaxInterval
	}
	return backoff.Retry(ctx, op, backoff.WithBackOff(b), backoff.WithMaxTries(r.MaxTries))
}

// chainErr 超时 / 取消也归为链不可用
func chainErr(err error) error {
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrChainUnavailable) {
		return err
	}
	return domain.Unavailable("lookup", err)
}

// notFound 宽限期内是 Pending，超过宽限期判定为不存在
func (s *DepositService) notFound(ctx context.Context, hash string) (*domain.Result, error) {
	prev, err := s.pending.Get(ctx, hash)
	if err != nil {
		logger.Warn(ctx, "load pending claim failed", zap.String("tx_hash", hash), zap.Error(err))
	}
	if prev != nil && s.cfg.NotFoundGrace > 0 && s.now().Sub(prev.FirstSeenAt) >= s.cfg.NotFoundGrace {
		logger.Info(ctx, "claim not found after grace period",
			zap.String("tx_hash", hash),
			zap.Time("first_seen_at", prev.FirstSeenAt),
		)
		s.clearPending(ctx, hash)
		return &domain.Result{Outcome: domain.OutcomeRejected, Reason: domain.ReasonNotFound, TxHash: hash}, nil
	}
	return s.savePending(ctx, prev, hash, domain.ReasonNotFound, ""), nil
}

func (s *DepositService) toPending(ctx context.Context, hash string, reason domain.Reason, lastErr string) *domain.Result {
	prev, err := s.pending.Get(ctx, hash)
	if err != nil {
		logger.Warn(ctx, "load pending claim failed", zap.String("tx_hash", hash), zap.Error(err))
	}
	return s.savePending(ctx, prev, hash, reason, lastErr)
}

func (s *DepositService) savePending(ctx context.Context, prev *domain.PendingClaim, hash string, reason domain.Reason, lastErr string) *domain.Result {
	now := s.now()
	p := &domain.PendingClaim{TxHash: hash, Reason: reason, Attempts: 1, FirstSeenAt: now, LastError: lastErr}
	if prev != nil {
		p.Attempts = prev.Attempts + 1
		p.FirstSeenAt = prev.FirstSeenAt
	}
	delay := s.retryAfter(p.Attempts)
	p.NextAttemptAt = now.Add(delay)

	// 写不进去只影响后台重查，客户端照样拿到 Pending
	if err := s.pending.Save(ctx, p); err != nil {
		logger.Warn(ctx, "save pending claim failed", zap.String("tx_hash", hash), zap.Error(err))
	}
	return &domain.Result{Outcome: domain.OutcomePending, Reason: reason, TxHash: hash, RetryAfter: delay}
}

// retryAfter RetryAfter * 2^(attempts-1)，不超过 MaxRetryAfter
func (s *DepositService) retryAfter(attempts int) time.Duration {
	d := s.cfg.RetryAfter
	for i := 1; i < attempts && d < s.cfg.MaxRetryAfter; i++ {
		d *= 2
	}
	if d > s.cfg.MaxRetryAfter {
		d = s.cfg.MaxRetryAfter
	}
	return d
}

func (s *DepositService) markCredited(ctx context.Context, hash string) {
	if err := s.cache.MarkCredited(ctx, hash); err != nil {
		logger.Warn(ctx, "credited cache write failed", zap.String("tx_hash", hash), zap.Error(err))
	}
}

func (s *DepositService) clearPending(ctx context.Context, hash string) {
	if err := s.pending.Delete(ctx, hash); err != nil {
		logger.Warn(ctx, "delete pending claim failed", zap.String("tx_hash", hash), zap.Error(err))
	}
}

func (s *DepositService) finish(ctx context.Context, res *domain.Result) *domain.Result {
	metrics.ClaimOutcomeTotal.WithLabelValues(string(res.Outcome), string(res.Reason)).Inc()
	return res
}

// Balance 账户余额 (wei)
func (s *DepositService) Balance(ctx context.Context, account string) (string, *big.Int, error) {
	acc, err := domain.ParseAccount(account)
	if err != nil {
		return "", nil, err
	}
	bal, err := s.ledger.GetBalance(ctx, acc)
	if err != nil {
		return "", nil, err
	}
	return acc, bal, nil
}

// Credit 按 hash 查入账记录
func (s *DepositService) Credit(ctx context.Context, txHash string) (*domain.Credit, error) {
	hash, err := domain.NormalizeHash(txHash)
	if err != nil {
		return nil, err
	}
	return s.ledger.GetCredit(ctx, hash)
}

// Credits 账户的入账流水，按时间倒序
func (s *DepositService) Credits(ctx context.Context, account string, page, limit int) ([]*domain.Credit, error) {
	acc, err := domain.ParseAccount(account)
	if err != nil {
		return nil, err
	}
	return s.ledger.ListCredits(ctx, acc, page, limit)
}

// Due 后台重查用：到期的 Pending 声明
func (s *DepositService) Due(ctx context.Context, limit int) ([]*domain.PendingClaim, error) {
	return s.pending.Due(ctx, s.now(), limit)
}

// Drop 放弃一个 Pending 声明 (超过最长等待时间)
func (s *DepositService) Drop(ctx context.Context, txHash string) error {
	return s.pending.Delete(ctx, txHash)
}
