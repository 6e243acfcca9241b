package domain

import (
	"context"
	"math/big"
	"time"
)

// ChainClient 只读的链访问，实现必须并发安全
type ChainClient interface {
	// FetchTransaction 不存在返回 ErrNotFound，临时故障返回 ErrChainUnavailable
	FetchTransaction(ctx context.Context, txHash string) (*ChainTransaction, error)
	CurrentBlockHeight(ctx context.Context) (uint64, error)
	// BalanceAt 地址在最新块的余额 (wei)
	BalanceAt(ctx context.Context, address string) (*big.Int, error)
}

// Ledger 账本：tx_hash 唯一，入账和加余额在同一个事务里
type Ledger interface {
	TryCredit(ctx context.Context, account, txHash string, amount *big.Int, blockNumber uint64) (CreditResult, error)
	HasCredited(ctx context.Context, txHash string) (bool, error)
	GetCredit(ctx context.Context, txHash string) (*Credit, error)
	GetBalance(ctx context.Context, account string) (*big.Int, error)
	ListCredits(ctx context.Context, account string, page, limit int) ([]*Credit, error)
}

// PendingStore 记录 Pending 的声明，供后台重查
type PendingStore interface {
	// Get 不存在返回 nil, nil
	Get(ctx context.Context, txHash string) (*PendingClaim, error)
	// Save upsert，已存在时保留 FirstSeenAt
	Save(ctx context.Context, p *PendingClaim) error
	Delete(ctx context.Context, txHash string) error
	Due(ctx context.Context, now time.Time, limit int) ([]*PendingClaim, error)
}

// CreditedCache 已入账 hash 的快路径缓存，失败只影响性能
type CreditedCache interface {
	IsCredited(ctx context.Context, txHash string) (bool, error)
	MarkCredited(ctx context.Context, txHash string) error
}
