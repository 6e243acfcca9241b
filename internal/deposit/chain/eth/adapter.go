package eth

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"depositgate.com/internal/deposit/domain"
	"depositgate.com/pkg/logger"
	"depositgate.com/pkg/metrics"
	"depositgate.com/pkg/ratelimit"
)

// RPC 方法名，同时用作熔断器名字和指标标签
const (
	methodTxByHash    = "eth_getTransactionByHash"
	methodTxReceipt   = "eth_getTransactionReceipt"
	methodBlockNumber = "eth_blockNumber"
	methodChainID     = "eth_chainId"
	methodBalance     = "eth_getBalance"
	methodBlockByNum  = "eth_getBlockByNumber"
)

// Backend 适配器用到的节点能力，*ethclient.Client 和模拟链客户端都满足
type Backend interface {
	TransactionByHash(ctx context.Context, hash common.Hash) (tx *types.Transaction, isPending bool, err error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
}

type Options struct {
	CallTimeout time.Duration
	ChainID     *big.Int           // nil = 启动时问节点
	Breakers    *ratelimit.Manager // nil = 用默认规则
}

type Adapter struct {
	backend     Backend
	signer      types.Signer
	chainID     *big.Int
	callTimeout time.Duration
	breakers    *ratelimit.Manager
}

// 确保实现接口
var _ domain.ChainClient = (*Adapter)(nil)

// Dial 连接节点并创建适配器
func Dial(ctx context.Context, nodeURL string, opt Options) (*Adapter, error) {
	client, err := ethclient.DialContext(ctx, nodeURL)
	if err != nil {
		return nil, fmt.Errorf("dial eth node: %w", err)
	}
	a, err := New(ctx, client, opt)
	if err != nil {
		client.Close()
		return nil, err
	}
	return a, nil
}

func New(ctx context.Context, backend Backend, opt Options) (*Adapter, error) {
	if opt.CallTimeout <= 0 {
		opt.CallTimeout = 3 * time.Second
	}
	if opt.Breakers == nil {
		opt.Breakers = NewBreakers(ratelimit.Rule{})
	}
	a := &Adapter{
		backend:     backend,
		callTimeout: opt.CallTimeout,
		breakers:    opt.Breakers,
	}

	chainID := opt.ChainID
	if chainID == nil {
		// 获取 ChainID (恢复 sender 要用)
		id, err := call(ctx, a, methodChainID, func(c context.Context) (*big.Int, error) {
			return backend.ChainID(c)
		})
		if err != nil {
			return nil, fmt.Errorf("get chain id: %w", err)
		}
		chainID = id
	}
	a.chainID = chainID
	a.signer = types.LatestSignerForChainID(chainID)
	return a, nil
}

// NewBreakers 节点 RPC 用的熔断器：交易不存在不算失败
func NewBreakers(rule ratelimit.Rule) *ratelimit.Manager {
	return ratelimit.NewManager(rule, nil,
		ratelimit.WithIsSuccessful(isSuccessfulForBreaker),
		ratelimit.WithStateChange(func(name string, from, to gobreaker.State) {
			metrics.CBState.WithLabelValues(name).Set(float64(stateValue(to)))
			logger.Warn(context.Background(), "chain breaker state changed",
				zap.String("method", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		}),
	)
}

func (a *Adapter) ChainID() *big.Int { return new(big.Int).Set(a.chainID) }

// Close 关闭底层连接 (如果支持)
func (a *Adapter) Close() {
	if c, ok := a.backend.(interface{ Close() }); ok {
		c.Close()
	}
}

func (a *Adapter) CurrentBlockHeight(ctx context.Context) (uint64, error) {
	return call(ctx, a, methodBlockNumber, a.backend.BlockNumber)
}

func (a *Adapter) FetchTransaction(ctx context.Context, txHash string) (*domain.ChainTransaction, error) {
	hash := common.HexToHash(txHash)

	type txResult struct {
		tx        *types.Transaction
		isPending bool
	}
	res, err := call(ctx, a, methodTxByHash, func(c context.Context) (txResult, error) {
		tx, isPending, err := a.backend.TransactionByHash(c, hash)
		return txResult{tx: tx, isPending: isPending}, err
	})
	if err != nil {
		return nil, err
	}

	out, err := a.toChainTransaction(res.tx)
	if err != nil {
		return nil, err
	}
	if res.isPending {
		out.Status = domain.TxStatusPending
		return out, nil
	}

	receipt, err := call(ctx, a, methodTxReceipt, func(c context.Context) (*types.Receipt, error) {
		return a.backend.TransactionReceipt(c, hash)
	})
	if errors.Is(err, domain.ErrNotFound) {
		// 交易已知但收据还没索引好，按 pending 处理
		out.Status = domain.TxStatusPending
		return out, nil
	}
	if err != nil {
		return nil, err
	}

	// Status: 1 = Success, 0 = Failed
	if receipt.Status == types.ReceiptStatusSuccessful {
		out.Status = domain.TxStatusSuccess
	} else {
		out.Status = domain.TxStatusFailed
	}
	if receipt.BlockNumber != nil {
		n := receipt.BlockNumber.Uint64()
		out.BlockNumber = &n
	}
	return out, nil
}

// BalanceAt 最新块的余额
func (a *Adapter) BalanceAt(ctx context.Context, address string) (*big.Int, error) {
	return call(ctx, a, methodBalance, func(c context.Context) (*big.Int, error) {
		return a.backend.BalanceAt(c, common.HexToAddress(address), nil)
	})
}

// BlockDeposits 区块里打到 to 的交易 (含失败的)，状态取收据
func (a *Adapter) BlockDeposits(ctx context.Context, number uint64, to string) ([]*domain.ChainTransaction, error) {
	block, err := call(ctx, a, methodBlockByNum, func(c context.Context) (*types.Block, error) {
		return a.backend.BlockByNumber(c, new(big.Int).SetUint64(number))
	})
	if err != nil {
		return nil, err
	}

	out := make([]*domain.ChainTransaction, 0)
	for _, tx := range block.Transactions() {
		if tx.To() == nil || !strings.EqualFold(tx.To().Hex(), to) {
			continue
		}
		ct, err := a.toChainTransaction(tx)
		if err != nil {
			// 无法获取发送方地址，跳过该交易
			logger.Warn(ctx, "failed to get sender address from transaction",
				zap.String("tx_hash", tx.Hash().Hex()),
				zap.Uint64("block", number),
				zap.Error(err))
			continue
		}

		hash := tx.Hash()
		receipt, err := call(ctx, a, methodTxReceipt, func(c context.Context) (*types.Receipt, error) {
			return a.backend.TransactionReceipt(c, hash)
		})
		if err != nil {
			// 块已经拿到但收据没有，说明节点还没索引完，整块下次重扫
			return nil, err
		}
		if receipt.Status == types.ReceiptStatusSuccessful {
			ct.Status = domain.TxStatusSuccess
		} else {
			ct.Status = domain.TxStatusFailed
		}
		n := number
		ct.BlockNumber = &n
		out = append(out, ct)
	}
	return out, nil
}

func (a *Adapter) toChainTransaction(tx *types.Transaction) (*domain.ChainTransaction, error) {
	if tx == nil {
		return nil, domain.ErrNotFound
	}
	from, err := types.Sender(a.signer, tx)
	if err != nil {
		// 签名恢复失败说明节点返回的数据不可信，当临时错误处理
		return nil, domain.Unavailable("recover sender", err)
	}
	out := &domain.ChainTransaction{
		Hash:  strings.ToLower(tx.Hash().Hex()),
		From:  strings.ToLower(from.Hex()),
		Value: new(big.Int).Set(tx.Value()),
	}
	if tx.To() != nil {
		out.To = strings.ToLower(tx.To().Hex())
	}
	return out, nil
}

// call 统一处理：超时 + 熔断 + 指标 + 错误归类
func call[T any](ctx context.Context, a *Adapter, method string, fn func(ctx context.Context) (T, error)) (T, error) {
	start := time.Now()
	out, err := ratelimit.Execute(a.breakers, method, func() (T, error) {
		c, cancel := context.WithTimeout(ctx, a.callTimeout)
		defer cancel()
		return fn(c)
	})
	metrics.ChainRPCDuration.WithLabelValues(method, rpcStatus(err)).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		return out, nil
	case errors.Is(err, ethereum.NotFound):
		var zero T
		return zero, domain.ErrNotFound
	case ratelimit.IsRejected(err):
		metrics.CBRejectTotal.WithLabelValues(method).Inc()
		var zero T
		return zero, domain.Unavailable(method, err)
	default:
		var zero T
		return zero, domain.Unavailable(method, err)
	}
}

func isSuccessfulForBreaker(err error) bool {
	// 调用方主动取消不是节点的问题
	return err == nil || errors.Is(err, ethereum.NotFound) || errors.Is(err, context.Canceled)
}

func rpcStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ethereum.NotFound):
		return "not_found"
	case ratelimit.IsRejected(err):
		return "rejected"
	default:
		return "error"
	}
}

func stateValue(s gobreaker.State) int {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
