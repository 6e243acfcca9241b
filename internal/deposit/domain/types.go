package domain

import (
	"math/big"
	"time"
)

// TxStatus 链上交易的通用状态
type TxStatus uint8

const (
	TxStatusNotFound TxStatus = iota // 节点不认识这个 hash
	TxStatusPending                  // 在交易池里，还没打包
	TxStatusSuccess                  // 打包且执行成功
	TxStatusFailed                   // 打包但执行失败 (revert)
)

func (s TxStatus) String() string {
	switch s {
	case TxStatusPending:
		return "pending"
	case TxStatusSuccess:
		return "success"
	case TxStatusFailed:
		return "failed"
	default:
		return "not_found"
	}
}

// ChainTransaction 链上交易快照，只在一次请求内使用，不落库
type ChainTransaction struct {
	Hash          string
	From          string   // 小写 0x 地址
	To            string   // 合约创建交易为空
	Value         *big.Int // wei
	Status        TxStatus
	BlockNumber   *uint64 // 未打包为 nil
	Confirmations uint64
}

// Claim 客户端提交的充值声明，内容不可信
type Claim struct {
	TxHash string
}

type Outcome string

const (
	OutcomeDone     Outcome = "done"
	OutcomePending  Outcome = "pending"
	OutcomeRejected Outcome = "rejected"
)

type Reason string

const (
	ReasonNone                  Reason = ""
	ReasonNotFound              Reason = "not_found"
	ReasonWrongRecipient        Reason = "wrong_recipient"
	ReasonTransactionFailed     Reason = "transaction_failed"
	ReasonBelowMinimum          Reason = "below_minimum"
	ReasonChainUnavailable      Reason = "chain_unavailable"
	ReasonAwaitingConfirmations Reason = "awaiting_confirmations"
	ReasonInvalidHash           Reason = "invalid_transaction_hash"
)

// Result SubmitClaim 的结果
type Result struct {
	Outcome         Outcome
	Reason          Reason
	TxHash          string
	Account         string
	Amount          *big.Int // 链上金额，不是客户端给的
	AlreadyCredited bool
	RetryAfter      time.Duration
}

// CreditResult 账本写入结果
type CreditResult uint8

const (
	Credited CreditResult = iota + 1
	AlreadyCredited
)

// Credit 已入账记录
type Credit struct {
	TxHash      string
	Account     string
	Amount      *big.Int
	BlockNumber uint64
	CreditedAt  time.Time
}

// PendingClaim 还没有结论的声明，后台会重查
type PendingClaim struct {
	TxHash        string
	Reason        Reason
	Attempts      int
	FirstSeenAt   time.Time
	NextAttemptAt time.Time
	LastError     string
}

// Info 对外公开的充值参数
type Info struct {
	DepositAddress        string
	MinimumDeposit        *big.Int // wei
	MinimumDepositUnits   string   // 整币单位的十进制字符串
	RequiredConfirmations uint64
}
