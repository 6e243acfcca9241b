package policy

import "depositgate.com/internal/deposit/domain"

type Verdict uint8

const (
	// Final 已达到确认数，可以入账
	Final Verdict = iota + 1
	// AwaitConfirmations 已打包成功，确认数不够，稍后再试
	AwaitConfirmations
	// NeverFinal 失败 / 不存在，等多久都不会 final
	NeverFinal
)

func (v Verdict) String() string {
	switch v {
	case Final:
		return "final"
	case AwaitConfirmations:
		return "await_confirmations"
	default:
		return "never_final"
	}
}

// Confirmation 确认数策略，纯函数，无状态
type Confirmation struct {
	required uint64
}

func NewConfirmation(required uint64) *Confirmation {
	return &Confirmation{required: required}
}

func (p *Confirmation) Required() uint64 { return p.required }

// Confirmations 当前高度 - 交易所在块高度；未打包或高度倒退 (节点落后) 为 0
func Confirmations(tx *domain.ChainTransaction, currentHeight uint64) uint64 {
	if tx == nil || tx.BlockNumber == nil || currentHeight < *tx.BlockNumber {
		return 0
	}
	return currentHeight - *tx.BlockNumber
}

func (p *Confirmation) IsFinal(tx *domain.ChainTransaction, currentHeight uint64) bool {
	return p.Evaluate(tx, currentHeight) == Final
}

func (p *Confirmation) Evaluate(tx *domain.ChainTransaction, currentHeight uint64) Verdict {
	if tx == nil {
		return NeverFinal
	}
	switch tx.Status {
	case domain.TxStatusSuccess:
		if tx.BlockNumber == nil {
			return AwaitConfirmations
		}
		if Confirmations(tx, currentHeight) >= p.required {
			return Final
		}
		return AwaitConfirmations
	case domain.TxStatusPending:
		return AwaitConfirmations
	default:
		return NeverFinal
	}
}
