package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound 节点不认识这个交易 (可能还没广播到，也可能是伪造的)
	ErrNotFound = errors.New("transaction not found")
	// ErrChainUnavailable 网络 / 节点 / 超时 / 熔断，属于临时错误
	ErrChainUnavailable = errors.New("chain unavailable")
	// ErrInvalidHash hash 格式不对，直接 400
	ErrInvalidHash = errors.New("invalid transaction hash")
	// ErrCreditNotFound 查询不到入账记录
	ErrCreditNotFound = errors.New("credit not found")
)

// ValidationError 永久性的校验失败，重试也不会变
type ValidationError struct {
	Reason Reason
	Msg    string
}

func (e *ValidationError) Error() string {
	if e.Msg == "" {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Msg)
}

func NewValidationError(reason Reason, format string, args ...any) *ValidationError {
	return &ValidationError{Reason: reason, Msg: fmt.Sprintf(format, args...)}
}

// Unavailable 包一层 ErrChainUnavailable，保留原始错误
func Unavailable(op string, cause error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrChainUnavailable, cause)
}

// ErrInvalidAddress 账户地址格式不对
var ErrInvalidAddress = errors.New("invalid account address")
