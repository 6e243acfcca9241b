package validator

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"depositgate.com/internal/deposit/domain"
)

// Validate 按顺序检查：存在 -> 收款地址 -> 执行成功 -> 金额
// 返回的金额永远取链上的 value
func Validate(tx *domain.ChainTransaction, expected common.Address, min *big.Int) (*big.Int, *domain.ValidationError) {
	if tx == nil || tx.Status == domain.TxStatusNotFound {
		return nil, domain.NewValidationError(domain.ReasonNotFound, "transaction does not exist")
	}
	if !sameAddress(tx.To, expected) {
		return nil, domain.NewValidationError(domain.ReasonWrongRecipient,
			"recipient %s is not the deposit address", displayAddr(tx.To))
	}
	if tx.Status != domain.TxStatusSuccess {
		return nil, domain.NewValidationError(domain.ReasonTransactionFailed, "transaction status is %s", tx.Status)
	}
	if tx.Value == nil || min == nil || tx.Value.Cmp(min) < 0 {
		return nil, domain.NewValidationError(domain.ReasonBelowMinimum,
			"value %s is below minimum deposit %s", valueString(tx.Value), valueString(min))
	}
	return new(big.Int).Set(tx.Value), nil
}

func sameAddress(to string, expected common.Address) bool {
	if !common.IsHexAddress(to) {
		return false
	}
	return strings.EqualFold(common.HexToAddress(to).Hex(), expected.Hex())
}

func displayAddr(a string) string {
	if a == "" {
		return "(contract creation)"
	}
	return a
}

func valueString(v *big.Int) string {
	if v == nil {
		return "nil"
	}
	return v.String()
}
