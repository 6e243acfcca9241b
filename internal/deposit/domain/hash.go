package domain

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

const hashHexLen = 64

// NormalizeHash 校验 0x + 64 位 hex，统一成小写
func NormalizeHash(raw string) (string, error) {
	h := strings.ToLower(strings.TrimSpace(raw))
	if !strings.HasPrefix(h, "0x") || len(h) != 2+hashHexLen {
		return "", ErrInvalidHash
	}
	if _, err := hexutil.Decode(h); err != nil {
		return "", ErrInvalidHash
	}
	return h, nil
}

// NormalizeAddress 地址统一成小写 0x hex
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// ParseAccount 校验并统一账户地址
func ParseAccount(raw string) (string, error) {
	a := NormalizeAddress(raw)
	if !common.IsHexAddress(a) || !strings.HasPrefix(a, "0x") {
		return "", ErrInvalidAddress
	}
	return a, nil
}
