package domain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// NormalizeWallet validates an EVM wallet address and returns its
// canonical lowercase form. All ledger and position keys use the
// canonical form so mixed-case submissions hit the same account.
func NormalizeWallet(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if !common.IsHexAddress(addr) {
		return "", fmt.Errorf("%w: invalid wallet address %q", ErrValidation, addr)
	}
	return strings.ToLower(common.HexToAddress(addr).Hex()), nil
}
