package types

import (
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ComponentAddress derives the deterministic ledger address of a named component
// such as a vault, a feed or a wrapped token. The same name always maps to the
// same address so that configuration can refer to components by name.
func ComponentAddress(name string) ethcommon.Address {
	normalized := strings.ToLower(strings.TrimSpace(name))
	digest := ethcrypto.Keccak256([]byte("mvault/component/" + normalized))
	return ethcommon.BytesToAddress(digest[12:])
}

// IsZeroAddress reports whether addr is the null address.
func IsZeroAddress(addr ethcommon.Address) bool {
	return addr == (ethcommon.Address{})
}

// ParseAddress decodes a 0x-prefixed hex address, rejecting malformed input.
func ParseAddress(raw string) (ethcommon.Address, bool) {
	trimmed := strings.TrimSpace(raw)
	if !ethcommon.IsHexAddress(trimmed) {
		return ethcommon.Address{}, false
	}
	return ethcommon.HexToAddress(trimmed), true
}
