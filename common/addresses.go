package common

import (
	"fmt"
	"strings"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Address identifies users, strategy adapters, tokens and the engine itself.
type Address = ethCommon.Address

// ZeroAddress is the null identity.
var ZeroAddress = Address{}

// ParseAddress parses a 0x-prefixed hex address. Unlike
// ethCommon.HexToAddress it rejects malformed input instead of
// silently truncating it.
func ParseAddress(s string) (Address, error) {
	if !ethCommon.IsHexAddress(s) {
		return ZeroAddress, fmt.Errorf("invalid address %q", s)
	}
	return ethCommon.HexToAddress(s), nil
}

// MustParseAddress is ParseAddress for constants and tests.
func MustParseAddress(s string) Address {
	addr, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return addr
}

// DeriveAddress deterministically derives an address from a label. Used to
// give in-process components (engine, adapters, venues) stable identities.
func DeriveAddress(label string) Address {
	return ethCommon.BytesToAddress(crypto.Keccak256([]byte(label)))
}

// labelPrefix marks an address given as a label to derive it from.
const labelPrefix = "label:"

// ResolveAddress accepts either a hex address or "label:<name>", which
// resolves to DeriveAddress(name).
func ResolveAddress(s string) (Address, error) {
	if name, ok := strings.CutPrefix(s, labelPrefix); ok {
		if name == "" {
			return ZeroAddress, fmt.Errorf("empty address label")
		}
		return DeriveAddress(name), nil
	}
	return ParseAddress(s)
}
