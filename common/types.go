// Package common holds small types shared by the vault packages.
package common

import (
	"fmt"
	"math/big"
	"strings"
)

// Arbitrary-precision integer used for token amounts. Wrapper around big.Int
// to allow for custom JSON marshaling: amounts are encoded as decimal strings
// so that JS clients do not lose precision.
type BigInt struct {
	big.Int
}

func NewBigInt(v int64) BigInt {
	return BigInt{*big.NewInt(v)}
}

// BigIntFrom copies v into a BigInt. A nil v yields zero.
func BigIntFrom(v *big.Int) BigInt {
	var b BigInt
	if v != nil {
		b.Int.Set(v)
	}
	return b
}

// Big returns a copy of the value as a *big.Int.
func (b BigInt) Big() *big.Int {
	return new(big.Int).Set(&b.Int)
}

func (b BigInt) String() string {
	return b.Int.String()
}

func (b BigInt) MarshalText() ([]byte, error) {
	return []byte(b.Int.String()), nil
}

func (b *BigInt) UnmarshalText(text []byte) error {
	if _, ok := b.Int.SetString(strings.TrimSpace(string(text)), 10); !ok {
		return fmt.Errorf("invalid integer %q", string(text))
	}
	return nil
}

func (b BigInt) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf(`"%s"`, b.Int.String())), nil
}

func (b *BigInt) UnmarshalJSON(text []byte) error {
	v := strings.Trim(string(text), "\"")
	return b.UnmarshalText([]byte(v))
}

// ParseAmount parses a non-negative decimal integer amount.
func ParseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("negative amount %q", s)
	}
	return v, nil
}

// Key used to set values in a web request context. API uses this to set
// values, handlers and loggers use it to retrieve them.
type ContextKey string

const (
	// RequestIDContextKey is used to set a request id for tracing
	// in a request context.
	RequestIDContextKey ContextKey = "request_id"
)
