package common

import "math/big"

// MaxUint256 is used by venues as the "everything" withdrawal sentinel.
var MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// BpsDenominator is 100% expressed in basis points.
const BpsDenominator = 10_000

// CopyBig returns a copy of v, treating nil as zero.
func CopyBig(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// MinBig returns a copy of the smaller of a and b.
func MinBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// MulDiv computes a * b / c with floor division. c must be non-zero.
func MulDiv(a, b, c *big.Int) *big.Int {
	r := new(big.Int).Mul(a, b)
	return r.Quo(r, c)
}

// Bps computes amount * bps / 10000.
func Bps(amount *big.Int, bps uint64) *big.Int {
	return MulDiv(amount, new(big.Int).SetUint64(bps), big.NewInt(BpsDenominator))
}

// IsZero reports whether v is nil or zero.
func IsZero(v *big.Int) bool {
	return v == nil || v.Sign() == 0
}
