package v1

import (
	"math/big"

	"github.com/cockroachdb/apd"
)

// percent renders basis points as a percentage, e.g. 450 as "4.50".
func percent(bps uint64) string {
	return apd.New(int64(bps), -2).Text('f')
}

// units renders a base-unit amount in whole tokens.
func units(amount *big.Int, decimals uint8) string {
	if amount == nil {
		amount = new(big.Int)
	}
	return apd.NewWithBigInt(amount, -int32(decimals)).Text('f')
}
