package vault

import (
	"context"
	"math/big"
	"sort"
	"time"

	"github.com/oasisprotocol/yieldvault/common"
	"github.com/oasisprotocol/yieldvault/metrics"
	"github.com/oasisprotocol/yieldvault/strategy"
)

const secondsPerYear = 365 * 24 * 60 * 60

// Account returns a copy of user's record.
func (e *Engine) Account(ctx context.Context, user common.Address) Account {
	var acc Account
	_ = e.view(ctx, func(context.Context) error {
		acc = e.account(user)
		return nil
	})
	return Account{
		Principal:      common.CopyBig(acc.Principal),
		DepositedValue: common.CopyBig(acc.DepositedValue),
		LastClaimTime:  acc.LastClaimTime,
	}
}

// Accounts returns every user that ever deposited, ordered by address.
func (e *Engine) Accounts(ctx context.Context) []common.Address {
	var out []common.Address
	_ = e.view(ctx, func(context.Context) error {
		out = make([]common.Address, 0, len(e.accounts))
		for u := range e.accounts {
			out = append(out, u)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

// Totals returns a copy of the global ledger.
func (e *Engine) Totals(ctx context.Context) Totals {
	var t Totals
	_ = e.view(ctx, func(context.Context) error {
		t = e.totals.copy()
		return nil
	})
	return t
}

// viewAdapter is the active adapter regardless of authorization, or nil.
func (e *Engine) viewAdapter() strategy.Adapter {
	if e.registry.active == common.ZeroAddress {
		return nil
	}
	a, _ := e.Adapter(e.registry.active)
	return a
}

// GetUserEstimatedYield is the gross yield a claim by user would realize now.
func (e *Engine) GetUserEstimatedYield(ctx context.Context, user common.Address) (*big.Int, error) {
	var y *big.Int
	err := e.view(ctx, func(ctx context.Context) error {
		adapter := e.viewAdapter()
		if adapter == nil {
			y = new(big.Int)
			return nil
		}
		var err error
		y, err = e.estimatedYield(ctx, e.account(user), adapter)
		return err
	})
	return y, err
}

// GetUserAPR is the annualised rate of the user's unclaimed yield since the
// last settlement, in basis points. Without a measurable yield it falls back
// to the active strategy's APR net of the protocol fee.
func (e *Engine) GetUserAPR(ctx context.Context, user common.Address) (uint64, error) {
	var apr uint64
	err := e.view(ctx, func(ctx context.Context) error {
		adapter := e.viewAdapter()
		if adapter == nil {
			return nil
		}
		acc := e.account(user)
		elapsed := int64(e.now().Sub(acc.LastClaimTime) / time.Second)
		if acc.Principal.Sign() > 0 && elapsed > 0 {
			y, err := e.estimatedYield(ctx, acc, adapter)
			if err != nil {
				return err
			}
			if y.Sign() > 0 {
				num := new(big.Int).Mul(y, big.NewInt(common.BpsDenominator*secondsPerYear))
				den := new(big.Int).Mul(acc.Principal, big.NewInt(elapsed))
				apr = num.Quo(num, den).Uint64()
				return nil
			}
		}
		gross := adapter.APR(ctx)
		apr = gross - common.Bps(new(big.Int).SetUint64(gross), e.feeBps).Uint64()
		return nil
	})
	return apr, err
}

// GetTotalBalance is the active strategy's balance.
func (e *Engine) GetTotalBalance(ctx context.Context) (*big.Int, error) {
	var bal *big.Int
	err := e.view(ctx, func(ctx context.Context) error {
		adapter := e.viewAdapter()
		if adapter == nil {
			bal = new(big.Int)
			return nil
		}
		var err error
		bal, err = adapter.Balance(ctx)
		return err
	})
	return bal, err
}

// GetCurrentAPR is the active strategy's estimated APR, in basis points.
func (e *Engine) GetCurrentAPR(ctx context.Context) uint64 {
	var apr uint64
	_ = e.view(ctx, func(ctx context.Context) error {
		if adapter := e.viewAdapter(); adapter != nil {
			apr = adapter.APR(ctx)
		}
		return nil
	})
	return apr
}

// RefreshMetrics updates the vault gauges.
func (e *Engine) RefreshMetrics(ctx context.Context) error {
	bal, err := e.GetTotalBalance(ctx)
	if err != nil {
		return err
	}
	totals := e.Totals(ctx)
	e.metrics.SetBalance(metrics.QuantityTotalBalance, bal)
	e.metrics.SetBalance(metrics.QuantityTotalPrincipal, totals.Principal)
	e.metrics.SetBalance(metrics.QuantityTotalDepositedValue, totals.DepositedValue)
	e.metrics.SetBalance(metrics.QuantityAccumulatedFees, totals.AccumulatedFees)
	e.metrics.SetAPR(e.GetCurrentAPR(ctx))
	return nil
}
