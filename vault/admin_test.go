package vault

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAdminOnly(t *testing.T) {
	w := newWorld(t)
	w.activate(adapterX)

	require.ErrorIs(t, w.engine.AuthorizeStrategy(w.ctx, alice, adapterY), ErrUnauthorized)
	require.ErrorIs(t, w.engine.RevokeStrategy(w.ctx, alice, adapterX), ErrUnauthorized)
	require.ErrorIs(t, w.engine.SwitchStrategy(w.ctx, alice, adapterX), ErrUnauthorized)
	_, err := w.engine.WithdrawFees(w.ctx, alice)
	require.ErrorIs(t, err, ErrUnauthorized)
	_, err = w.engine.EmergencyWithdraw(w.ctx, alice)
	require.ErrorIs(t, err, ErrUnauthorized)
	_, err = w.engine.ClaimRewards(w.ctx, alice)
	require.ErrorIs(t, err, ErrUnauthorized)
	require.ErrorIs(t, w.engine.WithdrawRewardToken(w.ctx, alice, reward, alice, big.NewInt(1)), ErrUnauthorized)
}

func TestWithdrawFees(t *testing.T) {
	w := newWorld(t)
	w.activate(adapterX)
	w.deposit(alice, 10_000)

	sent, err := w.engine.WithdrawFees(w.ctx, admin)
	require.NoError(t, err)
	require.Equal(t, int64(0), sent.Int64())

	require.NoError(t, w.poolX.Accrue(w.ctx, big.NewInt(1_000)))
	_, err = w.engine.ClaimYield(w.ctx, alice)
	require.NoError(t, err)
	require.Equal(t, int64(10), w.engine.Totals(w.ctx).AccumulatedFees.Int64())

	sent, err = w.engine.WithdrawFees(w.ctx, admin)
	require.NoError(t, err)
	require.Equal(t, int64(10), sent.Int64())
	require.Equal(t, int64(10), w.balance(usdc, admin))
	require.Equal(t, int64(0), w.engine.Totals(w.ctx).AccumulatedFees.Int64())
}

func TestWithdrawFeesNeedsReserve(t *testing.T) {
	w := newWorld(t)
	w.activate(adapterX)
	w.deposit(alice, 10_000)
	require.NoError(t, w.poolX.Accrue(w.ctx, big.NewInt(1_000)))
	_, err := w.engine.ClaimYield(w.ctx, alice)
	require.NoError(t, err)

	// Move the reserve away behind the vault's back.
	require.NoError(t, w.ledger.Transfer(w.ctx, usdc, vaultAddr, bob, big.NewInt(5)))
	_, err = w.engine.WithdrawFees(w.ctx, admin)
	require.ErrorIs(t, err, ErrInsufficientFeeReserve)
	require.Equal(t, int64(10), w.engine.Totals(w.ctx).AccumulatedFees.Int64())
}

func TestEmergencyWithdraw(t *testing.T) {
	w := newWorld(t)
	got, err := w.engine.EmergencyWithdraw(w.ctx, admin)
	require.NoError(t, err)
	require.Equal(t, int64(0), got.Int64())

	w.activate(adapterX)
	w.deposit(alice, 1_000)
	require.NoError(t, w.poolX.Accrue(w.ctx, big.NewInt(10)))
	require.NoError(t, w.engine.RevokeStrategy(w.ctx, admin, adapterX))

	got, err = w.engine.EmergencyWithdraw(w.ctx, admin)
	require.NoError(t, err)
	require.Equal(t, int64(1_010), got.Int64())
	require.Equal(t, int64(1_010), w.balance(usdc, admin))
	require.Equal(t, int64(0), w.adapterBalance(w.x))

	// User records are left as they were.
	require.Equal(t, int64(1_000), w.engine.Account(w.ctx, alice).DepositedValue.Int64())
	require.Contains(t, w.sink.types(), EventEmergencyWithdrawn)
}

func TestRewards(t *testing.T) {
	w := newWorld(t)
	claimed, err := w.engine.ClaimRewards(w.ctx, admin)
	require.NoError(t, err)
	require.Equal(t, int64(0), claimed.Int64())

	w.activate(adapterX)
	w.deposit(alice, 10_000)
	w.incentives.Distribute()

	w.incentives.SetFailure(errors.New("controller offline"))
	claimed, err = w.engine.ClaimRewards(w.ctx, admin)
	require.NoError(t, err)
	require.Equal(t, int64(0), claimed.Int64())
	w.incentives.SetFailure(nil)

	claimed, err = w.engine.ClaimRewards(w.ctx, admin)
	require.NoError(t, err)
	require.Equal(t, int64(10), claimed.Int64())
	require.Equal(t, int64(10), w.balance(reward, vaultAddr))

	require.ErrorIs(t, w.engine.WithdrawRewardToken(w.ctx, admin, usdc, admin, big.NewInt(1)), ErrRewardTokenNotAllowed)
	require.ErrorIs(t, w.engine.WithdrawRewardToken(w.ctx, admin, reward, admin, new(big.Int)), ErrZeroAmount)
	require.Error(t, w.engine.WithdrawRewardToken(w.ctx, admin, reward, admin, big.NewInt(11)))

	require.NoError(t, w.engine.WithdrawRewardToken(w.ctx, admin, reward, bob, big.NewInt(10)))
	require.Equal(t, int64(10), w.balance(reward, bob))
	require.Equal(t, int64(0), w.balance(reward, vaultAddr))

	types := w.sink.types()
	require.Contains(t, types, EventRewardsClaimed)
	require.Contains(t, types, EventRewardTokenWithdrawn)
}
