package lending

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oasisprotocol/yieldvault/common"
	"github.com/oasisprotocol/yieldvault/ledger"
	"github.com/oasisprotocol/yieldvault/log"
	"github.com/oasisprotocol/yieldvault/strategy"
	"github.com/oasisprotocol/yieldvault/venue"
)

var (
	usdc    = common.DeriveAddress("token/usdc")
	reward  = common.DeriveAddress("token/reward")
	vault   = common.DeriveAddress("vault")
	admin   = common.DeriveAddress("admin")
	adapter = common.DeriveAddress("strategy/lending")
	poolID  = common.DeriveAddress("venue/pool")
)

type fixture struct {
	ledger     *ledger.Memory
	pool       *venue.Pool
	incentives *venue.Incentives
	adapter    *Adapter
}

func newFixture(t *testing.T) *fixture {
	ctx := context.Background()
	logger := log.NewNopLogger()
	l := ledger.NewMemory(logger)
	l.RegisterToken(ledger.Token{Address: usdc, Symbol: "USDC", Decimals: 6})
	l.RegisterToken(ledger.Token{Address: reward, Symbol: "RWD", Decimals: 18})
	require.NoError(t, l.Mint(ctx, usdc, vault, big.NewInt(50_000)))

	pool := venue.NewPool(poolID, usdc, l, 300, time.Unix(0, 0), logger)
	inc := venue.NewIncentives(common.DeriveAddress("venue/incentives"), reward, pool, l, 100, logger)
	return &fixture{
		ledger:     l,
		pool:       pool,
		incentives: inc,
		adapter:    New(adapter, vault, admin, l, pool, inc, logger),
	}
}

func (f *fixture) deposit(t *testing.T, amount int64) {
	ctx := context.Background()
	require.NoError(t, f.ledger.Approve(ctx, usdc, vault, adapter, big.NewInt(amount)))
	require.NoError(t, f.adapter.Deposit(ctx, vault, big.NewInt(amount)))
}

func TestDepositWithdraw(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.Equal(t, usdc, f.adapter.AssetToken())

	f.deposit(t, 10_000)
	bal, err := f.adapter.Balance(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(10_000), bal.Int64())

	require.NoError(t, f.pool.Accrue(ctx, big.NewInt(100)))
	bal, err = f.adapter.Balance(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(10_100), bal.Int64())

	paid, err := f.adapter.Withdraw(ctx, vault, big.NewInt(100))
	require.NoError(t, err)
	require.Equal(t, int64(100), paid.Int64())

	paid, err = f.adapter.WithdrawAll(ctx, vault)
	require.NoError(t, err)
	require.Equal(t, int64(10_000), paid.Int64())

	held, err := f.ledger.BalanceOf(ctx, usdc, vault)
	require.NoError(t, err)
	require.Equal(t, int64(50_100), held.Int64())
}

func TestOnlyVault(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	stranger := common.DeriveAddress("user/mallory")

	require.ErrorIs(t, f.adapter.Deposit(ctx, stranger, big.NewInt(1)), strategy.ErrNotVault)
	_, err := f.adapter.Withdraw(ctx, stranger, big.NewInt(1))
	require.ErrorIs(t, err, strategy.ErrNotVault)
	_, err = f.adapter.WithdrawAll(ctx, stranger)
	require.ErrorIs(t, err, strategy.ErrNotVault)
	_, err = f.adapter.ClaimRewards(ctx, stranger)
	require.ErrorIs(t, err, strategy.ErrNotVault)
}

func TestVenueFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// No allowance from the vault.
	err := f.adapter.Deposit(ctx, vault, big.NewInt(1))
	require.ErrorIs(t, err, strategy.ErrDepositFailed)
	require.ErrorIs(t, err, ledger.ErrInsufficientAllowance)

	boom := errors.New("pool frozen")
	f.pool.SetFailure(venue.OpSupply, boom)
	require.NoError(t, f.ledger.Approve(ctx, usdc, vault, adapter, big.NewInt(1)))
	err = f.adapter.Deposit(ctx, vault, big.NewInt(1))
	require.ErrorIs(t, err, strategy.ErrDepositFailed)
	require.ErrorIs(t, err, boom)
	f.pool.SetFailure(venue.OpSupply, nil)

	f.deposit(t, 1_000)
	f.pool.SetFailure(venue.OpWithdraw, boom)
	_, err = f.adapter.WithdrawAll(ctx, vault)
	require.ErrorIs(t, err, strategy.ErrWithdrawFailed)
}

func TestAPR(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.Equal(t, strategy.DefaultAPR, f.adapter.APR(ctx))

	require.ErrorIs(t, f.adapter.UpdateAPR(ctx, vault, 500), strategy.ErrNotOwner)
	require.NoError(t, f.adapter.UpdateAPR(ctx, admin, 500))
	require.Equal(t, uint64(500), f.adapter.APR(ctx))
}

func TestRewardsAreBestEffort(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.deposit(t, 10_000)
	f.incentives.Distribute()
	require.Equal(t, int64(100), f.adapter.PendingRewards(ctx).Int64())

	f.incentives.SetFailure(errors.New("controller offline"))
	require.Equal(t, int64(0), f.adapter.PendingRewards(ctx).Int64())
	claimed, err := f.adapter.ClaimRewards(ctx, vault)
	require.NoError(t, err)
	require.Equal(t, int64(0), claimed.Int64())

	f.incentives.SetFailure(nil)
	claimed, err = f.adapter.ClaimRewards(ctx, vault)
	require.NoError(t, err)
	require.Equal(t, int64(100), claimed.Int64())
	got, err := f.ledger.BalanceOf(ctx, reward, vault)
	require.NoError(t, err)
	require.Equal(t, int64(100), got.Int64())
}
