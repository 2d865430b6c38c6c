package venue

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
)

var (
	usdc    = common.DeriveAddress("token/usdc")
	reward  = common.DeriveAddress("token/reward")
	poolID  = common.DeriveAddress("venue/pool")
	incID   = common.DeriveAddress("venue/incentives")
	alice   = common.DeriveAddress("user/alice")
	bob     = common.DeriveAddress("user/bob")
	genesis = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
)

func newTestPool(t *testing.T) (*ledger.Memory, *Pool) {
	ctx := context.Background()
	l := ledger.NewMemory(log.NewNopLogger())
	l.RegisterToken(ledger.Token{Address: usdc, Symbol: "USDC", Decimals: 6})
	l.RegisterToken(ledger.Token{Address: reward, Symbol: "RWD", Decimals: 18})
	for _, u := range []common.Address{alice, bob} {
		require.NoError(t, l.Mint(ctx, usdc, u, big.NewInt(100_000)))
		require.NoError(t, l.Approve(ctx, usdc, u, poolID, common.MaxUint256))
	}
	return l, NewPool(poolID, usdc, l, 300, genesis, log.NewNopLogger())
}

func receipt(t *testing.T, p *Pool, owner common.Address) int64 {
	bal, err := p.ReceiptBalance(context.Background(), owner)
	require.NoError(t, err)
	return bal.Int64()
}

func TestSupplyWithdraw(t *testing.T) {
	ctx := context.Background()
	l, p := newTestPool(t)

	require.NoError(t, p.Supply(ctx, alice, big.NewInt(10_000), alice))
	require.Equal(t, int64(10_000), receipt(t, p, alice))
	held, err := l.BalanceOf(ctx, usdc, poolID)
	require.NoError(t, err)
	require.Equal(t, int64(10_000), held.Int64())

	_, err = p.Withdraw(ctx, alice, big.NewInt(10_001), alice)
	require.ErrorIs(t, err, ErrInsufficientReceipt)

	paid, err := p.Withdraw(ctx, alice, big.NewInt(4_000), bob)
	require.NoError(t, err)
	require.Equal(t, int64(4_000), paid.Int64())
	require.Equal(t, int64(6_000), receipt(t, p, alice))

	paid, err = p.Withdraw(ctx, alice, common.MaxUint256, alice)
	require.NoError(t, err)
	require.Equal(t, int64(6_000), paid.Int64())
	require.Equal(t, int64(0), receipt(t, p, alice))
	require.Empty(t, p.Holders())
}

func TestSupplyRequiresApproval(t *testing.T) {
	ctx := context.Background()
	l, p := newTestPool(t)
	require.NoError(t, l.Approve(ctx, usdc, alice, poolID, new(big.Int)))

	err := p.Supply(ctx, alice, big.NewInt(1), alice)
	require.ErrorIs(t, err, ledger.ErrInsufficientAllowance)
	require.Equal(t, int64(0), receipt(t, p, alice))
}

func TestAccrueProRata(t *testing.T) {
	ctx := context.Background()
	_, p := newTestPool(t)

	require.ErrorIs(t, p.Accrue(ctx, big.NewInt(1)), ErrNoHolders)

	require.NoError(t, p.Supply(ctx, alice, big.NewInt(10_000), alice))
	require.NoError(t, p.Supply(ctx, bob, big.NewInt(20_000), bob))
	require.NoError(t, p.Accrue(ctx, big.NewInt(301)))

	// 100.33 and 200.67 floor to 100 and 200; the dust goes to bob.
	require.Equal(t, int64(10_100), receipt(t, p, alice))
	require.Equal(t, int64(20_201), receipt(t, p, bob))
	require.Equal(t, int64(30_301), p.TotalReceipts().Int64())
}

func TestAccrueSince(t *testing.T) {
	ctx := context.Background()
	_, p := newTestPool(t)
	require.NoError(t, p.Supply(ctx, alice, big.NewInt(10_000), alice))

	interest, err := p.AccrueSince(ctx, genesis.Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(0), interest.Int64())

	interest, err = p.AccrueSince(ctx, genesis.Add(365*24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(300), interest.Int64())
	require.Equal(t, int64(10_300), receipt(t, p, alice))
}

func TestFailureInjection(t *testing.T) {
	ctx := context.Background()
	_, p := newTestPool(t)
	require.NoError(t, p.Supply(ctx, alice, big.NewInt(1_000), alice))

	boom := errors.New("venue paused")
	p.SetFailure(OpWithdraw, boom)
	_, err := p.Withdraw(ctx, alice, big.NewInt(1), alice)
	require.ErrorIs(t, err, boom)
	p.SetFailure(OpWithdraw, nil)

	p.SetFailure(OpBalance, boom)
	_, err = p.ReceiptBalance(ctx, alice)
	require.ErrorIs(t, err, boom)
	p.SetFailure(OpBalance, nil)

	p.SetWithdrawCap(big.NewInt(600))
	paid, err := p.Withdraw(ctx, alice, big.NewInt(1_000), alice)
	require.NoError(t, err)
	require.Equal(t, int64(600), paid.Int64())
	require.Equal(t, int64(400), receipt(t, p, alice))
}

func TestPoolSnapshot(t *testing.T) {
	ctx := context.Background()
	_, p := newTestPool(t)
	require.NoError(t, p.Supply(ctx, alice, big.NewInt(1_000), alice))

	id := p.Snapshot()
	require.NoError(t, p.Supply(ctx, bob, big.NewInt(500), bob))
	p.RevertToSnapshot(id)
	require.Equal(t, int64(0), receipt(t, p, bob))
	require.Equal(t, int64(1_000), receipt(t, p, alice))

	id = p.Snapshot()
	require.NoError(t, p.Supply(ctx, bob, big.NewInt(500), bob))
	p.DiscardSnapshot(id)
	require.Equal(t, int64(500), receipt(t, p, bob))

	state := p.Export()
	require.Len(t, state.Receipts, 2)
	restored := NewPool(poolID, usdc, nil, 0, time.Time{}, log.NewNopLogger())
	restored.Import(state)
	require.Equal(t, int64(500), receipt(t, restored, bob))
	require.Equal(t, uint64(300), restored.Export().RateBps)
}

func TestIncentives(t *testing.T) {
	ctx := context.Background()
	l, p := newTestPool(t)
	inc := NewIncentives(incID, reward, p, l, 10, log.NewNopLogger())

	require.NoError(t, p.Supply(ctx, alice, big.NewInt(10_000), alice))
	require.Equal(t, int64(10), inc.Distribute().Int64())

	pending, err := inc.PendingRewards(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, int64(10), pending.Int64())

	boom := errors.New("controller offline")
	inc.SetFailure(boom)
	_, err = inc.ClaimAllRewards(ctx, alice, bob)
	require.ErrorIs(t, err, boom)
	inc.SetFailure(nil)

	id := inc.Snapshot()
	paid, err := inc.ClaimAllRewards(ctx, alice, bob)
	require.NoError(t, err)
	require.Equal(t, int64(10), paid.Int64())
	got, err := l.BalanceOf(ctx, reward, bob)
	require.NoError(t, err)
	require.Equal(t, int64(10), got.Int64())

	inc.RevertToSnapshot(id)
	pending, err = inc.PendingRewards(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, int64(10), pending.Int64())

	restored := NewIncentives(incID, reward, p, l, 0, log.NewNopLogger())
	restored.Import(inc.Export())
	pending, err = restored.PendingRewards(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, int64(10), pending.Int64())
}
