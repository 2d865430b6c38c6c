package vault

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oasisprotocol/yieldvault/common"
	"github.com/oasisprotocol/yieldvault/ledger"
	"github.com/oasisprotocol/yieldvault/log"
	"github.com/oasisprotocol/yieldvault/metrics"
	"github.com/oasisprotocol/yieldvault/strategy/idle"
	"github.com/oasisprotocol/yieldvault/strategy/lending"
	"github.com/oasisprotocol/yieldvault/venue"
)

var (
	usdc   = common.DeriveAddress("token/usdc")
	dai    = common.DeriveAddress("token/dai")
	reward = common.DeriveAddress("token/reward")

	vaultAddr = common.DeriveAddress("vault")
	admin     = common.DeriveAddress("admin")
	alice     = common.DeriveAddress("user/alice")
	bob       = common.DeriveAddress("user/bob")

	adapterX    = common.DeriveAddress("strategy/x")
	adapterY    = common.DeriveAddress("strategy/y")
	adapterIdle = common.DeriveAddress("strategy/idle")
	adapterDai  = common.DeriveAddress("strategy/dai")

	genesis = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Publish(_ context.Context, events []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

func (s *recordingSink) types() []EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EventType, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Type)
	}
	return out
}

func (s *recordingSink) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}

// world is an in-process deployment: a ledger, two lending pools over the
// vault asset, one over another asset, and an engine wired to all of them.
type world struct {
	t   *testing.T
	ctx context.Context

	ledger     *ledger.Memory
	poolX      *venue.Pool
	poolY      *venue.Pool
	incentives *venue.Incentives
	x, y       *lending.Adapter
	idle       *idle.Adapter
	engine     *Engine
	sink       *recordingSink

	now time.Time
}

func newWorld(t *testing.T) *world {
	ctx := context.Background()
	logger := log.NewNopLogger()
	w := &world{t: t, ctx: ctx, now: genesis, sink: &recordingSink{}}

	w.ledger = ledger.NewMemory(logger)
	for _, tok := range []ledger.Token{
		{Address: usdc, Symbol: "USDC", Decimals: 6},
		{Address: dai, Symbol: "DAI", Decimals: 18},
		{Address: reward, Symbol: "RWD", Decimals: 18},
	} {
		w.ledger.RegisterToken(tok)
	}

	w.poolX = venue.NewPool(common.DeriveAddress("venue/x"), usdc, w.ledger, 300, genesis, logger)
	w.poolY = venue.NewPool(common.DeriveAddress("venue/y"), usdc, w.ledger, 500, genesis, logger)
	poolDai := venue.NewPool(common.DeriveAddress("venue/dai"), dai, w.ledger, 300, genesis, logger)
	w.incentives = venue.NewIncentives(common.DeriveAddress("venue/x/incentives"), reward, w.poolX, w.ledger, 10, logger)

	w.x = lending.New(adapterX, vaultAddr, admin, w.ledger, w.poolX, w.incentives, logger)
	w.y = lending.New(adapterY, vaultAddr, admin, w.ledger, w.poolY, nil, logger)
	w.idle = idle.New(adapterIdle, vaultAddr, usdc, w.ledger, logger)
	daiAdapter := lending.New(adapterDai, vaultAddr, admin, w.ledger, poolDai, nil, logger)

	w.engine = New(
		Config{Address: vaultAddr, Asset: usdc, Admin: admin, FeeBps: DefaultFeeBps},
		w.ledger,
		logger,
		WithClock(func() time.Time { return w.now }),
		WithEventSink(w.sink),
		WithRevertible(w.ledger, w.poolX, w.poolY, poolDai, w.incentives),
		WithMetrics(metrics.NewDefaultVaultMetrics("vaulttest", t.Name())),
	)
	w.engine.RegisterAdapter(w.x)
	w.engine.RegisterAdapter(w.y)
	w.engine.RegisterAdapter(w.idle)
	w.engine.RegisterAdapter(daiAdapter)

	for _, u := range []common.Address{alice, bob} {
		require.NoError(t, w.ledger.Mint(ctx, usdc, u, big.NewInt(1_000_000)))
		require.NoError(t, w.ledger.Approve(ctx, usdc, u, vaultAddr, common.MaxUint256))
	}
	return w
}

// activate authorizes and switches to adapter.
func (w *world) activate(adapter common.Address) {
	require.NoError(w.t, w.engine.AuthorizeStrategy(w.ctx, admin, adapter))
	require.NoError(w.t, w.engine.SwitchStrategy(w.ctx, admin, adapter))
}

func (w *world) deposit(user common.Address, amt int64) {
	require.NoError(w.t, w.engine.Deposit(w.ctx, user, big.NewInt(amt)))
}

func (w *world) advance(d time.Duration) {
	w.now = w.now.Add(d)
}

func (w *world) balance(token, owner common.Address) int64 {
	bal, err := w.ledger.BalanceOf(w.ctx, token, owner)
	require.NoError(w.t, err)
	return bal.Int64()
}

func (w *world) adapterBalance(a interface {
	Balance(context.Context) (*big.Int, error)
}) int64 {
	bal, err := a.Balance(w.ctx)
	require.NoError(w.t, err)
	return bal.Int64()
}

// requireInvariants checks the at-rest accounting invariants.
func (w *world) requireInvariants() {
	ctx := w.ctx
	sumPrincipal, sumDeposited := new(big.Int), new(big.Int)
	for _, u := range w.engine.Accounts(ctx) {
		acc := w.engine.Account(ctx, u)
		require.True(w.t, acc.Principal.Cmp(acc.DepositedValue) <= 0, "principal exceeds deposited value for %s", u)
		sumPrincipal.Add(sumPrincipal, acc.Principal)
		sumDeposited.Add(sumDeposited, acc.DepositedValue)
	}
	totals := w.engine.Totals(ctx)
	require.Equal(w.t, 0, sumPrincipal.Cmp(totals.Principal))
	require.Equal(w.t, 0, sumDeposited.Cmp(totals.DepositedValue))
}
