// Package sandbox assembles an in-process deployment: a ledger, simulated
// lending venues, strategy adapters and the vault engine over them.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/oasisprotocol/yieldvault/common"
	"github.com/oasisprotocol/yieldvault/config"
	"github.com/oasisprotocol/yieldvault/ledger"
	"github.com/oasisprotocol/yieldvault/log"
	"github.com/oasisprotocol/yieldvault/strategy"
	"github.com/oasisprotocol/yieldvault/strategy/idle"
	"github.com/oasisprotocol/yieldvault/strategy/lending"
	"github.com/oasisprotocol/yieldvault/vault"
	"github.com/oasisprotocol/yieldvault/venue"
)

const moduleName = "sandbox"

// ErrUnknownPool is returned for pool names absent from the configuration.
var ErrUnknownPool = errors.New("sandbox: unknown pool")

// World is a running sandbox deployment.
type World struct {
	Ledger *ledger.Memory
	Engine *vault.Engine

	pools      map[string]*venue.Pool
	incentives map[string]*venue.Incentives
	lending    map[common.Address]*lending.Adapter

	cfg    *config.Config
	admin  common.Address
	clock  func() time.Time
	logger *log.Logger
}

// Build creates every component described by cfg. The world starts empty:
// call Bootstrap to fund balances and activate strategies, or Restore to
// load a checkpoint. A nil clock means time.Now.
func Build(cfg *config.Config, logger *log.Logger, clock func() time.Time, opts ...vault.Option) (*World, error) {
	if cfg.Vault == nil || cfg.Sandbox == nil {
		return nil, fmt.Errorf("sandbox: vault and sandbox config required")
	}
	if clock == nil {
		clock = time.Now
	}
	logger = logger.WithModule(moduleName)

	resolve := func(s string) common.Address {
		// Validated by config.
		addr, _ := common.ResolveAddress(s)
		return addr
	}

	w := &World{
		Ledger:     ledger.NewMemory(logger),
		pools:      make(map[string]*venue.Pool),
		incentives: make(map[string]*venue.Incentives),
		lending:    make(map[common.Address]*lending.Adapter),
		cfg:        cfg,
		admin:      resolve(cfg.Vault.Admin),
		clock:      clock,
		logger:     logger,
	}

	for _, t := range cfg.Sandbox.Tokens {
		w.Ledger.RegisterToken(ledger.Token{Address: resolve(t.Address), Symbol: t.Symbol, Decimals: t.Decimals})
	}

	revertibles := []ledger.Revertible{w.Ledger}
	for _, p := range cfg.Sandbox.Pools {
		pool := venue.NewPool(resolve(p.Address), resolve(p.Asset), w.Ledger, p.RateBps, clock().UTC(), logger)
		w.pools[p.Name] = pool
		revertibles = append(revertibles, pool)
		if p.RewardToken != "" {
			inc := venue.NewIncentives(common.DeriveAddress("incentives/"+p.Name), resolve(p.RewardToken), pool, w.Ledger, p.RewardRateBps, logger)
			w.incentives[p.Name] = inc
			revertibles = append(revertibles, inc)
		}
	}

	engineOpts := append([]vault.Option{
		vault.WithClock(clock),
		vault.WithRevertible(revertibles...),
	}, opts...)
	w.Engine = vault.New(vault.Config{
		Address: resolve(cfg.Vault.Address),
		Asset:   resolve(cfg.Vault.Asset),
		Admin:   w.admin,
		FeeBps:  cfg.Vault.Fee(),
	}, w.Ledger, logger, engineOpts...)

	ctx := context.Background()
	for _, s := range cfg.Strategies {
		addr := resolve(s.Address)
		var adapter strategy.Adapter
		switch s.Kind {
		case config.StrategyLending:
			// A nil *venue.Incentives must not become a non-nil interface.
			var inc lending.Incentives
			if c, ok := w.incentives[s.Pool]; ok {
				inc = c
			}
			a := lending.New(addr, w.Engine.Address(), w.admin, w.Ledger, w.pools[s.Pool], inc, logger)
			if err := a.UpdateAPR(ctx, w.admin, s.APR()); err != nil {
				return nil, err
			}
			w.lending[addr] = a
			adapter = a
		case config.StrategyIdle:
			adapter = idle.New(addr, w.Engine.Address(), w.Engine.Asset(), w.Ledger, logger)
		default:
			return nil, fmt.Errorf("sandbox: unknown strategy kind '%s'", s.Kind)
		}
		w.Engine.RegisterAdapter(adapter)
	}

	logger.Info("sandbox built",
		"tokens", len(cfg.Sandbox.Tokens),
		"pools", len(w.pools),
		"strategies", len(cfg.Strategies),
	)
	return w, nil
}

// Bootstrap mints the configured balances, then authorizes and activates
// strategies as the administrator.
func (w *World) Bootstrap(ctx context.Context) error {
	err := w.Engine.Atomically(ctx, "sandbox_bootstrap", func(ctx context.Context) error {
		for _, b := range w.cfg.Sandbox.Balances {
			owner, _ := common.ResolveAddress(b.Owner)
			token, _ := common.ResolveAddress(b.Token)
			amount, err := common.ParseAmount(b.Amount)
			if err != nil {
				return err
			}
			if err := w.Ledger.Mint(ctx, token, owner, amount); err != nil {
				return fmt.Errorf("minting balance for %s: %w", owner, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	var active *common.Address
	for _, s := range w.cfg.Strategies {
		addr, _ := common.ResolveAddress(s.Address)
		if s.Authorized || s.Active {
			if err := w.Engine.AuthorizeStrategy(ctx, w.admin, addr); err != nil {
				return fmt.Errorf("authorizing %s: %w", addr, err)
			}
		}
		if s.Active {
			active = &addr
		}
	}
	if active != nil {
		if err := w.Engine.SwitchStrategy(ctx, w.admin, *active); err != nil {
			return fmt.Errorf("activating %s: %w", *active, err)
		}
	}
	w.logger.Info("sandbox bootstrapped", "balances", len(w.cfg.Sandbox.Balances))
	return nil
}

// Pool returns the named pool.
func (w *World) Pool(name string) (*venue.Pool, error) {
	p, ok := w.pools[name]
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", ErrUnknownPool, name)
	}
	return p, nil
}

// PoolNames returns the configured pool names, sorted.
func (w *World) PoolNames() []string {
	names := make([]string, 0, len(w.pools))
	for name := range w.pools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Faucet mints amount of the vault asset to user.
func (w *World) Faucet(ctx context.Context, user common.Address, amount *big.Int) error {
	return w.Engine.Atomically(ctx, "sandbox_faucet", func(ctx context.Context) error {
		return w.Ledger.Mint(ctx, w.Engine.Asset(), user, amount)
	})
}

// Approve sets the engine's allowance over owner's asset balance.
func (w *World) Approve(ctx context.Context, owner common.Address, amount *big.Int) error {
	return w.Engine.Atomically(ctx, "sandbox_approve", func(ctx context.Context) error {
		return w.Ledger.Approve(ctx, w.Engine.Asset(), owner, w.Engine.Address(), amount)
	})
}

// Accrue injects amount of interest into the named pool.
func (w *World) Accrue(ctx context.Context, pool string, amount *big.Int) error {
	p, err := w.Pool(pool)
	if err != nil {
		return err
	}
	return w.Engine.Atomically(ctx, "sandbox_accrue", func(ctx context.Context) error {
		return p.Accrue(ctx, amount)
	})
}

// AccrueAll accrues rate-based interest in every pool up to now, and
// returns the total interest added.
func (w *World) AccrueAll(ctx context.Context) (*big.Int, error) {
	total := new(big.Int)
	err := w.Engine.Atomically(ctx, "sandbox_accrue_all", func(ctx context.Context) error {
		total.SetInt64(0)
		now := w.clock().UTC()
		for _, name := range w.PoolNames() {
			interest, err := w.pools[name].AccrueSince(ctx, now)
			if err != nil {
				return fmt.Errorf("pool %s: %w", name, err)
			}
			total.Add(total, interest)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return total, nil
}

// Distribute credits incentive rewards in every pool that has them, and
// returns the total credited.
func (w *World) Distribute(ctx context.Context) (*big.Int, error) {
	total := new(big.Int)
	err := w.Engine.Atomically(ctx, "sandbox_distribute", func(ctx context.Context) error {
		total.SetInt64(0)
		for _, inc := range w.incentives {
			total.Add(total, inc.Distribute())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return total, nil
}
