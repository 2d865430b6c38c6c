// Package vault implements the vault accounting engine: per-user principal
// and deposited-value bookkeeping over a pooled balance that is forwarded to
// the active yield strategy, the strategy registry, and the administrative
// and recovery surface.
package vault

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/oasisprotocol/yieldvault/common"
	"github.com/oasisprotocol/yieldvault/ledger"
	"github.com/oasisprotocol/yieldvault/log"
	"github.com/oasisprotocol/yieldvault/metrics"
	"github.com/oasisprotocol/yieldvault/strategy"
)

const moduleName = "vault"

// DefaultFeeBps is the protocol fee skimmed from realized yield.
const DefaultFeeBps uint64 = 100

// Config identifies a vault.
type Config struct {
	// Address is the vault's own identity on the ledger.
	Address common.Address
	// Asset is the token users deposit.
	Asset common.Address
	// Admin may run administrative operations.
	Admin common.Address
	// FeeBps is the protocol fee on realized yield.
	FeeBps uint64
}

// Account is one user's record.
type Account struct {
	// Principal is the amount contributed net of withdrawals, excluding unclaimed yield.
	Principal *big.Int `cbor:"1,keyasint"`
	// DepositedValue is the user's share of the pool in asset units.
	DepositedValue *big.Int `cbor:"2,keyasint"`
	// LastClaimTime is when yield was last settled for the user.
	LastClaimTime time.Time `cbor:"3,keyasint"`
}

func zeroAccount() Account {
	return Account{Principal: new(big.Int), DepositedValue: new(big.Int)}
}

// Totals is the global ledger of the vault.
type Totals struct {
	Principal       *big.Int `cbor:"1,keyasint"`
	DepositedValue  *big.Int `cbor:"2,keyasint"`
	AccumulatedFees *big.Int `cbor:"3,keyasint"`
}

func (t Totals) copy() Totals {
	return Totals{
		Principal:       common.CopyBig(t.Principal),
		DepositedValue:  common.CopyBig(t.DepositedValue),
		AccumulatedFees: common.CopyBig(t.AccumulatedFees),
	}
}

// Engine is the vault accounting engine. All operations are serialized;
// every mutating operation is atomic and rejects re-entry.
type Engine struct {
	mu sync.Mutex

	address common.Address
	asset   common.Address
	admin   common.Address
	feeBps  uint64

	ledger      ledger.Ledger
	revertibles []ledger.Revertible

	adaptersMu sync.RWMutex
	adapters   map[common.Address]strategy.Adapter

	registry *Registry
	accounts map[common.Address]Account
	totals   Totals

	// Set only while a guarded call runs.
	journal *journal
	pending []Event

	clock   func() time.Time
	sink    EventSink
	metrics metrics.VaultMetrics
	logger  *log.Logger
}

// Option configures an Engine.
type Option func(e *Engine)

// WithClock sets the engine's time source.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithEventSink sets where committed events are published.
func WithEventSink(sink EventSink) Option {
	return func(e *Engine) { e.sink = sink }
}

// WithRevertible adds in-process collaborators whose state is rolled back
// together with the engine's when an operation fails.
func WithRevertible(rs ...ledger.Revertible) Option {
	return func(e *Engine) { e.revertibles = append(e.revertibles, rs...) }
}

// WithMetrics sets the engine's instrumentation.
func WithMetrics(m metrics.VaultMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New creates an engine with no strategies.
func New(cfg Config, l ledger.Ledger, logger *log.Logger, opts ...Option) *Engine {
	e := &Engine{
		address:  cfg.Address,
		asset:    cfg.Asset,
		admin:    cfg.Admin,
		feeBps:   cfg.FeeBps,
		ledger:   l,
		adapters: make(map[common.Address]strategy.Adapter),
		registry: newRegistry(),
		accounts: make(map[common.Address]Account),
		totals:   Totals{Principal: new(big.Int), DepositedValue: new(big.Int), AccumulatedFees: new(big.Int)},
		clock:    time.Now,
		sink:     nopSink{},
		logger:   logger.WithModule(moduleName).With("vault", cfg.Address),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == (metrics.VaultMetrics{}) {
		e.metrics = metrics.NewDefaultVaultMetrics("yieldvault", cfg.Address.Hex())
	}
	return e
}

func (e *Engine) Address() common.Address { return e.address }

func (e *Engine) Asset() common.Address { return e.asset }

func (e *Engine) Admin() common.Address { return e.admin }

func (e *Engine) FeeBps() uint64 { return e.feeBps }

func (e *Engine) now() time.Time {
	return e.clock().UTC()
}

func (e *Engine) account(user common.Address) Account {
	if acc, ok := e.accounts[user]; ok {
		return acc
	}
	return zeroAccount()
}

// activeAdapter returns the adapter user operations are routed through.
func (e *Engine) activeAdapter() (strategy.Adapter, error) {
	active := e.registry.active
	if active == common.ZeroAddress {
		return nil, ErrNoActiveStrategy
	}
	if !e.registry.authorized[active] {
		return nil, fmt.Errorf("%w: %s", ErrStrategyNotAuthorized, active)
	}
	a, ok := e.Adapter(active)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not registered", ErrInvalidStrategy, active)
	}
	return a, nil
}

// Deposit pulls amount of the asset from user (who must have approved the
// vault) and forwards it to the active strategy.
func (e *Engine) Deposit(ctx context.Context, user common.Address, amt *big.Int) error {
	return e.guarded(ctx, "deposit", func(ctx context.Context) error {
		if amt == nil || amt.Sign() <= 0 {
			return ErrZeroAmount
		}
		adapter, err := e.activeAdapter()
		if err != nil {
			return err
		}
		if err = e.ledger.TransferFrom(ctx, e.asset, e.address, user, e.address, amt); err != nil {
			return fmt.Errorf("pulling deposit: %w", err)
		}

		acc := e.account(user)
		now := e.now()
		e.setAccount(user, Account{
			Principal:      new(big.Int).Add(acc.Principal, amt),
			DepositedValue: new(big.Int).Add(acc.DepositedValue, amt),
			LastClaimTime:  now,
		})
		totals := e.totals.copy()
		totals.Principal.Add(totals.Principal, amt)
		totals.DepositedValue.Add(totals.DepositedValue, amt)
		e.setTotals(totals)

		if err = e.forward(ctx, adapter, amt); err != nil {
			return err
		}

		ev := newEvent(EventDeposited, now)
		ev.User, ev.Amount = addr(user), amount(amt)
		e.emit(ev)
		e.logger.Debug("deposited", "user", user, "amount", amt, "strategy", adapter.Address())
		return nil
	})
}

// forward grants the adapter an allowance for exactly amount and deposits it.
func (e *Engine) forward(ctx context.Context, adapter strategy.Adapter, amount *big.Int) error {
	if err := e.ledger.Approve(ctx, e.asset, e.address, adapter.Address(), amount); err != nil {
		return fmt.Errorf("approving strategy: %w", err)
	}
	if err := adapter.Deposit(ctx, e.address, amount); err != nil {
		return fmt.Errorf("depositing into strategy %s: %w", adapter.Address(), err)
	}
	return nil
}

// Withdraw settles the user's yield, then reduces the user's deposited value
// by amount and principal proportionally, and pays out whatever the strategy
// returns for amount. Accounting is reduced by the requested amount even if
// the strategy returns less. Returns the amount delivered.
func (e *Engine) Withdraw(ctx context.Context, user common.Address, amt *big.Int) (*big.Int, error) {
	var delivered *big.Int
	err := e.guarded(ctx, "withdraw", func(ctx context.Context) error {
		if amt == nil || amt.Sign() <= 0 {
			return ErrZeroAmount
		}
		if amt.Cmp(e.account(user).DepositedValue) > 0 {
			return fmt.Errorf("%w: %s has %s, wants %s", ErrInsufficientBalance, user, e.account(user).DepositedValue, amt)
		}
		adapter, err := e.activeAdapter()
		if err != nil {
			return err
		}
		yield, err := e.settle(ctx, user, adapter)
		if err != nil {
			return err
		}

		acc := e.account(user)
		principalPortion := common.MulDiv(acc.Principal, amt, acc.DepositedValue)
		e.setAccount(user, Account{
			Principal:      new(big.Int).Sub(acc.Principal, principalPortion),
			DepositedValue: new(big.Int).Sub(acc.DepositedValue, amt),
			LastClaimTime:  acc.LastClaimTime,
		})
		totals := e.totals.copy()
		totals.Principal.Sub(totals.Principal, principalPortion)
		totals.DepositedValue.Sub(totals.DepositedValue, amt)
		e.setTotals(totals)

		delivered, err = adapter.Withdraw(ctx, e.address, amt)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrWithdrawFailed, err)
		}
		if err = e.ledger.Transfer(ctx, e.asset, e.address, user, delivered); err != nil {
			return fmt.Errorf("paying withdrawal: %w", err)
		}
		if delivered.Cmp(amt) < 0 {
			e.logger.Warn("strategy returned less than requested", "user", user, "requested", amt, "delivered", delivered)
		}

		ev := newEvent(EventWithdrawn, e.now())
		ev.User, ev.Amount, ev.Yield = addr(user), amount(delivered), amount(yield)
		e.emit(ev)
		e.logger.Debug("withdrew", "user", user, "requested", amt, "delivered", delivered, "yield", yield)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return delivered, nil
}

// WithdrawAll settles the user's yield and closes the account, requesting
// exactly the user's principal from the strategy. Fails with
// ErrWithdrawFailed if the strategy returns less.
func (e *Engine) WithdrawAll(ctx context.Context, user common.Address) (*big.Int, error) {
	var delivered *big.Int
	err := e.guarded(ctx, "withdraw_all", func(ctx context.Context) error {
		if e.account(user).DepositedValue.Sign() == 0 {
			return fmt.Errorf("%w: %s has nothing deposited", ErrInsufficientBalance, user)
		}
		adapter, err := e.activeAdapter()
		if err != nil {
			return err
		}
		yield, err := e.settle(ctx, user, adapter)
		if err != nil {
			return err
		}

		acc := e.account(user)
		requested := new(big.Int).Set(acc.Principal)
		e.setAccount(user, Account{
			Principal:      new(big.Int),
			DepositedValue: new(big.Int),
			LastClaimTime:  acc.LastClaimTime,
		})
		totals := e.totals.copy()
		totals.Principal.Sub(totals.Principal, acc.Principal)
		totals.DepositedValue.Sub(totals.DepositedValue, acc.DepositedValue)
		e.setTotals(totals)

		delivered = new(big.Int)
		if requested.Sign() > 0 {
			if delivered, err = adapter.Withdraw(ctx, e.address, requested); err != nil {
				return fmt.Errorf("%w: %w", ErrWithdrawFailed, err)
			}
			if delivered.Cmp(requested) < 0 {
				return fmt.Errorf("%w: requested %s, strategy returned %s", ErrWithdrawFailed, requested, delivered)
			}
			if err = e.ledger.Transfer(ctx, e.asset, e.address, user, delivered); err != nil {
				return fmt.Errorf("paying withdrawal: %w", err)
			}
		}

		ev := newEvent(EventWithdrawn, e.now())
		ev.User, ev.Amount, ev.Yield = addr(user), amount(delivered), amount(yield)
		e.emit(ev)
		e.logger.Debug("withdrew all", "user", user, "delivered", delivered, "yield", yield)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return delivered, nil
}

// ClaimYield pays the user's yield net of the protocol fee and returns the
// amount paid. Deposited values are not rebalanced afterwards.
func (e *Engine) ClaimYield(ctx context.Context, user common.Address) (*big.Int, error) {
	paid := new(big.Int)
	err := e.guarded(ctx, "claim_yield", func(ctx context.Context) error {
		if e.account(user).DepositedValue.Sign() == 0 || e.totals.DepositedValue.Sign() == 0 {
			return nil
		}
		adapter, err := e.activeAdapter()
		if err != nil {
			return err
		}
		paid, err = e.settle(ctx, user, adapter)
		return err
	})
	if err != nil {
		return nil, err
	}
	return paid, nil
}

// settle realizes the user's yield from adapter and returns the net amount
// paid to the user. It must run inside a guarded call.
func (e *Engine) settle(ctx context.Context, user common.Address, adapter strategy.Adapter) (*big.Int, error) {
	acc := e.account(user)
	if acc.DepositedValue.Sign() == 0 || e.totals.DepositedValue.Sign() == 0 {
		return new(big.Int), nil
	}
	gross, err := e.estimatedYield(ctx, acc, adapter)
	if err != nil {
		return nil, err
	}
	if gross.Sign() == 0 {
		return gross, nil
	}

	realized, err := adapter.Withdraw(ctx, e.address, gross)
	if err != nil {
		return nil, fmt.Errorf("%w: realizing yield: %w", ErrWithdrawFailed, err)
	}
	if realized.Cmp(gross) > 0 {
		realized = gross
	}
	fee := common.Bps(realized, e.feeBps)
	net := new(big.Int).Sub(realized, fee)
	if err = e.ledger.Transfer(ctx, e.asset, e.address, user, net); err != nil {
		return nil, fmt.Errorf("paying yield: %w", err)
	}

	totals := e.totals.copy()
	totals.AccumulatedFees.Add(totals.AccumulatedFees, fee)
	e.setTotals(totals)
	now := e.now()
	e.setAccount(user, Account{
		Principal:      acc.Principal,
		DepositedValue: acc.DepositedValue,
		LastClaimTime:  now,
	})

	ev := newEvent(EventYieldClaimed, now)
	ev.User, ev.Amount = addr(user), amount(net)
	e.emit(ev)
	if fee.Sign() > 0 {
		ev = newEvent(EventFeeCollected, now)
		ev.Amount = amount(fee)
		e.emit(ev)
	}
	e.logger.Debug("yield claimed", "user", user, "gross", gross, "realized", realized, "fee", fee)
	return net, nil
}

// estimatedYield is the user's share of the adapter balance above principal.
func (e *Engine) estimatedYield(ctx context.Context, acc Account, adapter strategy.Adapter) (*big.Int, error) {
	if acc.DepositedValue.Sign() == 0 || e.totals.DepositedValue.Sign() == 0 {
		return new(big.Int), nil
	}
	balance, err := adapter.Balance(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading strategy balance: %w", err)
	}
	share := common.MulDiv(balance, acc.DepositedValue, e.totals.DepositedValue)
	if share.Cmp(acc.Principal) <= 0 {
		return new(big.Int), nil
	}
	return share.Sub(share, acc.Principal), nil
}
