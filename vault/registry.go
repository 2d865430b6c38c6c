package vault

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/oasisprotocol/yieldvault/common"
	"github.com/oasisprotocol/yieldvault/strategy"
)

// Activation is one entry of the strategy history.
type Activation struct {
	Adapter common.Address `cbor:"1,keyasint" json:"adapter"`
	Time    time.Time      `cbor:"2,keyasint" json:"time"`
}

// Registry is the set of authorized strategies, the active one, and the
// append-only history of activations. It is owned by an Engine and only
// changed through it.
type Registry struct {
	authorized map[common.Address]bool
	active     common.Address
	history    []Activation
}

func newRegistry() *Registry {
	return &Registry{authorized: make(map[common.Address]bool)}
}

// RegisterAdapter makes an adapter implementation known to the engine, so
// that its address can be authorized and switched to. It does not authorize it.
func (e *Engine) RegisterAdapter(a strategy.Adapter) {
	e.adaptersMu.Lock()
	defer e.adaptersMu.Unlock()
	e.adapters[a.Address()] = a
}

// Adapter returns the registered adapter at addr.
func (e *Engine) Adapter(addr common.Address) (strategy.Adapter, bool) {
	e.adaptersMu.RLock()
	defer e.adaptersMu.RUnlock()
	a, ok := e.adapters[addr]
	return a, ok
}

// Adapters returns every registered adapter, ordered by address.
func (e *Engine) Adapters() []strategy.Adapter {
	e.adaptersMu.RLock()
	defer e.adaptersMu.RUnlock()
	out := make([]strategy.Adapter, 0, len(e.adapters))
	for _, a := range e.adapters {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address().Cmp(out[j].Address()) < 0 })
	return out
}

func (e *Engine) requireAdmin(caller common.Address) error {
	if caller != e.admin {
		return fmt.Errorf("%w: %s", ErrUnauthorized, caller)
	}
	return nil
}

// AuthorizeStrategy adds adapter to the authorized set.
func (e *Engine) AuthorizeStrategy(ctx context.Context, caller, adapter common.Address) error {
	return e.setAuthorization(ctx, "authorize_strategy", caller, adapter, true)
}

// RevokeStrategy removes adapter from the authorized set. Revoking the
// active strategy leaves it active, which blocks user operations until
// another strategy is switched in.
func (e *Engine) RevokeStrategy(ctx context.Context, caller, adapter common.Address) error {
	return e.setAuthorization(ctx, "revoke_strategy", caller, adapter, false)
}

func (e *Engine) setAuthorization(ctx context.Context, op string, caller, adapter common.Address, authorized bool) error {
	return e.guarded(ctx, op, func(ctx context.Context) error {
		if err := e.requireAdmin(caller); err != nil {
			return err
		}
		if adapter == common.ZeroAddress {
			return fmt.Errorf("%w: zero address", ErrInvalidStrategy)
		}
		e.setAuthorized(adapter, authorized)
		if !authorized && adapter == e.registry.active {
			e.logger.Warn("revoked the active strategy; user operations are blocked until a switch", "strategy", adapter)
		}

		ev := newEvent(EventStrategyAuthorized, e.now())
		ev.Adapter, ev.Authorized = addr(adapter), &authorized
		e.emit(ev)
		e.logger.Info("strategy authorization changed", "strategy", adapter, "authorized", authorized)
		return nil
	})
}

// SwitchStrategy migrates the pooled balance from the active strategy to
// next. Per-user records are untouched; any slippage in the round trip
// changes everyone's effective share price.
func (e *Engine) SwitchStrategy(ctx context.Context, caller, next common.Address) error {
	return e.guarded(ctx, "switch_strategy", func(ctx context.Context) error {
		if err := e.requireAdmin(caller); err != nil {
			return err
		}
		if next == common.ZeroAddress {
			return fmt.Errorf("%w: zero address", ErrInvalidStrategy)
		}
		if !e.registry.authorized[next] {
			return fmt.Errorf("%w: %s", ErrStrategyNotAuthorized, next)
		}
		nextAdapter, ok := e.Adapter(next)
		if !ok {
			return fmt.Errorf("%w: %s is not registered", ErrInvalidStrategy, next)
		}
		if asset := nextAdapter.AssetToken(); asset != e.asset {
			return fmt.Errorf("%w: %s manages %s, vault asset is %s", ErrInvalidStrategy, next, asset, e.asset)
		}

		prev := e.registry.active
		realized := new(big.Int)
		if prev != common.ZeroAddress {
			prevAdapter, ok := e.Adapter(prev)
			if !ok {
				return fmt.Errorf("%w: active %s is not registered", ErrInvalidStrategy, prev)
			}
			var err error
			if realized, err = prevAdapter.WithdrawAll(ctx, e.address); err != nil {
				return fmt.Errorf("%w: migrating out of %s: %w", ErrWithdrawFailed, prev, err)
			}
			if err = e.ledger.Approve(ctx, e.asset, e.address, prev, new(big.Int)); err != nil {
				return fmt.Errorf("clearing allowance of %s: %w", prev, err)
			}
		}

		now := e.now()
		e.setActive(next, now)
		if realized.Sign() > 0 {
			if err := e.forward(ctx, nextAdapter, realized); err != nil {
				return err
			}
		}

		ev := newEvent(EventStrategyChanged, now)
		ev.OldAdapter, ev.NewAdapter = addr(prev), addr(next)
		e.emit(ev)
		e.logger.Info("strategy switched", "old", prev, "new", next, "migrated", realized)
		return nil
	})
}

// ActiveStrategy returns the active strategy, or the zero address.
func (e *Engine) ActiveStrategy(ctx context.Context) common.Address {
	var active common.Address
	_ = e.view(ctx, func(context.Context) error {
		active = e.registry.active
		return nil
	})
	return active
}

// IsAuthorized reports whether adapter is in the authorized set.
func (e *Engine) IsAuthorized(ctx context.Context, adapter common.Address) bool {
	var ok bool
	_ = e.view(ctx, func(context.Context) error {
		ok = e.registry.authorized[adapter]
		return nil
	})
	return ok
}

// AuthorizedStrategies returns the authorized set, ordered by address.
func (e *Engine) AuthorizedStrategies(ctx context.Context) []common.Address {
	var out []common.Address
	_ = e.view(ctx, func(context.Context) error {
		out = make([]common.Address, 0, len(e.registry.authorized))
		for a := range e.registry.authorized {
			out = append(out, a)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

// History returns every activation, oldest first.
func (e *Engine) History(ctx context.Context) []Activation {
	var out []Activation
	_ = e.view(ctx, func(context.Context) error {
		out = append([]Activation(nil), e.registry.history...)
		return nil
	})
	return out
}
