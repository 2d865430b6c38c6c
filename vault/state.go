package vault

import (
	"context"
	"sort"

	"github.com/oasisprotocol/yieldvault/common"
)

// State is a serializable copy of the engine's bookkeeping.
type State struct {
	Accounts   []AccountEntry   `cbor:"1,keyasint"`
	Totals     Totals           `cbor:"2,keyasint"`
	Authorized []common.Address `cbor:"3,keyasint"`
	Active     common.Address   `cbor:"4,keyasint"`
	History    []Activation     `cbor:"5,keyasint"`
}

type AccountEntry struct {
	User    common.Address `cbor:"1,keyasint"`
	Account Account        `cbor:"2,keyasint"`
}

// Export returns a copy of the engine state.
func (e *Engine) Export(ctx context.Context) State {
	var s State
	_ = e.view(ctx, func(context.Context) error {
		for u, acc := range e.accounts {
			s.Accounts = append(s.Accounts, AccountEntry{User: u, Account: Account{
				Principal:      common.CopyBig(acc.Principal),
				DepositedValue: common.CopyBig(acc.DepositedValue),
				LastClaimTime:  acc.LastClaimTime,
			}})
		}
		s.Totals = e.totals.copy()
		for a := range e.registry.authorized {
			s.Authorized = append(s.Authorized, a)
		}
		s.Active = e.registry.active
		s.History = append([]Activation(nil), e.registry.history...)
		return nil
	})
	sort.Slice(s.Accounts, func(i, j int) bool { return s.Accounts[i].User.Cmp(s.Accounts[j].User) < 0 })
	sort.Slice(s.Authorized, func(i, j int) bool { return s.Authorized[i].Cmp(s.Authorized[j]) < 0 })
	return s
}

// Import replaces the engine state with s. Registered adapters are kept.
func (e *Engine) Import(ctx context.Context, s State) error {
	return e.guarded(ctx, "import", func(context.Context) error {
		e.accounts = make(map[common.Address]Account, len(s.Accounts))
		for _, entry := range s.Accounts {
			e.accounts[entry.User] = Account{
				Principal:      common.CopyBig(entry.Account.Principal),
				DepositedValue: common.CopyBig(entry.Account.DepositedValue),
				LastClaimTime:  entry.Account.LastClaimTime,
			}
		}
		e.totals = Totals{
			Principal:       common.CopyBig(s.Totals.Principal),
			DepositedValue:  common.CopyBig(s.Totals.DepositedValue),
			AccumulatedFees: common.CopyBig(s.Totals.AccumulatedFees),
		}
		e.registry = newRegistry()
		for _, a := range s.Authorized {
			e.registry.authorized[a] = true
		}
		e.registry.active = s.Active
		e.registry.history = append([]Activation(nil), s.History...)
		return nil
	})
}
