package vault

import (
	"time"

	"github.com/oasisprotocol/yieldvault/common"
)

// journalEntry undoes one engine state change.
type journalEntry interface {
	revert(e *Engine)
}

// journal records engine state changes made inside a guarded call so they
// can be undone in reverse order.
type journal struct {
	entries []journalEntry
}

func newJournal() *journal {
	return &journal{}
}

func (j *journal) append(entry journalEntry) {
	if j == nil {
		return
	}
	j.entries = append(j.entries, entry)
}

func (j *journal) revert(e *Engine) {
	for i := len(j.entries) - 1; i >= 0; i-- {
		j.entries[i].revert(e)
	}
	j.entries = nil
}

type (
	accountChange struct {
		user    common.Address
		prev    Account
		existed bool
	}
	totalsChange struct {
		prev Totals
	}
	authorizationChange struct {
		adapter common.Address
		prev    bool
	}
	activeChange struct {
		prev common.Address
	}
	historyChange struct {
		prevLen int
	}
)

func (ch accountChange) revert(e *Engine) {
	if !ch.existed {
		delete(e.accounts, ch.user)
		return
	}
	e.accounts[ch.user] = ch.prev
}

func (ch totalsChange) revert(e *Engine) {
	e.totals = ch.prev
}

func (ch authorizationChange) revert(e *Engine) {
	if !ch.prev {
		delete(e.registry.authorized, ch.adapter)
		return
	}
	e.registry.authorized[ch.adapter] = true
}

func (ch activeChange) revert(e *Engine) {
	e.registry.active = ch.prev
}

func (ch historyChange) revert(e *Engine) {
	e.registry.history = e.registry.history[:ch.prevLen]
}

// The setters below are the only way engine state is mutated.

func (e *Engine) setAccount(user common.Address, acc Account) {
	prev, existed := e.accounts[user]
	e.journal.append(accountChange{user: user, prev: prev, existed: existed})
	e.accounts[user] = acc
}

func (e *Engine) setTotals(t Totals) {
	e.journal.append(totalsChange{prev: e.totals})
	e.totals = t
}

func (e *Engine) setAuthorized(adapter common.Address, authorized bool) {
	e.journal.append(authorizationChange{adapter: adapter, prev: e.registry.authorized[adapter]})
	if authorized {
		e.registry.authorized[adapter] = true
		return
	}
	delete(e.registry.authorized, adapter)
}

func (e *Engine) setActive(adapter common.Address, at time.Time) {
	e.journal.append(activeChange{prev: e.registry.active})
	e.journal.append(historyChange{prevLen: len(e.registry.history)})
	e.registry.active = adapter
	e.registry.history = append(e.registry.history, Activation{Adapter: adapter, Time: at})
}

func (e *Engine) emit(ev Event) {
	e.pending = append(e.pending, ev)
}
