package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/oasisprotocol/yieldvault/common"
	"github.com/oasisprotocol/yieldvault/log"
)

const moduleName = "ledger"

type allowanceKey struct {
	owner, spender common.Address
}

// journalEntry records the value a slot held before it was changed.
type journalEntry struct {
	token     common.Address
	allowance bool
	owner     common.Address
	spender   common.Address
	prev      *big.Int // nil if the slot did not exist
}

// Memory is an in-process Ledger. It is safe for concurrent use; snapshots
// assume a single writer per snapshot frame (the vault's guarded call).
type Memory struct {
	mu sync.Mutex

	tokens     map[common.Address]Token
	balances   map[common.Address]map[common.Address]*big.Int
	allowances map[common.Address]map[allowanceKey]*big.Int

	// Undo log. Snapshot ids index into revisions, which hold journal lengths.
	journal   []journalEntry
	revisions []int

	logger *log.Logger
}

var (
	_ Ledger     = (*Memory)(nil)
	_ Revertible = (*Memory)(nil)
)

// NewMemory creates an empty in-memory ledger.
func NewMemory(logger *log.Logger) *Memory {
	return &Memory{
		tokens:     make(map[common.Address]Token),
		balances:   make(map[common.Address]map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[allowanceKey]*big.Int),
		logger:     logger.WithModule(moduleName),
	}
}

// RegisterToken makes a token known to the ledger. Re-registering updates its metadata.
func (m *Memory) RegisterToken(t Token) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[t.Address] = t
	if _, ok := m.balances[t.Address]; !ok {
		m.balances[t.Address] = make(map[common.Address]*big.Int)
		m.allowances[t.Address] = make(map[allowanceKey]*big.Int)
	}
	m.logger.Debug("registered token", "token", t.Address, "symbol", t.Symbol)
}

// Token returns the metadata of a registered token.
func (m *Memory) Token(token common.Address) (Token, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[token]
	return t, ok
}

// Mint creates amount of token out of thin air for owner.
func (m *Memory) Mint(ctx context.Context, token, owner common.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tokens[token]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownToken, token)
	}
	bal := m.balanceLocked(token, owner)
	m.setBalanceLocked(token, owner, new(big.Int).Add(bal, amount))
	return nil
}

// Burn destroys amount of owner's token balance.
func (m *Memory) Burn(ctx context.Context, token, owner common.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tokens[token]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownToken, token)
	}
	bal := m.balanceLocked(token, owner)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: burn %s from %s, balance %s", ErrInsufficientFunds, amount, owner, bal)
	}
	m.setBalanceLocked(token, owner, new(big.Int).Sub(bal, amount))
	return nil
}

// BalanceOf implements Ledger.
func (m *Memory) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tokens[token]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, token)
	}
	return new(big.Int).Set(m.balanceLocked(token, owner)), nil
}

// Allowance implements Ledger.
func (m *Memory) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tokens[token]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, token)
	}
	return new(big.Int).Set(m.allowanceLocked(token, owner, spender)), nil
}

// Transfer implements Ledger.
func (m *Memory) Transfer(ctx context.Context, token, from, to common.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transferLocked(token, from, to, amount)
}

// TransferFrom implements Ledger.
func (m *Memory) TransferFrom(ctx context.Context, token, spender, from, to common.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tokens[token]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownToken, token)
	}
	if spender != from {
		allowance := m.allowanceLocked(token, from, spender)
		if allowance.Cmp(amount) < 0 {
			return fmt.Errorf("%w: %s may move %s of %s, wants %s", ErrInsufficientAllowance, spender, allowance, from, amount)
		}
		if err := m.transferLocked(token, from, to, amount); err != nil {
			return err
		}
		if allowance.Cmp(common.MaxUint256) != 0 {
			m.setAllowanceLocked(token, from, spender, new(big.Int).Sub(allowance, amount))
		}
		return nil
	}
	return m.transferLocked(token, from, to, amount)
}

// Approve implements Ledger.
func (m *Memory) Approve(ctx context.Context, token, owner, spender common.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tokens[token]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownToken, token)
	}
	m.setAllowanceLocked(token, owner, spender, new(big.Int).Set(amount))
	return nil
}

func (m *Memory) transferLocked(token, from, to common.Address, amount *big.Int) error {
	if _, ok := m.tokens[token]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownToken, token)
	}
	if to == common.ZeroAddress {
		return ErrInvalidRecipient
	}
	if amount.Sign() == 0 {
		return nil
	}
	fromBal := m.balanceLocked(token, from)
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s, wants to send %s", ErrInsufficientFunds, from, fromBal, amount)
	}
	m.setBalanceLocked(token, from, new(big.Int).Sub(fromBal, amount))
	toBal := m.balanceLocked(token, to)
	m.setBalanceLocked(token, to, new(big.Int).Add(toBal, amount))
	return nil
}

func (m *Memory) balanceLocked(token, owner common.Address) *big.Int {
	if bal, ok := m.balances[token][owner]; ok {
		return bal
	}
	return new(big.Int)
}

func (m *Memory) allowanceLocked(token, owner, spender common.Address) *big.Int {
	if a, ok := m.allowances[token][allowanceKey{owner, spender}]; ok {
		return a
	}
	return new(big.Int)
}

func (m *Memory) setBalanceLocked(token, owner common.Address, v *big.Int) {
	if len(m.revisions) > 0 {
		m.journal = append(m.journal, journalEntry{token: token, owner: owner, prev: m.balances[token][owner]})
	}
	m.balances[token][owner] = v
}

func (m *Memory) setAllowanceLocked(token, owner, spender common.Address, v *big.Int) {
	key := allowanceKey{owner, spender}
	if len(m.revisions) > 0 {
		m.journal = append(m.journal, journalEntry{token: token, allowance: true, owner: owner, spender: spender, prev: m.allowances[token][key]})
	}
	m.allowances[token][key] = v
}

// Snapshot implements Revertible.
func (m *Memory) Snapshot() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revisions = append(m.revisions, len(m.journal))
	return len(m.revisions) - 1
}

// RevertToSnapshot implements Revertible.
func (m *Memory) RevertToSnapshot(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id < 0 || id >= len(m.revisions) {
		panic(fmt.Sprintf("ledger: snapshot %d cannot be reverted", id))
	}
	mark := m.revisions[id]
	for i := len(m.journal) - 1; i >= mark; i-- {
		e := m.journal[i]
		switch {
		case e.allowance && e.prev == nil:
			delete(m.allowances[e.token], allowanceKey{e.owner, e.spender})
		case e.allowance:
			m.allowances[e.token][allowanceKey{e.owner, e.spender}] = e.prev
		case e.prev == nil:
			delete(m.balances[e.token], e.owner)
		default:
			m.balances[e.token][e.owner] = e.prev
		}
	}
	m.journal = m.journal[:mark]
	m.revisions = m.revisions[:id]
}

// DiscardSnapshot implements Revertible.
func (m *Memory) DiscardSnapshot(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id < 0 || id >= len(m.revisions) {
		return
	}
	m.revisions = m.revisions[:id]
	if len(m.revisions) == 0 {
		m.journal = m.journal[:0]
	}
}

// Balance is one row of an exported ledger.
type Balance struct {
	Token  common.Address `cbor:"1,keyasint"`
	Owner  common.Address `cbor:"2,keyasint"`
	Amount *big.Int       `cbor:"3,keyasint"`
}

// AllowanceEntry is one exported allowance.
type AllowanceEntry struct {
	Token   common.Address `cbor:"1,keyasint"`
	Owner   common.Address `cbor:"2,keyasint"`
	Spender common.Address `cbor:"3,keyasint"`
	Amount  *big.Int       `cbor:"4,keyasint"`
}

// State is a serializable copy of the whole ledger.
type State struct {
	Tokens     []Token          `cbor:"1,keyasint"`
	Balances   []Balance        `cbor:"2,keyasint"`
	Allowances []AllowanceEntry `cbor:"3,keyasint"`
}

// Export returns a copy of the ledger contents, ordered deterministically.
func (m *Memory) Export() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	var s State
	for _, t := range m.tokens {
		s.Tokens = append(s.Tokens, t)
		for owner, bal := range m.balances[t.Address] {
			if bal.Sign() == 0 {
				continue
			}
			s.Balances = append(s.Balances, Balance{Token: t.Address, Owner: owner, Amount: new(big.Int).Set(bal)})
		}
		for k, a := range m.allowances[t.Address] {
			if a.Sign() == 0 {
				continue
			}
			s.Allowances = append(s.Allowances, AllowanceEntry{Token: t.Address, Owner: k.owner, Spender: k.spender, Amount: new(big.Int).Set(a)})
		}
	}
	sort.Slice(s.Tokens, func(i, j int) bool { return s.Tokens[i].Address.Cmp(s.Tokens[j].Address) < 0 })
	sort.Slice(s.Balances, func(i, j int) bool {
		if c := s.Balances[i].Token.Cmp(s.Balances[j].Token); c != 0 {
			return c < 0
		}
		return s.Balances[i].Owner.Cmp(s.Balances[j].Owner) < 0
	})
	sort.Slice(s.Allowances, func(i, j int) bool {
		a, b := s.Allowances[i], s.Allowances[j]
		if c := a.Token.Cmp(b.Token); c != 0 {
			return c < 0
		}
		if c := a.Owner.Cmp(b.Owner); c != 0 {
			return c < 0
		}
		return a.Spender.Cmp(b.Spender) < 0
	})
	return s
}

// Import replaces the ledger contents with s and clears pending snapshots.
func (m *Memory) Import(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = make(map[common.Address]Token)
	m.balances = make(map[common.Address]map[common.Address]*big.Int)
	m.allowances = make(map[common.Address]map[allowanceKey]*big.Int)
	for _, t := range s.Tokens {
		m.tokens[t.Address] = t
		m.balances[t.Address] = make(map[common.Address]*big.Int)
		m.allowances[t.Address] = make(map[allowanceKey]*big.Int)
	}
	for _, b := range s.Balances {
		if _, ok := m.balances[b.Token]; ok {
			m.balances[b.Token][b.Owner] = new(big.Int).Set(b.Amount)
		}
	}
	for _, a := range s.Allowances {
		if _, ok := m.allowances[a.Token]; ok {
			m.allowances[a.Token][allowanceKey{a.Owner, a.Spender}] = new(big.Int).Set(a.Amount)
		}
	}
	m.journal = nil
	m.revisions = nil
}
