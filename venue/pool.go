// Package venue simulates an external lending venue: a pool that lends out a
// single underlying asset against receipt balances that grow as interest
// accrues, and an incentives controller that pays a reward token to
// receipt holders.
//
// It exists so the vault can be run and tested end-to-end in-process; the
// vault only ever talks to it through a strategy adapter.
package venue

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/oasisprotocol/yieldvault/common"
	"github.com/oasisprotocol/yieldvault/ledger"
	"github.com/oasisprotocol/yieldvault/log"
)

const moduleName = "venue"

const secondsPerYear = 365 * 24 * 60 * 60

var (
	// ErrInsufficientReceipt is returned when withdrawing more than the caller's receipt balance.
	ErrInsufficientReceipt = errors.New("venue: insufficient receipt balance")
	// ErrNoHolders is returned when accruing interest into an empty pool.
	ErrNoHolders = errors.New("venue: pool has no receipt holders")
)

// Op names a pool operation whose failure can be injected.
type Op string

const (
	OpSupply   Op = "supply"
	OpWithdraw Op = "withdraw"
	OpBalance  Op = "balance"
)

// Minter is the part of the ledger the venue needs to fund interest.
type Minter interface {
	ledger.Ledger
	Mint(ctx context.Context, token, owner common.Address, amount *big.Int) error
}

// Pool is a single-asset lending pool.
type Pool struct {
	mu sync.Mutex

	address common.Address
	asset   common.Address
	ledger  Minter

	receipts    map[common.Address]*big.Int
	rateBps     uint64
	lastAccrual time.Time

	failures    map[Op]error
	withdrawCap *big.Int

	snapshots []map[common.Address]*big.Int

	logger *log.Logger
}

var _ ledger.Revertible = (*Pool)(nil)

// NewPool creates a pool for asset, holding custody at address.
// rateBps is the simulated supply rate used by AccrueSince.
func NewPool(address, asset common.Address, l Minter, rateBps uint64, now time.Time, logger *log.Logger) *Pool {
	return &Pool{
		address:     address,
		asset:       asset,
		ledger:      l,
		receipts:    make(map[common.Address]*big.Int),
		rateBps:     rateBps,
		lastAccrual: now,
		failures:    make(map[Op]error),
		logger:      logger.WithModule(moduleName).With("pool", address),
	}
}

// Address is the pool's identity on the ledger.
func (p *Pool) Address() common.Address { return p.address }

// Asset is the underlying token.
func (p *Pool) Asset() common.Address { return p.asset }

// SetFailure makes every subsequent op fail with err. A nil err clears it.
func (p *Pool) SetFailure(op Op, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.failures, op)
		return
	}
	p.failures[op] = err
}

// SetWithdrawCap makes withdrawals pay out at most limit. A nil limit clears it.
func (p *Pool) SetWithdrawCap(limit *big.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.withdrawCap = limit
}

// SetRate changes the simulated supply rate.
func (p *Pool) SetRate(bps uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rateBps = bps
}

// Supply pulls amount of the underlying from caller (which must have
// approved the pool) and credits onBehalfOf's receipt balance.
func (p *Pool) Supply(ctx context.Context, caller common.Address, amount *big.Int, onBehalfOf common.Address) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failures[OpSupply]; err != nil {
		return err
	}
	if amount.Sign() <= 0 {
		return fmt.Errorf("venue: invalid supply amount %s", amount)
	}
	if err := p.ledger.TransferFrom(ctx, p.asset, p.address, caller, p.address, amount); err != nil {
		return fmt.Errorf("pulling underlying: %w", err)
	}
	p.credit(onBehalfOf, amount)
	p.logger.Debug("supplied", "caller", caller, "on_behalf_of", onBehalfOf, "amount", amount)
	return nil
}

// Withdraw burns caller's receipts and pays the underlying out to `to`.
// common.MaxUint256 withdraws the whole receipt balance. Returns the amount paid.
func (p *Pool) Withdraw(ctx context.Context, caller common.Address, amount *big.Int, to common.Address) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failures[OpWithdraw]; err != nil {
		return nil, err
	}
	bal := p.receiptLocked(caller)
	if amount.Cmp(common.MaxUint256) == 0 {
		amount = new(big.Int).Set(bal)
	}
	if amount.Cmp(bal) > 0 {
		return nil, fmt.Errorf("%w: %s holds %s, wants %s", ErrInsufficientReceipt, caller, bal, amount)
	}
	paid := new(big.Int).Set(amount)
	if p.withdrawCap != nil && paid.Cmp(p.withdrawCap) > 0 {
		paid.Set(p.withdrawCap)
	}
	if err := p.ledger.Transfer(ctx, p.asset, p.address, to, paid); err != nil {
		return nil, fmt.Errorf("paying underlying: %w", err)
	}
	p.debit(caller, paid)
	p.logger.Debug("withdrew", "caller", caller, "to", to, "requested", amount, "paid", paid)
	return paid, nil
}

// ReceiptBalance is owner's claim on the pool, including accrued interest.
func (p *Pool) ReceiptBalance(ctx context.Context, owner common.Address) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failures[OpBalance]; err != nil {
		return nil, err
	}
	return new(big.Int).Set(p.receiptLocked(owner)), nil
}

// TotalReceipts is the sum of all receipt balances.
func (p *Pool) TotalReceipts() *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalLocked()
}

// Holders returns a copy of every non-zero receipt balance.
func (p *Pool) Holders() map[common.Address]*big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[common.Address]*big.Int, len(p.receipts))
	for k, v := range p.receipts {
		out[k] = new(big.Int).Set(v)
	}
	return out
}

// Accrue adds amount of interest to the pool, funding it by minting the
// underlying into the pool's custody and distributing it pro-rata over
// receipt holders. Rounding dust goes to the largest holder.
func (p *Pool) Accrue(ctx context.Context, amount *big.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.accrueLocked(ctx, amount)
}

// AccrueSince accrues simple interest at the pool rate for the time elapsed
// since the previous accrual, and returns the interest added.
func (p *Pool) AccrueSince(ctx context.Context, now time.Time) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	elapsed := int64(now.Sub(p.lastAccrual) / time.Second)
	if elapsed <= 0 {
		return new(big.Int), nil
	}
	interest := new(big.Int).Mul(p.totalLocked(), new(big.Int).SetUint64(p.rateBps))
	interest.Mul(interest, big.NewInt(elapsed))
	interest.Quo(interest, big.NewInt(common.BpsDenominator*secondsPerYear))
	p.lastAccrual = now
	if interest.Sign() == 0 {
		return interest, nil
	}
	if err := p.accrueLocked(ctx, interest); err != nil {
		return nil, err
	}
	return interest, nil
}

func (p *Pool) accrueLocked(ctx context.Context, amount *big.Int) error {
	if amount.Sign() <= 0 {
		return nil
	}
	total := p.totalLocked()
	if total.Sign() == 0 {
		return ErrNoHolders
	}
	if err := p.ledger.Mint(ctx, p.asset, p.address, amount); err != nil {
		return fmt.Errorf("funding interest: %w", err)
	}

	holders := p.sortedHoldersLocked()
	distributed := new(big.Int)
	for _, h := range holders {
		share := common.MulDiv(amount, p.receipts[h], total)
		distributed.Add(distributed, share)
		p.credit(h, share)
	}
	if dust := new(big.Int).Sub(amount, distributed); dust.Sign() > 0 {
		p.credit(holders[0], dust)
	}
	p.logger.Debug("accrued interest", "amount", amount, "holders", len(holders))
	return nil
}

// sortedHoldersLocked orders holders by balance descending, then address.
func (p *Pool) sortedHoldersLocked() []common.Address {
	holders := make([]common.Address, 0, len(p.receipts))
	for h, bal := range p.receipts {
		if bal.Sign() > 0 {
			holders = append(holders, h)
		}
	}
	sort.Slice(holders, func(i, j int) bool {
		if c := p.receipts[holders[i]].Cmp(p.receipts[holders[j]]); c != 0 {
			return c > 0
		}
		return holders[i].Cmp(holders[j]) < 0
	})
	return holders
}

func (p *Pool) receiptLocked(owner common.Address) *big.Int {
	if bal, ok := p.receipts[owner]; ok {
		return bal
	}
	return new(big.Int)
}

func (p *Pool) totalLocked() *big.Int {
	total := new(big.Int)
	for _, bal := range p.receipts {
		total.Add(total, bal)
	}
	return total
}

func (p *Pool) credit(owner common.Address, amount *big.Int) {
	p.receipts[owner] = new(big.Int).Add(p.receiptLocked(owner), amount)
}

func (p *Pool) debit(owner common.Address, amount *big.Int) {
	left := new(big.Int).Sub(p.receiptLocked(owner), amount)
	if left.Sign() == 0 {
		delete(p.receipts, owner)
		return
	}
	p.receipts[owner] = left
}

// Snapshot implements ledger.Revertible.
func (p *Pool) Snapshot() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snapshots = append(p.snapshots, copyBalances(p.receipts))
	return len(p.snapshots) - 1
}

// RevertToSnapshot implements ledger.Revertible.
func (p *Pool) RevertToSnapshot(id int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if id < 0 || id >= len(p.snapshots) {
		panic(fmt.Sprintf("venue: snapshot %d cannot be reverted", id))
	}
	p.receipts = p.snapshots[id]
	p.snapshots = p.snapshots[:id]
}

// DiscardSnapshot implements ledger.Revertible.
func (p *Pool) DiscardSnapshot(id int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if id < 0 || id >= len(p.snapshots) {
		return
	}
	p.snapshots = p.snapshots[:id]
}

// PoolState is a serializable copy of a pool.
type PoolState struct {
	Receipts    []Holding `cbor:"1,keyasint"`
	RateBps     uint64    `cbor:"2,keyasint"`
	LastAccrual int64     `cbor:"3,keyasint"`
}

// Holding is one receipt or pending-reward balance.
type Holding struct {
	Owner  common.Address `cbor:"1,keyasint"`
	Amount *big.Int       `cbor:"2,keyasint"`
}

// Export returns a copy of the pool state.
func (p *Pool) Export() PoolState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolState{
		Receipts:    exportHoldings(p.receipts),
		RateBps:     p.rateBps,
		LastAccrual: p.lastAccrual.Unix(),
	}
}

// Import replaces the pool state with s.
func (p *Pool) Import(s PoolState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.receipts = importHoldings(s.Receipts)
	p.rateBps = s.RateBps
	p.lastAccrual = time.Unix(s.LastAccrual, 0).UTC()
	p.snapshots = nil
}

func copyBalances(in map[common.Address]*big.Int) map[common.Address]*big.Int {
	out := make(map[common.Address]*big.Int, len(in))
	for k, v := range in {
		out[k] = new(big.Int).Set(v)
	}
	return out
}

func exportHoldings(in map[common.Address]*big.Int) []Holding {
	out := make([]Holding, 0, len(in))
	for k, v := range in {
		out = append(out, Holding{Owner: k, Amount: new(big.Int).Set(v)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Owner.Cmp(out[j].Owner) < 0 })
	return out
}

func importHoldings(in []Holding) map[common.Address]*big.Int {
	out := make(map[common.Address]*big.Int, len(in))
	for _, h := range in {
		out[h.Owner] = new(big.Int).Set(h.Amount)
	}
	return out
}
