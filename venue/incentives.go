package venue

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/oasisprotocol/yieldvault/common"
	"github.com/oasisprotocol/yieldvault/ledger"
	"github.com/oasisprotocol/yieldvault/log"
)

// Incentives pays a reward token to the receipt holders of one pool.
type Incentives struct {
	mu sync.Mutex

	address     common.Address
	rewardToken common.Address
	pool        *Pool
	ledger      Minter

	// rateBps of each holder's receipt balance is credited per Distribute.
	rateBps uint64
	pending map[common.Address]*big.Int
	failure error

	snapshots []map[common.Address]*big.Int

	logger *log.Logger
}

var _ ledger.Revertible = (*Incentives)(nil)

// NewIncentives creates a controller for pool's holders.
func NewIncentives(address, rewardToken common.Address, pool *Pool, l Minter, rateBps uint64, logger *log.Logger) *Incentives {
	return &Incentives{
		address:     address,
		rewardToken: rewardToken,
		pool:        pool,
		ledger:      l,
		rateBps:     rateBps,
		pending:     make(map[common.Address]*big.Int),
		logger:      logger.WithModule(moduleName).With("incentives", address),
	}
}

// Address is the controller's identity.
func (c *Incentives) Address() common.Address { return c.address }

// RewardToken is the token the controller pays out.
func (c *Incentives) RewardToken() common.Address { return c.rewardToken }

// SetFailure makes subsequent claims and reads fail with err. A nil err clears it.
func (c *Incentives) SetFailure(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failure = err
}

// Distribute credits every current receipt holder with rateBps of its
// receipt balance, and returns the total credited.
func (c *Incentives) Distribute() *big.Int {
	holders := c.pool.Holders()

	c.mu.Lock()
	defer c.mu.Unlock()
	total := new(big.Int)
	for owner, bal := range holders {
		reward := common.Bps(bal, c.rateBps)
		if reward.Sign() == 0 {
			continue
		}
		c.pending[owner] = new(big.Int).Add(c.pendingLocked(owner), reward)
		total.Add(total, reward)
	}
	if total.Sign() > 0 {
		c.logger.Debug("distributed rewards", "amount", total, "holders", len(holders))
	}
	return total
}

// PendingRewards is how much owner could claim now.
func (c *Incentives) PendingRewards(ctx context.Context, owner common.Address) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failure != nil {
		return nil, c.failure
	}
	return new(big.Int).Set(c.pendingLocked(owner)), nil
}

// ClaimAllRewards pays caller's pending rewards to `to`, minting the reward
// token, and returns the amount paid.
func (c *Incentives) ClaimAllRewards(ctx context.Context, caller, to common.Address) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failure != nil {
		return nil, c.failure
	}
	amount := new(big.Int).Set(c.pendingLocked(caller))
	if amount.Sign() == 0 {
		return amount, nil
	}
	if err := c.ledger.Mint(ctx, c.rewardToken, to, amount); err != nil {
		return nil, fmt.Errorf("minting rewards: %w", err)
	}
	delete(c.pending, caller)
	c.logger.Debug("claimed rewards", "caller", caller, "to", to, "amount", amount)
	return amount, nil
}

func (c *Incentives) pendingLocked(owner common.Address) *big.Int {
	if v, ok := c.pending[owner]; ok {
		return v
	}
	return new(big.Int)
}

// Snapshot implements ledger.Revertible.
func (c *Incentives) Snapshot() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshots = append(c.snapshots, copyBalances(c.pending))
	return len(c.snapshots) - 1
}

// RevertToSnapshot implements ledger.Revertible.
func (c *Incentives) RevertToSnapshot(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id < 0 || id >= len(c.snapshots) {
		panic(fmt.Sprintf("venue: snapshot %d cannot be reverted", id))
	}
	c.pending = c.snapshots[id]
	c.snapshots = c.snapshots[:id]
}

// DiscardSnapshot implements ledger.Revertible.
func (c *Incentives) DiscardSnapshot(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id < 0 || id >= len(c.snapshots) {
		return
	}
	c.snapshots = c.snapshots[:id]
}

// IncentivesState is a serializable copy of the controller.
type IncentivesState struct {
	Pending []Holding `cbor:"1,keyasint"`
	RateBps uint64    `cbor:"2,keyasint"`
}

// Export returns a copy of the controller state.
func (c *Incentives) Export() IncentivesState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return IncentivesState{Pending: exportHoldings(c.pending), RateBps: c.rateBps}
}

// Import replaces the controller state with s.
func (c *Incentives) Import(s IncentivesState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = importHoldings(s.Pending)
	c.rateBps = s.RateBps
	c.snapshots = nil
}
