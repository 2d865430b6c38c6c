// Package lending implements the reference strategy adapter, which lends
// the vault's asset to a lending venue pool and claims the venue's
// incentive rewards.
package lending

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/oasisprotocol/yieldvault/common"
	"github.com/oasisprotocol/yieldvault/ledger"
	"github.com/oasisprotocol/yieldvault/log"
	"github.com/oasisprotocol/yieldvault/strategy"
)

const Kind = "lending"

// Pool is the part of a lending venue the adapter drives.
type Pool interface {
	Address() common.Address
	Asset() common.Address
	Supply(ctx context.Context, caller common.Address, amount *big.Int, onBehalfOf common.Address) error
	Withdraw(ctx context.Context, caller common.Address, amount *big.Int, to common.Address) (*big.Int, error)
	ReceiptBalance(ctx context.Context, owner common.Address) (*big.Int, error)
}

// Incentives is the venue's reward distributor.
type Incentives interface {
	PendingRewards(ctx context.Context, owner common.Address) (*big.Int, error)
	ClaimAllRewards(ctx context.Context, caller, to common.Address) (*big.Int, error)
}

// Adapter lends to a single pool.
type Adapter struct {
	address common.Address
	vault   common.Address
	owner   common.Address

	ledger     ledger.Ledger
	pool       Pool
	incentives Incentives

	mu  sync.RWMutex
	apr uint64

	logger *log.Logger
}

var (
	_ strategy.Adapter    = (*Adapter)(nil)
	_ strategy.APRUpdater = (*Adapter)(nil)
)

// New creates an adapter at address, bound to vault and administered by owner.
// incentives may be nil.
func New(address, vault, owner common.Address, l ledger.Ledger, pool Pool, incentives Incentives, logger *log.Logger) *Adapter {
	return &Adapter{
		address:    address,
		vault:      vault,
		owner:      owner,
		ledger:     l,
		pool:       pool,
		incentives: incentives,
		apr:        strategy.DefaultAPR,
		logger:     logger.WithModule("strategy").With("adapter", address, "kind", Kind),
	}
}

func (a *Adapter) Address() common.Address { return a.address }

func (a *Adapter) Kind() string { return Kind }

func (a *Adapter) AssetToken() common.Address { return a.pool.Asset() }

// Deposit implements strategy.Adapter.
func (a *Adapter) Deposit(ctx context.Context, caller common.Address, amount *big.Int) error {
	if caller != a.vault {
		return strategy.ErrNotVault
	}
	asset := a.pool.Asset()
	if err := a.ledger.TransferFrom(ctx, asset, a.address, caller, a.address, amount); err != nil {
		return fmt.Errorf("%w: pulling from vault: %w", strategy.ErrDepositFailed, err)
	}
	if err := a.ledger.Approve(ctx, asset, a.address, a.pool.Address(), amount); err != nil {
		return fmt.Errorf("%w: approving pool: %w", strategy.ErrDepositFailed, err)
	}
	if err := a.pool.Supply(ctx, a.address, amount, a.address); err != nil {
		return fmt.Errorf("%w: %w", strategy.ErrDepositFailed, err)
	}
	a.logger.Debug("deposited", "amount", amount)
	return nil
}

// Withdraw implements strategy.Adapter.
func (a *Adapter) Withdraw(ctx context.Context, caller common.Address, amount *big.Int) (*big.Int, error) {
	if caller != a.vault {
		return nil, strategy.ErrNotVault
	}
	paid, err := a.pool.Withdraw(ctx, a.address, amount, caller)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", strategy.ErrWithdrawFailed, err)
	}
	a.logger.Debug("withdrew", "requested", amount, "paid", paid)
	return paid, nil
}

// WithdrawAll implements strategy.Adapter.
func (a *Adapter) WithdrawAll(ctx context.Context, caller common.Address) (*big.Int, error) {
	return a.Withdraw(ctx, caller, common.MaxUint256)
}

// Balance is the adapter's receipt balance, which the venue grows as
// interest accrues.
func (a *Adapter) Balance(ctx context.Context) (*big.Int, error) {
	return a.pool.ReceiptBalance(ctx, a.address)
}

// APR implements strategy.Adapter.
func (a *Adapter) APR(ctx context.Context) uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.apr
}

// UpdateAPR sets the APR estimate. Only the owner may call it.
func (a *Adapter) UpdateAPR(ctx context.Context, caller common.Address, bps uint64) error {
	if caller != a.owner {
		return strategy.ErrNotOwner
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logger.Info("apr updated", "old", a.apr, "new", bps)
	a.apr = bps
	return nil
}

// ClaimRewards implements strategy.Adapter. Rewards are paid straight to caller.
func (a *Adapter) ClaimRewards(ctx context.Context, caller common.Address) (*big.Int, error) {
	if caller != a.vault {
		return nil, strategy.ErrNotVault
	}
	if a.incentives == nil {
		return new(big.Int), nil
	}
	res := strategy.TryCall(ctx, func(ctx context.Context) (*big.Int, error) {
		return a.incentives.ClaimAllRewards(ctx, a.address, caller)
	})
	if !res.OK() {
		a.logger.Warn("claiming rewards failed", "err", res.Err)
	}
	return res.Value, nil
}

// PendingRewards implements strategy.Adapter.
func (a *Adapter) PendingRewards(ctx context.Context) *big.Int {
	if a.incentives == nil {
		return new(big.Int)
	}
	res := strategy.TryCall(ctx, func(ctx context.Context) (*big.Int, error) {
		return a.incentives.PendingRewards(ctx, a.address)
	})
	return res.Value
}
