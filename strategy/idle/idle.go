// Package idle implements a strategy adapter that keeps the asset unlent on
// the ledger. It earns nothing and never fails on its own, which makes it a
// safe place to park funds while a venue is unhealthy.
package idle

import (
	"context"
	"fmt"
	"math/big"

	"github.com/oasisprotocol/yieldvault/common"
	"github.com/oasisprotocol/yieldvault/ledger"
	"github.com/oasisprotocol/yieldvault/log"
	"github.com/oasisprotocol/yieldvault/strategy"
)

const Kind = "idle"

type Adapter struct {
	address common.Address
	vault   common.Address
	asset   common.Address
	ledger  ledger.Ledger
	logger  *log.Logger
}

var _ strategy.Adapter = (*Adapter)(nil)

// New creates an idle adapter holding asset at address on behalf of vault.
func New(address, vault, asset common.Address, l ledger.Ledger, logger *log.Logger) *Adapter {
	return &Adapter{
		address: address,
		vault:   vault,
		asset:   asset,
		ledger:  l,
		logger:  logger.WithModule("strategy").With("adapter", address, "kind", Kind),
	}
}

func (a *Adapter) Address() common.Address { return a.address }

func (a *Adapter) Kind() string { return Kind }

func (a *Adapter) AssetToken() common.Address { return a.asset }

func (a *Adapter) Deposit(ctx context.Context, caller common.Address, amount *big.Int) error {
	if caller != a.vault {
		return strategy.ErrNotVault
	}
	if err := a.ledger.TransferFrom(ctx, a.asset, a.address, caller, a.address, amount); err != nil {
		return fmt.Errorf("%w: %w", strategy.ErrDepositFailed, err)
	}
	return nil
}

// Withdraw sends min(amount, balance) to caller.
func (a *Adapter) Withdraw(ctx context.Context, caller common.Address, amount *big.Int) (*big.Int, error) {
	if caller != a.vault {
		return nil, strategy.ErrNotVault
	}
	bal, err := a.ledger.BalanceOf(ctx, a.asset, a.address)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", strategy.ErrWithdrawFailed, err)
	}
	paid := common.MinBig(amount, bal)
	if err := a.ledger.Transfer(ctx, a.asset, a.address, caller, paid); err != nil {
		return nil, fmt.Errorf("%w: %w", strategy.ErrWithdrawFailed, err)
	}
	a.logger.Debug("withdrew", "requested", amount, "paid", paid)
	return paid, nil
}

func (a *Adapter) WithdrawAll(ctx context.Context, caller common.Address) (*big.Int, error) {
	return a.Withdraw(ctx, caller, common.MaxUint256)
}

func (a *Adapter) Balance(ctx context.Context) (*big.Int, error) {
	return a.ledger.BalanceOf(ctx, a.asset, a.address)
}

func (a *Adapter) APR(ctx context.Context) uint64 { return 0 }

func (a *Adapter) ClaimRewards(ctx context.Context, caller common.Address) (*big.Int, error) {
	if caller != a.vault {
		return nil, strategy.ErrNotVault
	}
	return new(big.Int), nil
}

func (a *Adapter) PendingRewards(ctx context.Context) *big.Int { return new(big.Int) }
