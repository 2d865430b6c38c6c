// Package strategy defines the contract between the vault and the yield
// venues it forwards capital to.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/oasisprotocol/yieldvault/common"
)

var (
	// ErrDepositFailed is returned when the venue rejects a deposit.
	ErrDepositFailed = errors.New("strategy: deposit failed")
	// ErrWithdrawFailed is returned when the venue rejects a withdrawal.
	ErrWithdrawFailed = errors.New("strategy: withdraw failed")
	// ErrNotVault is returned when anyone but the bound vault moves funds.
	ErrNotVault = errors.New("strategy: caller is not the vault")
	// ErrNotOwner is returned when anyone but the owner changes adapter settings.
	ErrNotOwner = errors.New("strategy: caller is not the owner")
)

// DefaultAPR is the estimated annual rate an adapter reports until its owner
// sets one, in basis points.
const DefaultAPR uint64 = 300

// Adapter is a pluggable integration with one capital venue.
//
// Funds only move on behalf of the vault the adapter is bound to. The vault
// grants the adapter a ledger allowance before calling Deposit, and receives
// withdrawals directly.
type Adapter interface {
	// Address is the adapter's identity on the ledger.
	Address() common.Address
	// Kind names the adapter implementation.
	Kind() string
	// AssetToken is the underlying asset the adapter accepts.
	AssetToken() common.Address

	// Deposit pulls amount from caller and puts it to work.
	Deposit(ctx context.Context, caller common.Address, amount *big.Int) error
	// Withdraw returns up to amount to caller, and reports how much was actually sent.
	Withdraw(ctx context.Context, caller common.Address, amount *big.Int) (*big.Int, error)
	// WithdrawAll returns the whole balance to caller.
	WithdrawAll(ctx context.Context, caller common.Address) (*big.Int, error)

	// Balance is the value currently held, including accrued yield.
	Balance(ctx context.Context) (*big.Int, error)
	// APR is the estimated annual rate in basis points.
	APR(ctx context.Context) uint64

	// ClaimRewards claims incentive rewards from the venue to caller.
	// Venue failures are reported as zero progress.
	ClaimRewards(ctx context.Context, caller common.Address) (*big.Int, error)
	// PendingRewards is what ClaimRewards would pay now, zero if unknown.
	PendingRewards(ctx context.Context) *big.Int
}

// APRUpdater is implemented by adapters whose APR estimate is set by an owner.
type APRUpdater interface {
	UpdateAPR(ctx context.Context, caller common.Address, bps uint64) error
}

// CallResult is the outcome of a best-effort call.
type CallResult struct {
	// Value is the amount produced, zero when Err is set.
	Value *big.Int
	Err   error
}

// OK reports whether the call succeeded.
func (r CallResult) OK() bool { return r.Err == nil }

// TryCall runs fn and captures its failure, including a panic, instead of
// propagating it. Callers that must not abort on an external failure branch
// on the result.
func TryCall(ctx context.Context, fn func(ctx context.Context) (*big.Int, error)) (res CallResult) {
	defer func() {
		if r := recover(); r != nil {
			res = CallResult{Value: new(big.Int), Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	v, err := fn(ctx)
	if err != nil {
		return CallResult{Value: new(big.Int), Err: err}
	}
	if v == nil {
		v = new(big.Int)
	}
	return CallResult{Value: v}
}
