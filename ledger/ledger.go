// Package ledger defines the asset ledger boundary the vault moves funds
// through, and an in-memory multi-token implementation of it.
package ledger

import (
	"context"
	"errors"
	"math/big"

	"github.com/oasisprotocol/yieldvault/common"
)

var (
	// ErrInsufficientFunds is returned when the sender's balance does not cover a transfer.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	// ErrInsufficientAllowance is returned when a spender's allowance does not cover a transfer.
	ErrInsufficientAllowance = errors.New("ledger: insufficient allowance")
	// ErrInvalidAmount is returned for negative or nil amounts.
	ErrInvalidAmount = errors.New("ledger: invalid amount")
	// ErrUnknownToken is returned for tokens that were never registered.
	ErrUnknownToken = errors.New("ledger: unknown token")
	// ErrInvalidRecipient is returned when transferring to the zero address.
	ErrInvalidRecipient = errors.New("ledger: invalid recipient")
)

// Ledger is a fungible-value transfer service for any number of tokens.
//
// Callers are passed explicitly: `from` in Transfer and `spender` in
// TransferFrom are the identities on whose authority the call is made.
type Ledger interface {
	// BalanceOf returns the token balance of owner.
	BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error)

	// Allowance returns how much spender may still move out of owner's balance.
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)

	// Transfer moves amount from `from` to `to`.
	Transfer(ctx context.Context, token, from, to common.Address, amount *big.Int) error

	// TransferFrom moves amount from `from` to `to` on behalf of spender,
	// consuming spender's allowance.
	TransferFrom(ctx context.Context, token, spender, from, to common.Address, amount *big.Int) error

	// Approve sets spender's allowance over owner's balance to amount.
	Approve(ctx context.Context, token, owner, spender common.Address, amount *big.Int) error
}

// Revertible is implemented by in-process collaborators whose state can be
// rolled back, so a failed vault call leaves no trace in them either.
type Revertible interface {
	// Snapshot marks the current state and returns an identifier for it.
	Snapshot() int
	// RevertToSnapshot undoes every change made since the snapshot was taken.
	RevertToSnapshot(id int)
	// DiscardSnapshot forgets the snapshot, keeping the changes made since.
	DiscardSnapshot(id int)
}

// Token describes a registered token.
type Token struct {
	Address  common.Address `cbor:"1,keyasint" json:"address"`
	Symbol   string         `cbor:"2,keyasint" json:"symbol"`
	Decimals uint8          `cbor:"3,keyasint" json:"decimals"`
}

func validAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	return nil
}
