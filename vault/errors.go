package vault

import "errors"

var (
	ErrZeroAmount             = errors.New("vault: amount must be positive")
	ErrInsufficientBalance    = errors.New("vault: insufficient deposited value")
	ErrInvalidStrategy        = errors.New("vault: invalid strategy")
	ErrStrategyNotAuthorized  = errors.New("vault: strategy not authorized")
	ErrNoActiveStrategy       = errors.New("vault: no active strategy")
	ErrWithdrawFailed         = errors.New("vault: strategy withdraw failed")
	ErrInsufficientFeeReserve = errors.New("vault: fee reserve not covered by vault balance")
	ErrRewardTokenNotAllowed  = errors.New("vault: cannot sweep the vault asset")

	// ErrUnauthorized is returned when anyone but the administrator calls an
	// administrative operation.
	ErrUnauthorized = errors.New("vault: caller is not the administrator")
	// ErrReentrantCall is returned when a guarded operation is entered from
	// within another guarded operation of the same vault.
	ErrReentrantCall = errors.New("vault: reentrant call")
)
