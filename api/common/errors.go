package common

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/oasisprotocol/yieldvault/ledger"
	"github.com/oasisprotocol/yieldvault/sandbox"
	"github.com/oasisprotocol/yieldvault/strategy"
	"github.com/oasisprotocol/yieldvault/vault"
)

var (
	// ErrBadRequest is returned when the provided HTTP request
	// is malformed.
	ErrBadRequest = errors.New("invalid request parameters")
	// ErrNotFound is returned when handling a request for an item that
	// does not exist.
	ErrNotFound = errors.New("item not found")
)

// ErrorResponse is a JSON error.
type ErrorResponse struct {
	Msg string `json:"error"`
}

// HttpCodeForError maps an error raised while serving a request to the
// status code reported to the client.
func HttpCodeForError(err error) int {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, sandbox.ErrUnknownPool):
		return http.StatusNotFound
	case errors.Is(err, vault.ErrUnauthorized),
		errors.Is(err, strategy.ErrNotOwner),
		errors.Is(err, strategy.ErrNotVault):
		return http.StatusForbidden
	case errors.Is(err, vault.ErrReentrantCall):
		return http.StatusConflict
	case errors.Is(err, vault.ErrWithdrawFailed),
		errors.Is(err, strategy.ErrWithdrawFailed),
		errors.Is(err, strategy.ErrDepositFailed):
		return http.StatusBadGateway
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, vault.ErrZeroAmount),
		errors.Is(err, vault.ErrInsufficientBalance),
		errors.Is(err, vault.ErrInvalidStrategy),
		errors.Is(err, vault.ErrStrategyNotAuthorized),
		errors.Is(err, vault.ErrNoActiveStrategy),
		errors.Is(err, vault.ErrInsufficientFeeReserve),
		errors.Is(err, vault.ErrRewardTokenNotAllowed),
		errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrInsufficientAllowance),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrUnknownToken),
		errors.Is(err, ledger.ErrInvalidRecipient):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// ReplyWithError replies to an HTTP request with an error
// as JSON.
func ReplyWithError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(HttpCodeForError(err))
	_ = json.NewEncoder(w).Encode(ErrorResponse{Msg: err.Error()})
}
