// Package v1 implements version 1 of the vault HTTP API.
package v1

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"

	"github.com/go-chi/chi/v5"

	apiCommon "github.com/oasisprotocol/yieldvault/api/common"
	"github.com/oasisprotocol/yieldvault/common"
	"github.com/oasisprotocol/yieldvault/ledger"
	"github.com/oasisprotocol/yieldvault/log"
	"github.com/oasisprotocol/yieldvault/sandbox"
	"github.com/oasisprotocol/yieldvault/storage"
	"github.com/oasisprotocol/yieldvault/vault"
)

const (
	moduleName = "api_v1"

	// CallerHeader carries the acting identity of administrator operations.
	CallerHeader = "X-Vault-Caller"

	maxBodyBytes = 1 << 16
)

// EventSource serves journal queries.
type EventSource interface {
	Events(ctx context.Context, filter storage.EventFilter) ([]vault.Event, error)
}

// TokenRegistry describes tokens by address.
type TokenRegistry interface {
	Token(token common.Address) (ledger.Token, bool)
}

// Handler is the vault V1 API handler.
type Handler struct {
	engine *vault.Engine
	ledger ledger.Ledger
	tokens TokenRegistry
	events EventSource
	world  *sandbox.World
	logger *log.Logger
}

// NewHandler creates a new V1 API handler over engine and the ledger it
// settles on. A nil events source disables the journal endpoint.
func NewHandler(engine *vault.Engine, l ledger.Ledger, events EventSource, logger *log.Logger) *Handler {
	h := &Handler{
		engine: engine,
		ledger: l,
		events: events,
		logger: logger.WithModule(moduleName),
	}
	if tokens, ok := l.(TokenRegistry); ok {
		h.tokens = tokens
	}
	return h
}

// NewSandboxHandler creates a V1 API handler over a sandbox world, including
// the sandbox helper endpoints.
func NewSandboxHandler(w *sandbox.World, events EventSource, logger *log.Logger) *Handler {
	h := NewHandler(w.Engine, w.Ledger, events, logger)
	h.world = w
	return h
}

// Name implements the APIHandler interface.
func (h *Handler) Name() string {
	return moduleName
}

// RegisterRoutes implements the APIHandler interface.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", h.GetStatus)
		r.Get("/strategies", h.GetStrategies)
		r.Get("/events", h.ListEvents)

		r.Route("/accounts/{address}", func(r chi.Router) {
			r.Get("/", h.GetAccount)
			r.Post("/deposit", h.Deposit)
			r.Post("/withdraw", h.Withdraw)
			r.Post("/withdraw_all", h.WithdrawAll)
			r.Post("/claim", h.ClaimYield)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/authorize", h.AuthorizeStrategy)
			r.Post("/revoke", h.RevokeStrategy)
			r.Post("/switch", h.SwitchStrategy)
			r.Post("/withdraw_fees", h.WithdrawFees)
			r.Post("/emergency_withdraw", h.EmergencyWithdraw)
			r.Post("/withdraw_reward_token", h.WithdrawRewardToken)
			r.Post("/claim_rewards", h.ClaimRewards)
			r.Post("/apr", h.UpdateAPR)
		})

		if h.world != nil {
			r.Route("/sandbox", func(r chi.Router) {
				r.Post("/faucet", h.Faucet)
				r.Post("/approve", h.Approve)
				r.Post("/accrue", h.Accrue)
			})
		}
	})
}

// reply writes v as the JSON response.
func (h *Handler) reply(w http.ResponseWriter, r *http.Request, v interface{}) {
	resp, err := json.Marshal(v)
	if err != nil {
		h.logAndReply(r, "failed to marshal response", w, err)
		return
	}
	w.Header().Set("content-type", "application/json")
	if _, err := w.Write(resp); err != nil {
		h.logger.Error("failed to write response",
			"request_id", r.Context().Value(common.RequestIDContextKey),
			"err", err,
		)
	}
}

// logAndReply logs err and replies with it. Client errors are logged at
// debug level.
func (h *Handler) logAndReply(r *http.Request, msg string, w http.ResponseWriter, err error) {
	keyvals := []interface{}{
		"request_id", r.Context().Value(common.RequestIDContextKey),
		"endpoint", r.URL.Path,
		"err", err,
	}
	if apiCommon.HttpCodeForError(err) >= http.StatusInternalServerError {
		h.logger.Error(msg, keyvals...)
	} else {
		h.logger.Debug(msg, keyvals...)
	}
	apiCommon.ReplyWithError(w, err)
}

func badRequest(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", apiCommon.ErrBadRequest, fmt.Sprintf(format, args...))
}

// decodeBody reads a JSON request body into v.
func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest("malformed body: %s", err)
	}
	return nil
}

// parseAddress accepts hex addresses and `label:` addresses.
func parseAddress(field, s string) (common.Address, error) {
	if s == "" {
		return common.Address{}, badRequest("missing %s", field)
	}
	addr, err := common.ResolveAddress(s)
	if err != nil {
		return common.Address{}, badRequest("bad %s: %s", field, err)
	}
	return addr, nil
}

// parseAmount rejects missing and negative amounts. Zero is passed on, so
// the engine reports it.
func parseAmount(v *common.BigInt) (*big.Int, error) {
	if v == nil {
		return nil, badRequest("missing amount")
	}
	if v.Sign() < 0 {
		return nil, badRequest("negative amount")
	}
	return v.Big(), nil
}

func pathAddress(r *http.Request) (common.Address, error) {
	return parseAddress("address", chi.URLParam(r, "address"))
}

func caller(r *http.Request) (common.Address, error) {
	return parseAddress(CallerHeader+" header", r.Header.Get(CallerHeader))
}
