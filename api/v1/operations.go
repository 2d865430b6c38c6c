package v1

import (
	"context"
	"math/big"
	"net/http"

	"github.com/oasisprotocol/yieldvault/common"
	"github.com/oasisprotocol/yieldvault/strategy"
	"github.com/oasisprotocol/yieldvault/vault"
)

// userAmount reads the acting user from the path and the amount from the body.
func userAmount(r *http.Request) (common.Address, *big.Int, error) {
	user, err := pathAddress(r)
	if err != nil {
		return user, nil, err
	}
	var req AmountRequest
	if err := decodeBody(r, &req); err != nil {
		return user, nil, err
	}
	amount, err := parseAmount(req.Amount)
	return user, amount, err
}

func (h *Handler) replyAmount(w http.ResponseWriter, r *http.Request, amount *big.Int) {
	h.reply(w, r, Amount{Amount: common.BigIntFrom(amount)})
}

// Deposit deposits asset the user approved the vault to pull.
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	user, amount, err := userAmount(r)
	if err != nil {
		h.logAndReply(r, "bad deposit request", w, err)
		return
	}
	if err := h.engine.Deposit(r.Context(), user, amount); err != nil {
		h.logAndReply(r, "deposit failed", w, err)
		return
	}
	h.replyAmount(w, r, amount)
}

// Withdraw withdraws part of the user's deposited value.
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	user, amount, err := userAmount(r)
	if err != nil {
		h.logAndReply(r, "bad withdraw request", w, err)
		return
	}
	out, err := h.engine.Withdraw(r.Context(), user, amount)
	if err != nil {
		h.logAndReply(r, "withdraw failed", w, err)
		return
	}
	h.replyAmount(w, r, out)
}

// WithdrawAll settles the user's yield and returns their principal.
func (h *Handler) WithdrawAll(w http.ResponseWriter, r *http.Request) {
	user, err := pathAddress(r)
	if err != nil {
		h.logAndReply(r, "bad withdraw_all request", w, err)
		return
	}
	out, err := h.engine.WithdrawAll(r.Context(), user)
	if err != nil {
		h.logAndReply(r, "withdraw_all failed", w, err)
		return
	}
	h.replyAmount(w, r, out)
}

// ClaimYield pays out the user's yield net of the protocol fee.
func (h *Handler) ClaimYield(w http.ResponseWriter, r *http.Request) {
	user, err := pathAddress(r)
	if err != nil {
		h.logAndReply(r, "bad claim request", w, err)
		return
	}
	out, err := h.engine.ClaimYield(r.Context(), user)
	if err != nil {
		h.logAndReply(r, "claim failed", w, err)
		return
	}
	h.replyAmount(w, r, out)
}

// adminStrategy reads the caller header and the strategy body.
func adminStrategy(r *http.Request) (common.Address, common.Address, error) {
	who, err := caller(r)
	if err != nil {
		return who, common.ZeroAddress, err
	}
	var req StrategyRequest
	if err := decodeBody(r, &req); err != nil {
		return who, common.ZeroAddress, err
	}
	addr, err := parseAddress("strategy", req.Strategy)
	return who, addr, err
}

func (h *Handler) registryOp(w http.ResponseWriter, r *http.Request, op string, fn func(caller, adapter common.Address) error) {
	who, adapter, err := adminStrategy(r)
	if err != nil {
		h.logAndReply(r, "bad "+op+" request", w, err)
		return
	}
	if err := fn(who, adapter); err != nil {
		h.logAndReply(r, op+" failed", w, err)
		return
	}
	h.logger.Info("strategy registry changed", "op", op, "strategy", adapter, "caller", who)
	h.reply(w, r, struct{}{})
}

// AuthorizeStrategy adds a strategy to the authorized set.
func (h *Handler) AuthorizeStrategy(w http.ResponseWriter, r *http.Request) {
	h.registryOp(w, r, "authorize", func(who, adapter common.Address) error {
		return h.engine.AuthorizeStrategy(r.Context(), who, adapter)
	})
}

// RevokeStrategy removes a strategy from the authorized set.
func (h *Handler) RevokeStrategy(w http.ResponseWriter, r *http.Request) {
	h.registryOp(w, r, "revoke", func(who, adapter common.Address) error {
		return h.engine.RevokeStrategy(r.Context(), who, adapter)
	})
}

// SwitchStrategy migrates all funds to another authorized strategy.
func (h *Handler) SwitchStrategy(w http.ResponseWriter, r *http.Request) {
	h.registryOp(w, r, "switch", func(who, adapter common.Address) error {
		return h.engine.SwitchStrategy(r.Context(), who, adapter)
	})
}

// adminAmount runs an administrator operation that takes no body.
func (h *Handler) adminAmount(w http.ResponseWriter, r *http.Request, op string, fn func(caller common.Address) (*big.Int, error)) {
	who, err := caller(r)
	if err != nil {
		h.logAndReply(r, "bad "+op+" request", w, err)
		return
	}
	out, err := fn(who)
	if err != nil {
		h.logAndReply(r, op+" failed", w, err)
		return
	}
	h.replyAmount(w, r, out)
}

// WithdrawFees sends the accumulated protocol fees to the administrator.
func (h *Handler) WithdrawFees(w http.ResponseWriter, r *http.Request) {
	h.adminAmount(w, r, "withdraw_fees", func(who common.Address) (*big.Int, error) {
		return h.engine.WithdrawFees(r.Context(), who)
	})
}

// EmergencyWithdraw pulls everything out of the active strategy.
func (h *Handler) EmergencyWithdraw(w http.ResponseWriter, r *http.Request) {
	h.adminAmount(w, r, "emergency_withdraw", func(who common.Address) (*big.Int, error) {
		return h.engine.EmergencyWithdraw(r.Context(), who)
	})
}

// ClaimRewards claims venue incentives into the vault.
func (h *Handler) ClaimRewards(w http.ResponseWriter, r *http.Request) {
	h.adminAmount(w, r, "claim_rewards", func(who common.Address) (*big.Int, error) {
		return h.engine.ClaimRewards(r.Context(), who)
	})
}

// WithdrawRewardToken sweeps a non-asset token held by the vault.
func (h *Handler) WithdrawRewardToken(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		h.logAndReply(r, "bad withdraw_reward_token request", w, err)
		return
	}
	var req RewardTokenRequest
	if err = decodeBody(r, &req); err != nil {
		h.logAndReply(r, "bad withdraw_reward_token request", w, err)
		return
	}
	token, err := parseAddress("token", req.Token)
	if err != nil {
		h.logAndReply(r, "bad withdraw_reward_token request", w, err)
		return
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		h.logAndReply(r, "bad withdraw_reward_token request", w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		h.logAndReply(r, "bad withdraw_reward_token request", w, err)
		return
	}
	if err := h.engine.WithdrawRewardToken(r.Context(), who, token, to, amount); err != nil {
		h.logAndReply(r, "withdraw_reward_token failed", w, err)
		return
	}
	h.replyAmount(w, r, amount)
}

// UpdateAPR sets the APR estimate of a registered strategy. Only adapters
// with an owner-set estimate support it.
func (h *Handler) UpdateAPR(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		h.logAndReply(r, "bad apr request", w, err)
		return
	}
	var req APRRequest
	if err = decodeBody(r, &req); err != nil {
		h.logAndReply(r, "bad apr request", w, err)
		return
	}
	addr, err := parseAddress("strategy", req.Strategy)
	if err != nil {
		h.logAndReply(r, "bad apr request", w, err)
		return
	}
	adapter, ok := h.engine.Adapter(addr)
	if !ok {
		h.logAndReply(r, "unknown strategy", w, vault.ErrInvalidStrategy)
		return
	}
	updater, ok := adapter.(strategy.APRUpdater)
	if !ok {
		h.logAndReply(r, "strategy has no settable apr", w, badRequest("strategy %s has no settable apr", addr))
		return
	}
	// Serialized with engine operations since the adapter is shared with them.
	err = h.engine.Atomically(r.Context(), "update_apr", func(ctx context.Context) error {
		return updater.UpdateAPR(ctx, who, req.APRBps)
	})
	if err != nil {
		h.logAndReply(r, "apr update failed", w, err)
		return
	}
	h.reply(w, r, struct {
		APRBps     uint64 `json:"apr_bps"`
		APRPercent string `json:"apr_percent"`
	}{req.APRBps, percent(req.APRBps)})
}

// Faucet mints vault asset to a user.
func (h *Handler) Faucet(w http.ResponseWriter, r *http.Request) {
	user, amount, err := faucetRequest(r)
	if err != nil {
		h.logAndReply(r, "bad faucet request", w, err)
		return
	}
	if err := h.world.Faucet(r.Context(), user, amount); err != nil {
		h.logAndReply(r, "faucet failed", w, err)
		return
	}
	h.replyAmount(w, r, amount)
}

// Approve sets the vault's allowance over a user's asset balance.
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	user, amount, err := faucetRequest(r)
	if err != nil {
		h.logAndReply(r, "bad approve request", w, err)
		return
	}
	if err := h.world.Approve(r.Context(), user, amount); err != nil {
		h.logAndReply(r, "approve failed", w, err)
		return
	}
	h.replyAmount(w, r, amount)
}

// Accrue injects interest into a venue pool.
func (h *Handler) Accrue(w http.ResponseWriter, r *http.Request) {
	var req AccrueRequest
	if err := decodeBody(r, &req); err != nil {
		h.logAndReply(r, "bad accrue request", w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		h.logAndReply(r, "bad accrue request", w, err)
		return
	}
	if err := h.world.Accrue(r.Context(), req.Pool, amount); err != nil {
		h.logAndReply(r, "accrue failed", w, err)
		return
	}
	h.replyAmount(w, r, amount)
}

func faucetRequest(r *http.Request) (common.Address, *big.Int, error) {
	var req FaucetRequest
	if err := decodeBody(r, &req); err != nil {
		return common.ZeroAddress, nil, err
	}
	user, err := parseAddress("user", req.User)
	if err != nil {
		return user, nil, err
	}
	amount, err := parseAmount(req.Amount)
	return user, amount, err
}
