package v1

import (
	"context"
	"net/http"

	apiCommon "github.com/oasisprotocol/yieldvault/api/common"
	"github.com/oasisprotocol/yieldvault/common"
	"github.com/oasisprotocol/yieldvault/storage"
	"github.com/oasisprotocol/yieldvault/vault"
)

func (h *Handler) asset() Token {
	t := Token{Address: h.engine.Asset()}
	if h.tokens != nil {
		if info, ok := h.tokens.Token(t.Address); ok {
			t.Symbol = info.Symbol
			t.Decimals = info.Decimals
		}
	}
	return t
}

func activePtr(addr common.Address) *common.Address {
	if addr == common.ZeroAddress {
		return nil
	}
	return &addr
}

// GetStatus gets the vault-wide status.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	asset := h.asset()
	status := Status{
		Vault:      h.engine.Address(),
		Asset:      asset,
		Admin:      h.engine.Admin(),
		FeeBps:     h.engine.FeeBps(),
		FeePercent: percent(h.engine.FeeBps()),
	}
	err := h.engine.View(r.Context(), func(ctx context.Context) error {
		bal, err := h.engine.GetTotalBalance(ctx)
		if err != nil {
			return err
		}
		totals := h.engine.Totals(ctx)
		apr := h.engine.GetCurrentAPR(ctx)

		status.ActiveStrategy = activePtr(h.engine.ActiveStrategy(ctx))
		status.TotalBalance = common.BigIntFrom(bal)
		status.TotalBalanceUnits = units(bal, asset.Decimals)
		status.TotalPrincipal = common.BigIntFrom(totals.Principal)
		status.TotalDeposited = common.BigIntFrom(totals.DepositedValue)
		status.AccumulatedFees = common.BigIntFrom(totals.AccumulatedFees)
		status.APRBps = apr
		status.APRPercent = percent(apr)
		status.Users = len(h.engine.Accounts(ctx))
		return nil
	})
	if err != nil {
		h.logAndReply(r, "failed to get status", w, err)
		return
	}
	h.reply(w, r, status)
}

// GetStrategies gets the strategy registry and every registered adapter.
func (h *Handler) GetStrategies(w http.ResponseWriter, r *http.Request) {
	var out Strategies
	err := h.engine.View(r.Context(), func(ctx context.Context) error {
		active := h.engine.ActiveStrategy(ctx)
		out.Active = activePtr(active)
		out.Authorized = h.engine.AuthorizedStrategies(ctx)
		out.History = []Activation{}
		for _, a := range h.engine.History(ctx) {
			out.History = append(out.History, Activation{Adapter: a.Adapter, ActivatedAt: a.Time})
		}
		out.Adapters = []AdapterInfo{}
		for _, a := range h.engine.Adapters() {
			apr := a.APR(ctx)
			info := AdapterInfo{
				Address:        a.Address(),
				Kind:           a.Kind(),
				Authorized:     h.engine.IsAuthorized(ctx, a.Address()),
				Active:         a.Address() == active,
				APRBps:         apr,
				APRPercent:     percent(apr),
				PendingRewards: common.BigIntFrom(a.PendingRewards(ctx)),
			}
			// A venue that cannot report its balance does not fail the listing.
			if bal, err := a.Balance(ctx); err == nil {
				b := common.BigIntFrom(bal)
				info.Balance = &b
			} else {
				h.logger.Debug("adapter balance unavailable", "adapter", a.Address(), "err", err)
			}
			out.Adapters = append(out.Adapters, info)
		}
		return nil
	})
	if err != nil {
		h.logAndReply(r, "failed to get strategies", w, err)
		return
	}
	if out.Authorized == nil {
		out.Authorized = []common.Address{}
	}
	h.reply(w, r, out)
}

// GetAccount gets the view of one user.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	user, err := pathAddress(r)
	if err != nil {
		h.logAndReply(r, "bad account address", w, err)
		return
	}

	out := Account{Address: user}
	err = h.engine.View(r.Context(), func(ctx context.Context) error {
		acc := h.engine.Account(ctx, user)
		yield, err := h.engine.GetUserEstimatedYield(ctx, user)
		if err != nil {
			return err
		}
		apr, err := h.engine.GetUserAPR(ctx, user)
		if err != nil {
			return err
		}
		wallet, err := h.ledger.BalanceOf(ctx, h.engine.Asset(), user)
		if err != nil {
			return err
		}
		allowance, err := h.ledger.Allowance(ctx, h.engine.Asset(), user, h.engine.Address())
		if err != nil {
			return err
		}

		out.Principal = common.BigIntFrom(acc.Principal)
		out.DepositedValue = common.BigIntFrom(acc.DepositedValue)
		if !acc.LastClaimTime.IsZero() {
			t := acc.LastClaimTime.UTC()
			out.LastClaimTime = &t
		}
		out.EstimatedYield = common.BigIntFrom(yield)
		out.APRBps = apr
		out.APRPercent = percent(apr)
		out.WalletBalance = common.BigIntFrom(wallet)
		out.Allowance = common.BigIntFrom(allowance)
		return nil
	})
	if err != nil {
		h.logAndReply(r, "failed to get account", w, err)
		return
	}
	h.reply(w, r, out)
}

// ListEvents lists journaled events, oldest first.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		h.logAndReply(r, "no event journal", w, apiCommon.ErrNotFound)
		return
	}
	p, err := apiCommon.NewPagination(r)
	if err != nil {
		h.logAndReply(r, "bad pagination", w, err)
		return
	}
	filter := storage.EventFilter{
		Type:   vault.EventType(r.URL.Query().Get("type")),
		Limit:  p.Limit,
		Offset: p.Offset,
	}
	if v := r.URL.Query().Get("user"); v != "" {
		user, err := parseAddress("user", v)
		if err != nil {
			h.logAndReply(r, "bad user filter", w, err)
			return
		}
		filter.User = &user
	}
	if filter, err = filter.Normalize(); err != nil {
		h.logAndReply(r, "bad event filter", w, badRequest("%s", err))
		return
	}

	events, err := h.events.Events(r.Context(), filter)
	if err != nil {
		h.logAndReply(r, "failed to list events", w, err)
		return
	}
	if events == nil {
		events = []vault.Event{}
	}
	h.reply(w, r, EventList{Events: events})
}
