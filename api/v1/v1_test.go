package v1

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/oasisprotocol/yieldvault/common"
	"github.com/oasisprotocol/yieldvault/config"
	"github.com/oasisprotocol/yieldvault/log"
	"github.com/oasisprotocol/yieldvault/sandbox"
	"github.com/oasisprotocol/yieldvault/storage"
	"github.com/oasisprotocol/yieldvault/storage/memory"
	"github.com/oasisprotocol/yieldvault/vault"
)

var (
	admin = common.DeriveAddress("admin")
	alice = common.DeriveAddress("user/alice")
	aave  = common.DeriveAddress("strategy/aave")
	idle  = common.DeriveAddress("strategy/idle")
)

func testConfig() *config.Config {
	apr := uint64(450)
	return &config.Config{
		Vault: &config.VaultConfig{Address: "label:vault", Asset: "label:token/usdc", Admin: "label:admin"},
		Strategies: []config.StrategyConfig{
			{Kind: config.StrategyLending, Address: "label:strategy/aave", Pool: "aave", APRBps: &apr, Active: true},
			{Kind: config.StrategyIdle, Address: "label:strategy/idle", Authorized: true},
		},
		Sandbox: &config.SandboxConfig{
			Tokens: []config.TokenConfig{
				{Address: "label:token/usdc", Symbol: "USDC", Decimals: 6},
			},
			Pools: []config.PoolConfig{
				{Name: "aave", Address: "label:venue/aave", Asset: "label:token/usdc", RateBps: 1000},
			},
			Balances: []config.BalanceConfig{
				{Owner: "label:user/alice", Token: "label:token/usdc", Amount: "50000"},
			},
		},
	}
}

type testAPI struct {
	t      *testing.T
	router *chi.Mux
	world  *sandbox.World
}

func newTestAPI(t *testing.T) *testAPI {
	cfg := testConfig()
	require.NoError(t, cfg.Validate())

	sink := storage.NewEventSink(memory.NewStore(), log.NewNopLogger())
	genesis := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	w, err := sandbox.Build(cfg, log.NewNopLogger(), func() time.Time { return genesis }, vault.WithEventSink(sink))
	require.NoError(t, err)
	require.NoError(t, w.Bootstrap(t.Context()))

	r := chi.NewRouter()
	NewSandboxHandler(w, sink, log.NewNopLogger()).RegisterRoutes(r)
	return &testAPI{t: t, router: r, world: w}
}

// do sends a request and decodes a JSON reply into out, if given.
func (a *testAPI) do(method, path string, caller *common.Address, body interface{}, out interface{}) int {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if caller != nil {
		req.Header.Set(CallerHeader, caller.Hex())
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	if out != nil {
		require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

func (a *testAPI) errorOf(method, path string, caller *common.Address, body interface{}) (int, string) {
	var e struct {
		Error string `json:"error"`
	}
	code := a.do(method, path, caller, body, &e)
	return code, e.Error
}

func amount(v int64) *common.BigInt {
	b := common.NewBigInt(v)
	return &b
}

func accountPath(user common.Address, op string) string {
	p := "/v1/accounts/" + user.Hex()
	if op != "" {
		p += "/" + op
	}
	return p
}

func TestStatus(t *testing.T) {
	a := newTestAPI(t)

	var status Status
	require.Equal(t, http.StatusOK, a.do("GET", "/v1/status", nil, nil, &status))
	require.Equal(t, a.world.Engine.Address(), status.Vault)
	require.Equal(t, "USDC", status.Asset.Symbol)
	require.Equal(t, uint8(6), status.Asset.Decimals)
	require.Equal(t, admin, status.Admin)
	require.NotNil(t, status.ActiveStrategy)
	require.Equal(t, aave, *status.ActiveStrategy)
	require.Equal(t, uint64(450), status.APRBps)
	require.Equal(t, "4.50", status.APRPercent)
	require.Equal(t, uint64(100), status.FeeBps)
	require.Equal(t, "1.00", status.FeePercent)
	require.Equal(t, "0", status.TotalBalance.String())
	require.Equal(t, 0, status.Users)
}

func TestUserLifecycle(t *testing.T) {
	a := newTestAPI(t)

	// The vault may not pull funds before the user approves it.
	code, msg := a.errorOf("POST", accountPath(alice, "deposit"), nil, AmountRequest{Amount: amount(20_000)})
	require.Equal(t, http.StatusBadRequest, code, msg)

	var out Amount
	require.Equal(t, http.StatusOK, a.do("POST", "/v1/sandbox/approve", nil, FaucetRequest{User: alice.Hex(), Amount: amount(20_000)}, &out))
	require.Equal(t, http.StatusOK, a.do("POST", accountPath(alice, "deposit"), nil, AmountRequest{Amount: amount(20_000)}, &out))
	require.Equal(t, "20000", out.Amount.String())

	require.Equal(t, http.StatusOK, a.do("POST", "/v1/sandbox/accrue", nil, AccrueRequest{Pool: "aave", Amount: amount(1_000)}, &out))

	var acc Account
	require.Equal(t, http.StatusOK, a.do("GET", accountPath(alice, ""), nil, nil, &acc))
	require.Equal(t, "20000", acc.Principal.String())
	require.Equal(t, "1000", acc.EstimatedYield.String())
	require.Equal(t, "30000", acc.WalletBalance.String())
	require.Equal(t, "0", acc.Allowance.String())
	require.NotNil(t, acc.LastClaimTime)

	require.Equal(t, http.StatusOK, a.do("POST", accountPath(alice, "claim"), nil, nil, &out))
	require.Equal(t, "990", out.Amount.String())

	var status Status
	require.Equal(t, http.StatusOK, a.do("GET", "/v1/status", nil, nil, &status))
	require.Equal(t, "10", status.AccumulatedFees.String())
	require.Equal(t, "20000", status.TotalBalance.String())
	require.Equal(t, "0.020000", status.TotalBalanceUnits)
	require.Equal(t, 1, status.Users)

	require.Equal(t, http.StatusOK, a.do("POST", accountPath(alice, "withdraw"), nil, AmountRequest{Amount: amount(5_000)}, &out))
	require.Equal(t, "5000", out.Amount.String())
	require.Equal(t, http.StatusOK, a.do("POST", accountPath(alice, "withdraw_all"), nil, nil, &out))
	require.Equal(t, "15000", out.Amount.String())

	code, _ = a.errorOf("POST", accountPath(alice, "withdraw"), nil, AmountRequest{Amount: amount(1)})
	require.Equal(t, http.StatusBadRequest, code)

	bal, err := a.world.Ledger.BalanceOf(t.Context(), a.world.Engine.Asset(), alice)
	require.NoError(t, err)
	require.Equal(t, int64(50_990), bal.Int64())
}

func TestBadRequests(t *testing.T) {
	a := newTestAPI(t)

	for _, tc := range []struct {
		name   string
		method string
		path   string
		body   interface{}
		code   int
	}{
		{"bad address", "GET", "/v1/accounts/0x1234", nil, http.StatusBadRequest},
		{"missing amount", "POST", accountPath(alice, "deposit"), map[string]string{}, http.StatusBadRequest},
		{"negative amount", "POST", accountPath(alice, "deposit"), AmountRequest{Amount: amount(-5)}, http.StatusBadRequest},
		{"zero amount", "POST", accountPath(alice, "deposit"), AmountRequest{Amount: amount(0)}, http.StatusBadRequest},
		{"unknown field", "POST", accountPath(alice, "deposit"), map[string]string{"amount": "1", "memo": "x"}, http.StatusBadRequest},
		{"unknown pool", "POST", "/v1/sandbox/accrue", AccrueRequest{Pool: "compound", Amount: amount(1)}, http.StatusNotFound},
		{"bad limit", "GET", "/v1/events?limit=many", nil, http.StatusBadRequest},
		{"bad type", "GET", "/v1/events?type=Minted", nil, http.StatusBadRequest},
		{"bad user", "GET", "/v1/events?user=bob", nil, http.StatusBadRequest},
	} {
		t.Run(tc.name, func(t *testing.T) {
			code, msg := a.errorOf(tc.method, tc.path, nil, tc.body)
			require.Equal(t, tc.code, code)
			require.NotEmpty(t, msg)
		})
	}
}

func TestAdminOperations(t *testing.T) {
	a := newTestAPI(t)
	user := alice

	// The caller header is required and checked.
	code, _ := a.errorOf("POST", "/v1/admin/switch", nil, StrategyRequest{Strategy: idle.Hex()})
	require.Equal(t, http.StatusBadRequest, code)
	code, _ = a.errorOf("POST", "/v1/admin/switch", &user, StrategyRequest{Strategy: idle.Hex()})
	require.Equal(t, http.StatusForbidden, code)

	unregistered := common.DeriveAddress("strategy/unregistered")
	require.Equal(t, http.StatusOK, a.do("POST", "/v1/admin/authorize", &admin, StrategyRequest{Strategy: unregistered.Hex()}, nil))
	require.Equal(t, http.StatusOK, a.do("POST", "/v1/admin/revoke", &admin, StrategyRequest{Strategy: unregistered.Hex()}, nil))
	code, _ = a.errorOf("POST", "/v1/admin/authorize", &admin, StrategyRequest{Strategy: common.ZeroAddress.Hex()})
	require.Equal(t, http.StatusBadRequest, code)

	// Labels are accepted in bodies.
	require.Equal(t, http.StatusOK, a.do("POST", "/v1/admin/switch", &admin, StrategyRequest{Strategy: "label:strategy/idle"}, nil))

	var strategies Strategies
	require.Equal(t, http.StatusOK, a.do("GET", "/v1/strategies", nil, nil, &strategies))
	require.NotNil(t, strategies.Active)
	require.Equal(t, idle, *strategies.Active)
	require.ElementsMatch(t, []common.Address{aave, idle}, strategies.Authorized)
	require.Len(t, strategies.History, 2)
	require.Equal(t, aave, strategies.History[0].Adapter)
	require.Len(t, strategies.Adapters, 2)
	for _, info := range strategies.Adapters {
		require.Equal(t, info.Address == idle, info.Active)
		require.NotNil(t, info.Balance)
	}

	var out Amount
	require.Equal(t, http.StatusOK, a.do("POST", "/v1/admin/withdraw_fees", &admin, nil, &out))
	require.Equal(t, "0", out.Amount.String())
	require.Equal(t, http.StatusOK, a.do("POST", "/v1/admin/claim_rewards", &admin, nil, &out))
	require.Equal(t, "0", out.Amount.String())
	require.Equal(t, http.StatusOK, a.do("POST", "/v1/admin/emergency_withdraw", &admin, nil, &out))
	require.Equal(t, "0", out.Amount.String())

	code, _ = a.errorOf("POST", "/v1/admin/withdraw_reward_token", &admin, RewardTokenRequest{
		Token:  a.world.Engine.Asset().Hex(),
		To:     admin.Hex(),
		Amount: amount(1),
	})
	require.Equal(t, http.StatusBadRequest, code)
}

func TestUpdateAPR(t *testing.T) {
	a := newTestAPI(t)
	user := alice

	code, _ := a.errorOf("POST", "/v1/admin/apr", &user, APRRequest{Strategy: aave.Hex(), APRBps: 600})
	require.Equal(t, http.StatusForbidden, code)
	code, _ = a.errorOf("POST", "/v1/admin/apr", &admin, APRRequest{Strategy: idle.Hex(), APRBps: 600})
	require.Equal(t, http.StatusBadRequest, code)
	code, _ = a.errorOf("POST", "/v1/admin/apr", &admin, APRRequest{Strategy: "label:strategy/nowhere", APRBps: 600})
	require.Equal(t, http.StatusBadRequest, code)

	require.Equal(t, http.StatusOK, a.do("POST", "/v1/admin/apr", &admin, APRRequest{Strategy: aave.Hex(), APRBps: 600}, nil))
	require.Equal(t, uint64(600), a.world.Engine.GetCurrentAPR(t.Context()))

	// Without a deposit the user APR is the strategy APR net of the fee.
	var acc Account
	require.Equal(t, http.StatusOK, a.do("GET", accountPath(alice, ""), nil, nil, &acc))
	require.Equal(t, uint64(594), acc.APRBps)
	require.Equal(t, "5.94", acc.APRPercent)
	require.Nil(t, acc.LastClaimTime)
}

func TestEvents(t *testing.T) {
	a := newTestAPI(t)

	var out Amount
	require.Equal(t, http.StatusOK, a.do("POST", "/v1/sandbox/faucet", nil, FaucetRequest{User: "label:user/bob", Amount: amount(700)}, &out))
	bob := common.DeriveAddress("user/bob")
	for _, user := range []common.Address{alice, bob} {
		require.Equal(t, http.StatusOK, a.do("POST", "/v1/sandbox/approve", nil, FaucetRequest{User: user.Hex(), Amount: amount(500)}, nil))
		require.Equal(t, http.StatusOK, a.do("POST", accountPath(user, "deposit"), nil, AmountRequest{Amount: amount(500)}, nil))
	}

	var list EventList
	require.Equal(t, http.StatusOK, a.do("GET", "/v1/events", nil, nil, &list))
	// Bootstrap authorized two strategies and activated one.
	require.Len(t, list.Events, 5)

	require.Equal(t, http.StatusOK, a.do("GET", "/v1/events?type=Deposited", nil, nil, &list))
	require.Len(t, list.Events, 2)

	require.Equal(t, http.StatusOK, a.do("GET", "/v1/events?user="+bob.Hex(), nil, nil, &list))
	require.Len(t, list.Events, 1)
	require.Equal(t, vault.EventDeposited, list.Events[0].Type)
	require.Equal(t, "500", list.Events[0].Amount.String())

	require.Equal(t, http.StatusOK, a.do("GET", "/v1/events?limit=2&offset=4", nil, nil, &list))
	require.Len(t, list.Events, 1)
}

func TestSandboxRoutesNeedWorld(t *testing.T) {
	a := newTestAPI(t)

	r := chi.NewRouter()
	NewHandler(a.world.Engine, a.world.Ledger, nil, log.NewNopLogger()).RegisterRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/sandbox/faucet", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	// Without a journal the events endpoint does not exist either.
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/events", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFormatting(t *testing.T) {
	require.Equal(t, "0.00", percent(0))
	require.Equal(t, "4.50", percent(450))
	require.Equal(t, "100.00", percent(10_000))

	require.Equal(t, "1.234567", units(big.NewInt(1_234_567), 6))
	require.Equal(t, "0.000005", units(big.NewInt(5), 6))
	require.Equal(t, "42", units(big.NewInt(42), 0))
	require.Equal(t, "0", units(nil, 0))
}
