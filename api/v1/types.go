package v1

import (
	"time"

	"github.com/oasisprotocol/yieldvault/common"
	"github.com/oasisprotocol/yieldvault/vault"
)

// Token describes the vault asset.
type Token struct {
	Address  common.Address `json:"address"`
	Symbol   string         `json:"symbol,omitempty"`
	Decimals uint8          `json:"decimals"`
}

// Status is the vault-wide view.
type Status struct {
	Vault             common.Address  `json:"vault"`
	Asset             Token           `json:"asset"`
	Admin             common.Address  `json:"admin"`
	ActiveStrategy    *common.Address `json:"active_strategy"`
	TotalBalance      common.BigInt   `json:"total_balance"`
	TotalBalanceUnits string          `json:"total_balance_units"`
	TotalPrincipal    common.BigInt   `json:"total_principal"`
	TotalDeposited    common.BigInt   `json:"total_deposited_value"`
	AccumulatedFees   common.BigInt   `json:"accumulated_fees"`
	APRBps            uint64          `json:"apr_bps"`
	APRPercent        string          `json:"apr_percent"`
	FeeBps            uint64          `json:"fee_bps"`
	FeePercent        string          `json:"fee_percent"`
	Users             int             `json:"users"`
}

// Activation is one entry of the strategy history.
type Activation struct {
	Adapter     common.Address `json:"adapter"`
	ActivatedAt time.Time      `json:"activated_at"`
}

// AdapterInfo describes one registered adapter.
type AdapterInfo struct {
	Address        common.Address `json:"address"`
	Kind           string         `json:"kind"`
	Authorized     bool           `json:"authorized"`
	Active         bool           `json:"active"`
	Balance        *common.BigInt `json:"balance,omitempty"`
	APRBps         uint64         `json:"apr_bps"`
	APRPercent     string         `json:"apr_percent"`
	PendingRewards common.BigInt  `json:"pending_rewards"`
}

// Strategies is the strategy registry view.
type Strategies struct {
	Active     *common.Address  `json:"active"`
	Authorized []common.Address `json:"authorized"`
	History    []Activation     `json:"history"`
	Adapters   []AdapterInfo    `json:"adapters"`
}

// Account is the view of one user.
type Account struct {
	Address        common.Address `json:"address"`
	Principal      common.BigInt  `json:"principal"`
	DepositedValue common.BigInt  `json:"deposited_value"`
	LastClaimTime  *time.Time     `json:"last_claim_time,omitempty"`
	EstimatedYield common.BigInt  `json:"estimated_yield"`
	APRBps         uint64         `json:"apr_bps"`
	APRPercent     string         `json:"apr_percent"`
	WalletBalance  common.BigInt  `json:"wallet_balance"`
	Allowance      common.BigInt  `json:"allowance"`
}

// EventList is a page of journal events.
type EventList struct {
	Events []vault.Event `json:"events"`
}

// Amount is the result of an operation that moves value.
type Amount struct {
	Amount common.BigInt `json:"amount"`
}

// AmountRequest is the body of operations taking an amount.
type AmountRequest struct {
	Amount *common.BigInt `json:"amount"`
}

// StrategyRequest is the body of strategy registry operations.
type StrategyRequest struct {
	Strategy string `json:"strategy"`
}

// RewardTokenRequest is the body of reward token sweeps.
type RewardTokenRequest struct {
	Token  string         `json:"token"`
	To     string         `json:"to"`
	Amount *common.BigInt `json:"amount"`
}

// APRRequest sets the APR estimate of a strategy.
type APRRequest struct {
	Strategy string `json:"strategy"`
	APRBps   uint64 `json:"apr_bps"`
}

// FaucetRequest mints or approves asset for a user.
type FaucetRequest struct {
	User   string         `json:"user"`
	Amount *common.BigInt `json:"amount"`
}

// AccrueRequest injects interest into a venue pool.
type AccrueRequest struct {
	Pool   string         `json:"pool"`
	Amount *common.BigInt `json:"amount"`
}
