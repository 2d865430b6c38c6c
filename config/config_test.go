package config

import (
	"testing"

	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/stretchr/testify/require"
)

const exampleYAML = `
vault:
  address: label:vault
  asset: label:token/usdc
  admin: label:admin
  fee_bps: 100
strategies:
  - kind: lending
    address: label:strategy/aave
    pool: aave
    apr_bps: 300
    authorized: true
    active: true
  - kind: idle
    address: label:strategy/idle
    authorized: true
sandbox:
  tokens:
    - address: label:token/usdc
      symbol: USDC
      decimals: 6
    - address: label:token/reward
      symbol: RWD
      decimals: 18
  pools:
    - name: aave
      address: label:venue/aave
      asset: label:token/usdc
      rate_bps: 300
      reward_token: label:token/reward
      reward_rate_bps: 10
  balances:
    - owner: label:user/alice
      token: label:token/usdc
      amount: "1000000"
  checkpoint:
    path: /tmp/yieldvault
    restore: true
harvest:
  claim_rewards: "@every 1h"
  accrue: "*/5 * * * *"
server:
  endpoint: localhost:8008
  allowed_origins: ["*"]
  storage:
    backend: sqlite
    endpoint: /tmp/yieldvault/events.db
log:
  level: debug
  format: json
metrics:
  pull_endpoint: localhost:8009
`

func TestInitConfig(t *testing.T) {
	cfg, err := initConfig(rawbytes.Provider([]byte(exampleYAML)))
	require.NoError(t, err)

	require.Equal(t, uint64(100), cfg.Vault.Fee())
	require.Len(t, cfg.Strategies, 2)
	require.Equal(t, StrategyLending, cfg.Strategies[0].Kind)
	require.Equal(t, uint64(300), cfg.Strategies[0].APR())
	require.True(t, cfg.Strategies[0].Active)
	require.Equal(t, StrategyIdle, cfg.Strategies[1].Kind)
	require.Equal(t, "aave", cfg.Sandbox.pool("aave").Name)
	require.True(t, cfg.Sandbox.Checkpoint.Restore)
	require.Equal(t, map[string]string{"claim_rewards": "@every 1h", "accrue": "*/5 * * * *"}, cfg.Harvest.Jobs())
	require.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	require.Equal(t, "sqlite", cfg.Server.Storage.Backend)
}

func TestLocalConfig(t *testing.T) {
	cfg, err := InitConfig("local.yml")
	require.NoError(t, err)

	require.Len(t, cfg.Strategies, 3)
	require.Len(t, cfg.Sandbox.Pools, 2)
	require.Len(t, cfg.Harvest.Jobs(), 5)
	require.Equal(t, "localhost:8009", cfg.Metrics.PullEndpoint)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("SERVER__ENDPOINT", "0.0.0.0:9000")
	cfg, err := initConfig(rawbytes.Provider([]byte(exampleYAML)))
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:9000", cfg.Server.Endpoint)
}

func TestDefaults(t *testing.T) {
	v := VaultConfig{}
	require.Equal(t, DefaultFeeBps, v.Fee())
	s := StrategyConfig{}
	require.Equal(t, DefaultAPRBps, s.APR())
}

func TestInvalidConfigs(t *testing.T) {
	sandbox := func() *SandboxConfig {
		return &SandboxConfig{
			Tokens: []TokenConfig{{Address: "label:token/usdc"}},
			Pools:  []PoolConfig{{Name: "aave", Address: "label:venue/aave", Asset: "label:token/usdc"}},
		}
	}
	vault := func() *VaultConfig {
		return &VaultConfig{Address: "label:vault", Asset: "label:token/usdc", Admin: "label:admin"}
	}
	fee := uint64(10_001)

	for _, tc := range []struct {
		name string
		cfg  Config
		err  string
	}{
		{
			name: "bad vault address",
			cfg:  Config{Vault: &VaultConfig{Address: "nope", Asset: "label:a", Admin: "label:b"}, Sandbox: sandbox()},
			err:  "vault: address",
		},
		{
			name: "fee too large",
			cfg:  Config{Vault: &VaultConfig{Address: "label:vault", Asset: "label:token/usdc", Admin: "label:admin", FeeBps: &fee}, Sandbox: sandbox()},
			err:  "fee_bps",
		},
		{
			name: "vault without sandbox",
			cfg:  Config{Vault: vault()},
			err:  "no sandbox config",
		},
		{
			name: "unknown kind",
			cfg:  Config{Vault: vault(), Sandbox: sandbox(), Strategies: []StrategyConfig{{Kind: "curve", Address: "label:s"}}},
			err:  "unknown strategy kind",
		},
		{
			name: "unknown pool",
			cfg:  Config{Vault: vault(), Sandbox: sandbox(), Strategies: []StrategyConfig{{Kind: StrategyLending, Address: "label:s", Pool: "compound"}}},
			err:  "unknown pool",
		},
		{
			name: "duplicate strategy",
			cfg: Config{Vault: vault(), Sandbox: sandbox(), Strategies: []StrategyConfig{
				{Kind: StrategyIdle, Address: "label:s"},
				{Kind: StrategyIdle, Address: "label:s"},
			}},
			err: "duplicate address",
		},
		{
			name: "two active",
			cfg: Config{Vault: vault(), Sandbox: sandbox(), Strategies: []StrategyConfig{
				{Kind: StrategyIdle, Address: "label:s1", Active: true},
				{Kind: StrategyIdle, Address: "label:s2", Active: true},
			}},
			err: "at most one",
		},
		{
			name: "pool with unknown asset",
			cfg: Config{Sandbox: &SandboxConfig{
				Pools: []PoolConfig{{Name: "aave", Address: "label:venue/aave", Asset: "label:token/dai"}},
			}},
			err: "unknown token",
		},
		{
			name: "bad balance amount",
			cfg: Config{Sandbox: &SandboxConfig{
				Tokens:   []TokenConfig{{Address: "label:token/usdc"}},
				Balances: []BalanceConfig{{Owner: "label:alice", Token: "label:token/usdc", Amount: "-5"}},
			}},
			err: "negative amount",
		},
		{
			name: "bad cron spec",
			cfg:  Config{Harvest: &HarvestConfig{Accrue: "every minute"}},
			err:  "harvest: accrue",
		},
		{
			name: "postgres without migrations",
			cfg:  Config{Server: &ServerConfig{Endpoint: "localhost:8008", Storage: &StorageConfig{Backend: "postgres", Endpoint: "postgresql://localhost/db"}}},
			err:  "migrations",
		},
		{
			name: "unknown backend",
			cfg:  Config{Server: &ServerConfig{Endpoint: "localhost:8008", Storage: &StorageConfig{Backend: "mongo"}}},
			err:  "invalid storage backend",
		},
		{
			name: "bad log level",
			cfg:  Config{Log: &LogConfig{Level: "loud", Format: "json"}},
			err:  "log:",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.err)
		})
	}
}

func TestStorageBackend(t *testing.T) {
	var sb StorageBackend
	require.NoError(t, sb.Set("SQLite"))
	require.Equal(t, BackendSQLite, sb)
	require.Equal(t, "sqlite", sb.String())
	require.NoError(t, sb.Set("inmemory"))
	require.Equal(t, "inmemory", sb.String())
	require.Error(t, sb.Set("cockroach"))

	inmem := StorageConfig{Backend: "inmemory"}
	require.NoError(t, inmem.Validate())
}
