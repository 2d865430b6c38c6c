// Package config enables config file parsing.
package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/robfig/cron/v3"

	"github.com/oasisprotocol/yieldvault/common"
	"github.com/oasisprotocol/yieldvault/log"
)

const (
	// DefaultFeeBps is the protocol fee used when vault.fee_bps is not set.
	DefaultFeeBps uint64 = 100
	// DefaultAPRBps is the adapter APR estimate used when apr_bps is not set.
	DefaultAPRBps uint64 = 300

	maxBps uint64 = 10_000
)

// Config contains the CLI configuration.
type Config struct {
	Vault      *VaultConfig     `koanf:"vault"`
	Strategies []StrategyConfig `koanf:"strategies"`
	Sandbox    *SandboxConfig   `koanf:"sandbox"`
	Harvest    *HarvestConfig   `koanf:"harvest"`
	Server     *ServerConfig    `koanf:"server"`
	Log        *LogConfig       `koanf:"log"`
	Metrics    *MetricsConfig   `koanf:"metrics"`
}

// Validate performs config validation.
func (cfg *Config) Validate() error {
	if cfg.Vault != nil {
		if err := cfg.Vault.Validate(); err != nil {
			return fmt.Errorf("vault: %w", err)
		}
		if cfg.Sandbox == nil {
			return fmt.Errorf("vault: no sandbox config provided")
		}
	}
	if cfg.Sandbox != nil {
		if err := cfg.Sandbox.Validate(); err != nil {
			return fmt.Errorf("sandbox: %w", err)
		}
	}
	if err := validateStrategies(cfg.Strategies, cfg.Sandbox); err != nil {
		return fmt.Errorf("strategies: %w", err)
	}
	if cfg.Harvest != nil {
		if err := cfg.Harvest.Validate(); err != nil {
			return fmt.Errorf("harvest: %w", err)
		}
	}
	if cfg.Server != nil {
		if err := cfg.Server.Validate(); err != nil {
			return fmt.Errorf("server: %w", err)
		}
	}
	if cfg.Log != nil {
		if err := cfg.Log.Validate(); err != nil {
			return fmt.Errorf("log: %w", err)
		}
	}
	if cfg.Metrics != nil {
		if err := cfg.Metrics.Validate(); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}

	return nil
}

// VaultConfig identifies the vault. Addresses are hex or "label:<name>".
type VaultConfig struct {
	// Address is the vault's own identity on the ledger.
	Address string `koanf:"address"`

	// Asset is the token users deposit.
	Asset string `koanf:"asset"`

	// Admin is the administrator identity.
	Admin string `koanf:"admin"`

	// FeeBps is the protocol fee on realized yield. Defaults to DefaultFeeBps.
	FeeBps *uint64 `koanf:"fee_bps"`
}

// Validate validates the vault configuration.
func (cfg *VaultConfig) Validate() error {
	for name, v := range map[string]string{"address": cfg.Address, "asset": cfg.Asset, "admin": cfg.Admin} {
		if _, err := common.ResolveAddress(v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if cfg.FeeBps != nil && *cfg.FeeBps > maxBps {
		return fmt.Errorf("fee_bps %d exceeds %d", *cfg.FeeBps, maxBps)
	}
	return nil
}

// Fee returns the configured fee or the default.
func (cfg *VaultConfig) Fee() uint64 {
	if cfg.FeeBps == nil {
		return DefaultFeeBps
	}
	return *cfg.FeeBps
}

// StrategyKind names a strategy adapter implementation.
type StrategyKind string

const (
	StrategyLending StrategyKind = "lending"
	StrategyIdle    StrategyKind = "idle"
)

// StrategyConfig configures one strategy adapter.
type StrategyConfig struct {
	// Kind selects the adapter implementation.
	Kind StrategyKind `koanf:"kind"`

	// Address is the adapter's identity.
	Address string `koanf:"address"`

	// Pool names the sandbox pool a lending adapter lends to.
	Pool string `koanf:"pool"`

	// APRBps is the initial APR estimate of a lending adapter. Defaults to DefaultAPRBps.
	APRBps *uint64 `koanf:"apr_bps"`

	// Authorized adds the adapter to the authorized set at startup.
	Authorized bool `koanf:"authorized"`

	// Active switches to the adapter at startup. Implies Authorized.
	Active bool `koanf:"active"`
}

// APR returns the configured APR or the default.
func (cfg *StrategyConfig) APR() uint64 {
	if cfg.APRBps == nil {
		return DefaultAPRBps
	}
	return *cfg.APRBps
}

func validateStrategies(strategies []StrategyConfig, sandbox *SandboxConfig) error {
	seen := make(map[common.Address]bool)
	active := 0
	for i, s := range strategies {
		addr, err := common.ResolveAddress(s.Address)
		if err != nil {
			return fmt.Errorf("[%d]: %w", i, err)
		}
		if seen[addr] {
			return fmt.Errorf("[%d]: duplicate address %s", i, addr)
		}
		seen[addr] = true

		switch s.Kind {
		case StrategyLending:
			if sandbox == nil || sandbox.pool(s.Pool) == nil {
				return fmt.Errorf("[%d]: unknown pool '%s'", i, s.Pool)
			}
		case StrategyIdle:
		default:
			return fmt.Errorf("[%d]: unknown strategy kind '%s'", i, s.Kind)
		}
		if s.APRBps != nil && *s.APRBps > maxBps {
			return fmt.Errorf("[%d]: apr_bps %d exceeds %d", i, *s.APRBps, maxBps)
		}
		if s.Active {
			active++
		}
	}
	if active > 1 {
		return fmt.Errorf("%d strategies marked active, at most one allowed", active)
	}
	return nil
}

// SandboxConfig describes the in-process ledger and lending venues the
// vault runs against.
type SandboxConfig struct {
	Tokens   []TokenConfig   `koanf:"tokens"`
	Pools    []PoolConfig    `koanf:"pools"`
	Balances []BalanceConfig `koanf:"balances"`

	// Checkpoint enables persisting sandbox state across restarts.
	Checkpoint *CheckpointConfig `koanf:"checkpoint"`
}

// TokenConfig registers a token on the sandbox ledger.
type TokenConfig struct {
	Address  string `koanf:"address"`
	Symbol   string `koanf:"symbol"`
	Decimals uint8  `koanf:"decimals"`
}

// PoolConfig creates a lending pool, optionally with an incentives controller.
type PoolConfig struct {
	Name    string `koanf:"name"`
	Address string `koanf:"address"`
	Asset   string `koanf:"asset"`

	// RateBps is the simulated supply rate.
	RateBps uint64 `koanf:"rate_bps"`

	// RewardToken enables incentives paid in this token.
	RewardToken string `koanf:"reward_token"`

	// RewardRateBps of each receipt balance is credited per distribution.
	RewardRateBps uint64 `koanf:"reward_rate_bps"`
}

// BalanceConfig mints an initial balance.
type BalanceConfig struct {
	Owner  string `koanf:"owner"`
	Token  string `koanf:"token"`
	Amount string `koanf:"amount"`
}

// CheckpointConfig configures the checkpoint store.
type CheckpointConfig struct {
	// Path is the directory of the checkpoint key-value store.
	Path string `koanf:"path"`

	// Restore loads the latest checkpoint on startup, if there is one.
	Restore bool `koanf:"restore"`
}

func (cfg *SandboxConfig) pool(name string) *PoolConfig {
	for i := range cfg.Pools {
		if cfg.Pools[i].Name == name {
			return &cfg.Pools[i]
		}
	}
	return nil
}

// Validate validates the sandbox configuration.
func (cfg *SandboxConfig) Validate() error {
	tokens := make(map[common.Address]bool)
	for i, t := range cfg.Tokens {
		addr, err := common.ResolveAddress(t.Address)
		if err != nil {
			return fmt.Errorf("tokens[%d]: %w", i, err)
		}
		if tokens[addr] {
			return fmt.Errorf("tokens[%d]: duplicate token %s", i, addr)
		}
		tokens[addr] = true
	}
	knownToken := func(s string) error {
		addr, err := common.ResolveAddress(s)
		if err != nil {
			return err
		}
		if !tokens[addr] {
			return fmt.Errorf("unknown token %s", s)
		}
		return nil
	}

	names := make(map[string]bool)
	for i, p := range cfg.Pools {
		if p.Name == "" || names[p.Name] {
			return fmt.Errorf("pools[%d]: missing or duplicate name '%s'", i, p.Name)
		}
		names[p.Name] = true
		if _, err := common.ResolveAddress(p.Address); err != nil {
			return fmt.Errorf("pools[%d]: %w", i, err)
		}
		if err := knownToken(p.Asset); err != nil {
			return fmt.Errorf("pools[%d]: asset: %w", i, err)
		}
		if p.RewardToken != "" {
			if err := knownToken(p.RewardToken); err != nil {
				return fmt.Errorf("pools[%d]: reward_token: %w", i, err)
			}
		}
	}
	for i, b := range cfg.Balances {
		if _, err := common.ResolveAddress(b.Owner); err != nil {
			return fmt.Errorf("balances[%d]: %w", i, err)
		}
		if err := knownToken(b.Token); err != nil {
			return fmt.Errorf("balances[%d]: %w", i, err)
		}
		if _, err := common.ParseAmount(b.Amount); err != nil {
			return fmt.Errorf("balances[%d]: %w", i, err)
		}
	}
	if cfg.Checkpoint != nil && cfg.Checkpoint.Path == "" {
		return fmt.Errorf("checkpoint: no path provided")
	}
	return nil
}

// HarvestConfig schedules maintenance jobs. Each field is a cron spec
// (standard five fields or a descriptor like "@every 1m"); empty disables
// the job.
type HarvestConfig struct {
	ClaimRewards string `koanf:"claim_rewards"`
	Accrue       string `koanf:"accrue"`
	Distribute   string `koanf:"distribute"`
	Checkpoint   string `koanf:"checkpoint"`
	Gauges       string `koanf:"gauges"`
}

// Jobs returns the enabled jobs by name.
func (cfg *HarvestConfig) Jobs() map[string]string {
	jobs := make(map[string]string)
	for name, spec := range map[string]string{
		"claim_rewards": cfg.ClaimRewards,
		"accrue":        cfg.Accrue,
		"distribute":    cfg.Distribute,
		"checkpoint":    cfg.Checkpoint,
		"gauges":        cfg.Gauges,
	} {
		if spec != "" {
			jobs[name] = spec
		}
	}
	return jobs
}

// Validate validates the harvest configuration.
func (cfg *HarvestConfig) Validate() error {
	for name, spec := range cfg.Jobs() {
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// ServerConfig contains the API server configuration.
type ServerConfig struct {
	// Endpoint is the service endpoint from which to serve the API.
	Endpoint string `koanf:"endpoint"`

	// AllowedOrigins are the CORS origins allowed to call the API.
	AllowedOrigins []string `koanf:"allowed_origins"`

	Storage *StorageConfig `koanf:"storage"`
}

// Validate validates the server configuration.
func (cfg *ServerConfig) Validate() error {
	if cfg.Endpoint == "" {
		return fmt.Errorf("malformed server endpoint '%s'", cfg.Endpoint)
	}
	if cfg.Storage == nil {
		return fmt.Errorf("no storage config provided")
	}

	return cfg.Storage.Validate()
}

// StorageBackend is a storage backend.
type StorageBackend uint

const (
	// BackendPostgres is the PostgreSQL storage backend.
	BackendPostgres StorageBackend = iota
	// BackendSQLite is the SQLite storage backend.
	BackendSQLite
	// BackendInMemory is the in-memory storage backend.
	BackendInMemory
)

// String returns the string representation of a StorageBackend.
func (sb *StorageBackend) String() string {
	switch *sb {
	case BackendPostgres:
		return "postgres"
	case BackendSQLite:
		return "sqlite"
	case BackendInMemory:
		return "inmemory"
	default:
		panic("config: unsupported storage backend")
	}
}

// Set sets the StorageBackend to the value specified by the provided string.
func (sb *StorageBackend) Set(s string) error {
	switch strings.ToLower(s) {
	case "postgres":
		*sb = BackendPostgres
	case "sqlite":
		*sb = BackendSQLite
	case "inmemory":
		*sb = BackendInMemory
	default:
		return fmt.Errorf("config: invalid storage backend: '%s'", s)
	}

	return nil
}

// Type returns the list of supported StorageBackends.
func (sb *StorageBackend) Type() string {
	return "[postgres,sqlite,inmemory]"
}

// StorageConfig configures the event journal.
type StorageConfig struct {
	// Endpoint is the connection string (postgres) or database file (sqlite).
	Endpoint string `koanf:"endpoint"`

	// Backend is the storage backend to select.
	Backend string `koanf:"backend"`

	// Migrations is the directory containing schema migrations (postgres only).
	Migrations string `koanf:"migrations"`

	// If true, we'll first delete all tables in the DB.
	WipeStorage bool `koanf:"DANGER__WIPE_STORAGE_ON_STARTUP"`
}

// Validate validates the storage configuration.
func (cfg *StorageConfig) Validate() error {
	var sb StorageBackend
	if err := sb.Set(cfg.Backend); err != nil {
		return err
	}
	if sb == BackendInMemory {
		return nil
	}
	if cfg.Endpoint == "" {
		return fmt.Errorf("malformed storage endpoint '%s'", cfg.Endpoint)
	}
	if sb == BackendPostgres && cfg.Migrations == "" {
		return fmt.Errorf("invalid path to migrations '%s'", cfg.Migrations)
	}
	return nil
}

// LogConfig contains the logging configuration.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
	File   string `koanf:"file"`
}

// Validate validates the logging configuration.
func (cfg *LogConfig) Validate() error {
	var format log.Format
	if err := format.Set(cfg.Format); err != nil {
		return err
	}
	var level log.Level
	return level.Set(cfg.Level)
}

// MetricsConfig contains the metrics configuration.
type MetricsConfig struct {
	PullEndpoint string `koanf:"pull_endpoint"`

	// PprofEndpoint, if set, serves the runtime profiler.
	PprofEndpoint string `koanf:"pprof_endpoint"`
}

// Validate validates the metrics configuration.
func (cfg *MetricsConfig) Validate() error {
	if cfg.PullEndpoint == "" {
		return fmt.Errorf("malformed Prometheus pull endpoint '%s'", cfg.PullEndpoint)
	}
	return nil
}

// InitConfig initializes configuration from file.
func InitConfig(f string) (*Config, error) {
	return initConfig(file.Provider(f))
}

func initConfig(p koanf.Provider) (*Config, error) {
	var config Config
	k := koanf.New(".")

	// Load configuration from the yaml config.
	if err := k.Load(p, yaml.Parser()); err != nil {
		return nil, err
	}

	// Load environment variables and merge into the loaded config.
	if err := k.Load(env.Provider("", ".", func(s string) string {
		// `__` is used as a hierarchy delimiter.
		return strings.ReplaceAll(strings.ToLower(s), "__", ".")
	}), nil); err != nil {
		return nil, err
	}

	// Unmarshal into config.
	if err := k.Unmarshal("", &config); err != nil {
		return nil, err
	}

	// Validate config.
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}
