// Package api implements the serve sub-command.
package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/oasisprotocol/yieldvault/api"
	v1 "github.com/oasisprotocol/yieldvault/api/v1"
	"github.com/oasisprotocol/yieldvault/cmd/common"
	vcommon "github.com/oasisprotocol/yieldvault/common"
	"github.com/oasisprotocol/yieldvault/config"
	"github.com/oasisprotocol/yieldvault/harvest"
	"github.com/oasisprotocol/yieldvault/log"
	"github.com/oasisprotocol/yieldvault/metrics"
	"github.com/oasisprotocol/yieldvault/sandbox"
	"github.com/oasisprotocol/yieldvault/storage"
	"github.com/oasisprotocol/yieldvault/storage/kvstore"
	"github.com/oasisprotocol/yieldvault/vault"
)

const (
	moduleName = "serve"
)

var (
	// Path to the configuration file.
	configFile string

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the vault API over a sandbox deployment",
		Run:   runServer,
	}
)

func runServer(cmd *cobra.Command, args []string) {
	// Initialize config.
	cfg, err := config.InitConfig(configFile)
	if err != nil {
		log.NewDefaultLogger("init").Error("init failed",
			"error", err,
		)
		os.Exit(1)
	}

	// Initialize common environment.
	if err = common.Init(cfg); err != nil {
		log.NewDefaultLogger("init").Error("init failed",
			"error", err,
		)
		os.Exit(1)
	}
	logger := common.RootLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	service, err := NewService(ctx, cfg)
	if err != nil {
		logger.Error("service failed to start",
			"error", err,
		)
		os.Exit(1)
	}

	err = service.Run(ctx)
	service.Shutdown()
	if err != nil {
		logger.Error("service stopped", "error", err)
		os.Exit(1)
	}
}

// Service runs the vault API, its maintenance jobs and instrumentation.
type Service struct {
	endpoint      string
	pprofEndpoint string

	world       *sandbox.World
	api         *api.VaultAPI
	events      storage.EventStore
	checkpoints kvstore.KVStore
	harvest     *harvest.Service
	metrics     *metrics.PullService
	logger      *log.Logger

	// Set once the world is bootstrapped or restored, so a failed start
	// never overwrites the last good checkpoint.
	ready bool
}

// NewService builds the sandbox world described by cfg and every service
// around it. The world is restored from the latest checkpoint if configured
// and one exists, and bootstrapped from cfg otherwise.
func NewService(ctx context.Context, cfg *config.Config) (*Service, error) {
	if cfg.Vault == nil || cfg.Sandbox == nil {
		return nil, fmt.Errorf("vault and sandbox config required")
	}
	if cfg.Server == nil {
		return nil, fmt.Errorf("server config required")
	}
	logger := common.RootLogger().WithModule(moduleName)

	events, err := common.NewEventStore(ctx, cfg.Server.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("opening event store: %w", err)
	}
	s := &Service{
		endpoint: cfg.Server.Endpoint,
		events:   events,
		logger:   logger,
	}
	if err = s.init(ctx, cfg); err != nil {
		s.Shutdown()
		return nil, err
	}
	return s, nil
}

func (s *Service) init(ctx context.Context, cfg *config.Config) error {
	vaultAddr, err := vcommon.ResolveAddress(cfg.Vault.Address)
	if err != nil {
		return err
	}
	vaultMetrics := metrics.NewDefaultVaultMetrics("yieldvault", vaultAddr.Hex())
	sink := storage.NewEventSink(s.events, s.logger)

	s.world, err = sandbox.Build(cfg, s.logger, nil,
		vault.WithEventSink(sink),
		vault.WithMetrics(vaultMetrics),
	)
	if err != nil {
		return err
	}

	restored := false
	if cp := cfg.Sandbox.Checkpoint; cp != nil {
		storageMetrics := metrics.NewDefaultStorageMetrics("yieldvault")
		if s.checkpoints, err = kvstore.OpenKVStore(s.logger, cp.Path, &storageMetrics); err != nil {
			return fmt.Errorf("opening checkpoint store: %w", err)
		}
		if cp.Restore {
			if restored, err = s.world.Restore(ctx, s.checkpoints); err != nil {
				return err
			}
		}
	}
	if !restored {
		if err = s.world.Bootstrap(ctx); err != nil {
			return fmt.Errorf("bootstrapping sandbox: %w", err)
		}
	}

	var specs map[string]string
	if cfg.Harvest != nil {
		specs = cfg.Harvest.Jobs()
	}
	s.harvest, err = harvest.NewService(specs, harvest.Jobs(s.world, s.checkpoints, s.logger), vaultMetrics, s.logger)
	if err != nil {
		return err
	}

	s.api = api.NewVaultAPI(v1.NewSandboxHandler(s.world, sink, s.logger), cfg.Server.AllowedOrigins, s.logger)

	if cfg.Metrics != nil {
		if s.metrics, err = metrics.NewPullService(cfg.Metrics.PullEndpoint, s.logger); err != nil {
			return err
		}
		s.pprofEndpoint = cfg.Metrics.PprofEndpoint
	}
	s.ready = true
	return nil
}

// Handler returns the API handler.
func (s *Service) Handler() http.Handler {
	return s.api.Router()
}

// World returns the served sandbox world.
func (s *Service) World() *sandbox.World {
	return s.world
}

// Run runs every service until ctx is done or one of them fails.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	server := &http.Server{
		Addr:           s.endpoint,
		Handler:        s.api.Router(),
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	g.Go(func() error {
		return common.RunServer(ctx, server, s.logger)
	})
	g.Go(func() error {
		return s.harvest.Run(ctx)
	})
	if s.metrics != nil {
		g.Go(func() error {
			return s.metrics.Run(ctx)
		})
	}
	if s.pprofEndpoint != "" {
		g.Go(func() error {
			return common.RunPprof(ctx, s.pprofEndpoint)
		})
	}

	s.logger.Info("started all services", "endpoint", s.endpoint)
	return g.Wait()
}

// Shutdown writes a final checkpoint, if configured, and releases storage.
func (s *Service) Shutdown() {
	if s.checkpoints != nil {
		if s.ready {
			if err := s.world.Checkpoint(context.Background(), s.checkpoints); err != nil {
				s.logger.Error("final checkpoint failed", "err", err)
			}
		}
		s.checkpoints.Close()
		s.checkpoints = nil
	}
	if s.events != nil {
		s.events.Close()
		s.events = nil
	}
}

// Register registers the serve sub-command.
func Register(parentCmd *cobra.Command) {
	serveCmd.Flags().StringVar(&configFile, "config", "./config/local.yml", "path to the config.yml file")
	parentCmd.AddCommand(serveCmd)
}
