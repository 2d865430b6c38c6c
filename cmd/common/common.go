// Package common implements common yieldvault command options.
package common

import (
	"context"
	"errors"
	"fmt"
	"io"
	stdLog "log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/akrylysov/pogreb"

	"github.com/oasisprotocol/yieldvault/config"
	"github.com/oasisprotocol/yieldvault/log"
	"github.com/oasisprotocol/yieldvault/storage"
	"github.com/oasisprotocol/yieldvault/storage/memory"
	"github.com/oasisprotocol/yieldvault/storage/postgres"
	"github.com/oasisprotocol/yieldvault/storage/sqlite"
)

const shutdownTimeout = 5 * time.Second

var rootLogger = log.NewDefaultLogger("yieldvault")

// Init initializes the common environment.
func Init(cfg *config.Config) error {
	var w io.Writer = os.Stdout
	format := log.FmtJSON
	level := log.LevelDebug

	if cfg.Log != nil {
		var err error
		if w, err = getLoggingStream(cfg.Log); err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		if err := format.Set(cfg.Log.Format); err != nil {
			return err
		}
		if err := level.Set(cfg.Log.Level); err != nil {
			return err
		}
	}
	logger, err := log.NewLogger("yieldvault", w, format, level)
	if err != nil {
		return err
	}
	rootLogger = logger

	// Initialize pogreb logging. The checkpoint store logs through it.
	pogrebLogger := RootLogger().WithModule("pogreb").WithCallerUnwind(7)
	pogreb.SetLogger(stdLog.New(log.WriterIntoLogger(*pogrebLogger), "", 0))

	return nil
}

// RootLogger returns the logger defined by logging flags.
func RootLogger() *log.Logger {
	return rootLogger
}

func getLoggingStream(cfg *config.LogConfig) (io.Writer, error) {
	if cfg == nil || cfg.File == "" {
		return os.Stdout, nil
	}
	w, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// NewEventStore opens the event journal described by cfg. For postgres the
// schema is migrated, after wiping the database if so configured.
func NewEventStore(ctx context.Context, cfg *config.StorageConfig, logger *log.Logger) (storage.EventStore, error) {
	var backend config.StorageBackend
	if err := backend.Set(cfg.Backend); err != nil {
		return nil, err
	}

	switch backend {
	case config.BackendPostgres:
		client, err := postgres.NewClient(cfg.Endpoint, logger)
		if err != nil {
			return nil, err
		}
		if cfg.WipeStorage {
			logger.Warn("wiping storage", "endpoint", cfg.Endpoint)
			if err = client.Wipe(ctx); err != nil {
				client.Close()
				return nil, fmt.Errorf("wiping storage: %w", err)
			}
		}
		if err = postgres.RunMigrations(cfg.Endpoint, cfg.Migrations, logger); err != nil {
			client.Close()
			return nil, err
		}
		return client, nil
	case config.BackendSQLite:
		if cfg.WipeStorage {
			logger.Warn("wiping storage", "endpoint", cfg.Endpoint)
			if err := os.Remove(cfg.Endpoint); err != nil && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("wiping storage: %w", err)
			}
		}
		return sqlite.Open(cfg.Endpoint, logger)
	case config.BackendInMemory:
		return memory.NewStore(), nil
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}
}

// RunServer serves on server's address until ctx is done, then shuts the
// server down gracefully.
func RunServer(ctx context.Context, server *http.Server, logger *log.Logger) error {
	listener, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return err
	}
	return Serve(ctx, server, listener, logger)
}

// Serve is RunServer on an existing listener.
func Serve(ctx context.Context, server *http.Server, listener net.Listener, logger *log.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving", "endpoint", listener.Addr().String())
		errCh <- server.Serve(listener)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("server stopped", "endpoint", listener.Addr().String())
	return nil
}
