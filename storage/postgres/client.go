// Package postgres implements the event journal backed by PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // pgx5 driver for golang_migrate
	_ "github.com/golang-migrate/migrate/v4/source/file"     // support file scheme for golang_migrate
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"

	"github.com/oasisprotocol/yieldvault/log"
	"github.com/oasisprotocol/yieldvault/storage"
	"github.com/oasisprotocol/yieldvault/vault"
)

const (
	moduleName = "postgres"
)

// Client is a client for connecting to PostgreSQL.
type Client struct {
	pool   *pgxpool.Pool
	logger *log.Logger
}

var _ storage.EventStore = (*Client)(nil)

// pgxLogger is a pgx-compatible logger interface that uses the service's
// standard logger as the backend.
type pgxLogger struct {
	logger *log.Logger
}

// logFuncForLevel maps a pgx log severity level to a corresponding logger function.
func (l *pgxLogger) logFuncForLevel(level tracelog.LogLevel) func(string, ...interface{}) {
	switch level {
	case tracelog.LogLevelTrace, tracelog.LogLevelDebug:
		return l.logger.Debug
	case tracelog.LogLevelInfo:
		return l.logger.Info
	case tracelog.LogLevelWarn:
		return l.logger.Warn
	case tracelog.LogLevelError, tracelog.LogLevelNone:
		return l.logger.Error
	default:
		l.logger.Warn("Unknown log level", "unknown_level", level)
		return l.logger.Info
	}
}

// Log implements tracelog.Logger.
func (l *pgxLogger) Log(ctx context.Context, level tracelog.LogLevel, msg string, data map[string]interface{}) {
	args := []interface{}{}
	for k, v := range data {
		args = append(args, k, v)
	}

	logFunc := l.logFuncForLevel(level)
	logFunc(msg, args...)
}

// NewClient creates a new PostgreSQL client.
func NewClient(connString string, l *log.Logger) (*Client, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}

	// For a log line to be produced, it needs to be >= the level specified
	// here, and >= the level of the underlying logger. "Info" level logs
	// every SQL statement executed.
	config.ConnConfig.Tracer = &tracelog.TraceLog{
		LogLevel: tracelog.LogLevelWarn,
		Logger: &pgxLogger{
			logger: l.WithModule(moduleName).With("db", config.ConnConfig.Database),
		},
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, err
	}
	return &Client{
		pool:   pool,
		logger: l.WithModule(moduleName),
	}, nil
}

// RunMigrations brings the schema up to date using the migrations in dir.
func RunMigrations(connString, dir string, logger *log.Logger) error {
	m, err := migrate.New(
		fmt.Sprintf("file://%s", dir),
		migrationURL(connString),
	)
	if err != nil {
		return fmt.Errorf("migrator: %w", err)
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil || dbErr != nil {
			logger.Warn("failed to close migrator", "source_err", srcErr, "db_err", dbErr)
		}
	}()

	switch err := m.Up(); {
	case err == nil:
		logger.Info("migrations completed")
	case errors.Is(err, migrate.ErrNoChange):
		logger.Info("no migrations needed to be applied")
	default:
		return fmt.Errorf("migrations: %w", err)
	}
	return nil
}

// migrationURL rewrites a libpq connection URL to the pgx5 migrate driver scheme.
func migrationURL(connString string) string {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if rest, ok := strings.CutPrefix(connString, prefix); ok {
			return "pgx5://" + rest
		}
	}
	return connString
}

// SendBatch submits a batch of queries as an atomic transaction.
//
// The fast path pipelines the batch in a single roundtrip but reports errors
// poorly: pgx may blame the first query for a failure in any of them. On
// failure the transaction was rolled back, so the batch is resubmitted one
// query at a time for a precise error.
func (c *Client) SendBatch(ctx context.Context, batch *pgx.Batch) error {
	if err := c.sendBatchFast(ctx, batch); err == nil {
		return nil
	}
	return c.sendBatchSlow(ctx, batch)
}

func (c *Client) sendBatchFast(ctx context.Context, batch *pgx.Batch) error {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	results := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("query %d: %w", i, err)
		}
	}
	if err := results.Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (c *Client) sendBatchSlow(ctx context.Context, batch *pgx.Batch) error {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}

	for i, q := range batch.QueuedQueries {
		if _, err2 := tx.Exec(ctx, q.SQL, q.Arguments...); err2 != nil {
			rollbackErr := ""
			if err3 := tx.Rollback(ctx); err3 != nil {
				rollbackErr = fmt.Sprintf("; also failed to rollback tx: %s", err3.Error())
			}
			return fmt.Errorf("query %d %s: %w%s", i, q.SQL, err2, rollbackErr)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		c.logger.Error("failed to submit tx",
			"err", err,
			"queries", batch.Len(),
		)
		return err
	}
	return nil
}

// InsertEvents implements storage.EventStore.
func (c *Client) InsertEvents(ctx context.Context, events []vault.Event) error {
	batch := &pgx.Batch{}
	for i := range events {
		ev := &events[i]
		payload, err := storage.EncodeEvent(ev)
		if err != nil {
			return err
		}
		batch.Queue(`
			INSERT INTO events (id, type, ts, user_address, payload)
			VALUES ($1, $2, $3, $4, $5)`,
			ev.ID, string(ev.Type), ev.Timestamp, storage.UserColumn(ev), payload,
		)
	}
	return c.SendBatch(ctx, batch)
}

// Events implements storage.EventStore.
func (c *Client) Events(ctx context.Context, filter storage.EventFilter) ([]vault.Event, error) {
	filter, err := filter.Normalize()
	if err != nil {
		return nil, err
	}
	var user *string
	if filter.User != nil {
		s := filter.User.Hex()
		user = &s
	}

	rows, err := c.pool.Query(ctx, `
		SELECT payload
		FROM events
		WHERE ($1::text IS NULL OR user_address = $1::text)
			AND ($2::text = '' OR type = $2::text)
		ORDER BY seq
		LIMIT $3::bigint
		OFFSET $4::bigint`,
		user, string(filter.Type), filter.Limit, filter.Offset,
	)
	if err != nil {
		c.logger.Error("failed to query db", "err", err)
		return nil, err
	}
	defer rows.Close()

	events := []vault.Event{}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		ev, err := storage.DecodeEvent(payload)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Wipe removes all tables from the database.
func (c *Client) Wipe(ctx context.Context) error {
	rows, err := c.pool.Query(ctx, `
		SELECT schemaname, tablename
		FROM pg_tables
		WHERE schemaname != 'information_schema' AND schemaname NOT LIKE 'pg_%'
	`)
	if err != nil {
		return fmt.Errorf("list tables: %w", err)
	}
	tables := []string{}
	for rows.Next() {
		var schema, table string
		if err = rows.Scan(&schema, &table); err != nil {
			rows.Close()
			return err
		}
		tables = append(tables, pgx.Identifier{schema, table}.Sanitize())
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return err
	}

	for _, table := range tables {
		c.logger.Info("dropping table", "table", table)
		if _, err = c.pool.Exec(ctx, fmt.Sprintf("DROP TABLE %s CASCADE;", table)); err != nil {
			return err
		}
	}
	return nil
}

// Close implements storage.EventStore.
func (c *Client) Close() {
	c.pool.Close()
}

// Name implements storage.EventStore.
func (c *Client) Name() string {
	return moduleName
}
