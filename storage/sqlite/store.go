// Package sqlite implements the event journal backed by a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // sqlite driver for database/sql

	"github.com/oasisprotocol/yieldvault/log"
	"github.com/oasisprotocol/yieldvault/storage"
	"github.com/oasisprotocol/yieldvault/vault"
)

const moduleName = "sqlite"

// Store journals events in a SQLite database.
type Store struct {
	db     *sql.DB
	logger *log.Logger
}

var _ storage.EventStore = (*Store)(nil)

// Open opens (or creates) the database at path and bootstraps the schema.
func Open(path string, logger *log.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	// WAL lets API reads proceed while the engine journals.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &Store{db: db, logger: logger.WithModule(moduleName)}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	s.logger.Info("sqlite journal opened", "path", path)
	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			seq          INTEGER PRIMARY KEY AUTOINCREMENT,
			id           TEXT NOT NULL UNIQUE,
			type         TEXT NOT NULL,
			ts           INTEGER NOT NULL,
			user_address TEXT,
			payload      BLOB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS ix_events_user ON events(user_address, seq)`,
		`CREATE INDEX IF NOT EXISTS ix_events_type ON events(type, seq)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// InsertEvents implements storage.EventStore.
func (s *Store) InsertEvents(ctx context.Context, events []vault.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (id, type, ts, user_address, payload)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range events {
		ev := &events[i]
		payload, err := storage.EncodeEvent(ev)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, ev.ID.String(), string(ev.Type), ev.Timestamp.UnixNano(), storage.UserColumn(ev), payload); err != nil {
			return fmt.Errorf("event %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// Events implements storage.EventStore.
func (s *Store) Events(ctx context.Context, filter storage.EventFilter) ([]vault.Event, error) {
	filter, err := filter.Normalize()
	if err != nil {
		return nil, err
	}
	var user *string
	if filter.User != nil {
		u := filter.User.Hex()
		user = &u
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT payload
		FROM events
		WHERE (?1 IS NULL OR user_address = ?1)
			AND (?2 = '' OR type = ?2)
		ORDER BY seq
		LIMIT ?3 OFFSET ?4`,
		user, string(filter.Type), int64(filter.Limit), int64(filter.Offset),
	)
	if err != nil {
		s.logger.Error("failed to query db", "err", err)
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

// Close implements storage.EventStore.
func (s *Store) Close() {
	if err := s.db.Close(); err != nil {
		s.logger.Warn("failed to close sqlite journal", "err", err)
	}
}

// Name implements storage.EventStore.
func (s *Store) Name() string {
	return moduleName
}
