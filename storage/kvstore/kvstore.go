// Package kvstore implements the key-value store holding sandbox checkpoints.
package kvstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/akrylysov/pogreb"
	"github.com/fxamacker/cbor/v2"

	"github.com/oasisprotocol/yieldvault/log"
	"github.com/oasisprotocol/yieldvault/metrics"
)

const moduleName = "kvstore"

var (
	// ErrNotInitialized is returned while pogreb is still (re)indexing in the background.
	ErrNotInitialized = errors.New("kvstore: not initialized yet")
	// ErrNoSuchKey is returned by GetValue for absent keys.
	ErrNoSuchKey = errors.New("kvstore: no such key")
)

// openTimeout bounds how long OpenKVStore waits for pogreb before
// continuing with the store uninitialized.
var openTimeout = 30 * time.Second

// KVStore is a byte-oriented key-value store. PutValue and GetValue give it
// a typed interface.
type KVStore interface {
	Has(key []byte) (bool, error)
	Get(key []byte) ([]byte, error)
	Put(key []byte, value []byte) error
	Close() error
}

type pogrebKVStore struct {
	db *pogreb.DB

	path    string
	logger  *log.Logger
	metrics *metrics.StorageMetrics // if nil, no metrics are emitted

	// Set once the store is open. The store may be opened in a background goroutine.
	initialized atomic.Bool
}

var _ KVStore = (*pogrebKVStore)(nil)

// Get implements KVStore.
func (s *pogrebKVStore) Get(key []byte) ([]byte, error) {
	if !s.initialized.Load() {
		return nil, ErrNotInitialized
	}
	return s.db.Get(key)
}

// Has implements KVStore.
func (s *pogrebKVStore) Has(key []byte) (bool, error) {
	if !s.initialized.Load() {
		return false, ErrNotInitialized
	}
	return s.db.Has(key)
}

// Put implements KVStore.
func (s *pogrebKVStore) Put(key []byte, value []byte) error {
	if !s.initialized.Load() {
		return ErrNotInitialized
	}
	if err := s.db.Put(key, value); err != nil {
		return err
	}
	return s.db.Sync()
}

// Close implements KVStore.
func (s *pogrebKVStore) Close() error {
	if !s.initialized.Load() {
		// If pogreb is in the middle of recovery in the background, it will
		// die and have to start over next time.
		s.logger.Warn("skipping closing uninitialized KVStore")
		return nil
	}
	s.logger.Info("closing KVStore", "path", s.path)
	return s.db.Close()
}

func (s *pogrebKVStore) observe(operation string, err error) {
	if s.metrics == nil {
		return
	}
	status := "success"
	switch {
	case errors.Is(err, ErrNoSuchKey):
		status = "miss"
	case err != nil:
		status = "failure"
	}
	s.metrics.DatabaseOperations(moduleName, operation, status).Inc()
}

// Returns true if path exists. Uses simplified error handling
// to match pogreb's behavior.
func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Returns the files that match any of the patterns and none of the antipatterns.
func glob(patterns []string, antipatterns []string) ([]string, error) {
	files := map[string]struct{}{}
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, err
		}
		for _, match := range matches {
			files[match] = struct{}{}
		}
	}
	for _, antipattern := range antipatterns {
		matches, err := filepath.Glob(antipattern)
		if err != nil {
			return nil, err
		}
		for _, match := range matches {
			delete(files, match)
		}
	}
	filesArr := make([]string, 0, len(files))
	for k := range files {
		filesArr = append(filesArr, k)
	}
	return filesArr, nil
}

// Moves all files that match the src glob patterns to the destination directory.
// NOTE: If multiple source files have the same filename, one will clobber the others when moved!
func moveFiles(srcPatterns []string, srcAntipatterns []string, dst string) error {
	files, err := glob(srcPatterns, srcAntipatterns)
	if err != nil {
		return fmt.Errorf("unable to glob for files to move: %w", err)
	}
	if err := os.MkdirAll(dst, 0o700); err != nil {
		return fmt.Errorf("unable to create destination directory %s: %w", dst, err)
	}
	for _, srcFile := range files {
		dstFile := filepath.Join(dst, filepath.Base(srcFile))
		if err := os.Rename(srcFile, dstFile); err != nil {
			return fmt.Errorf("unable to move file %s to %s: %w", srcFile, dstFile, err)
		}
	}
	return nil
}

// Deletes all files that match the glob pattern.
func deleteFiles(pattern string) error {
	files, err := filepath.Glob(pattern)
	if err != nil {
		return fmt.Errorf("unable to glob for files %s to delete: %w", pattern, err)
	}
	var lastErr error
	for _, f := range files {
		if err := os.Remove(f); err != nil {
			lastErr = fmt.Errorf("unable to delete file %s: %w", f, err)
		}
	}
	return lastErr
}

// Pogreb backs up its indices into <oldname>.bac on every unclean open, and
// ".bac" becomes ".bac.bac" and so on. A crash-looping service ends up with
// filenames too long for the filesystem, so back up (or drop) stale indexes
// before opening.
func (s *pogrebKVStore) preBackup() {
	backupNeeded := pathExists(filepath.Join(s.path, "lock"))
	backupDir := filepath.Join(filepath.Dir(s.path), filepath.Base(s.path)+".backup")
	if backupNeeded {
		s.logger.Info("pogreb lock file found; preemptively backing up indexes", "path", s.path, "backup_path", backupDir)
		if !pathExists(backupDir) { // If an older backup exists, keep that one.
			err := moveFiles(
				[]string{filepath.Join(s.path, "*")},
				[]string{
					filepath.Join(s.path, "*.psg"), // the data that needs to be reindexed
					filepath.Join(s.path, "lock"),  // will trigger a reindex
				},
				backupDir,
			)
			if err != nil {
				s.logger.Warn("failed to move pogreb index files to backup directory", "err", err, "path", s.path, "backup_path", backupDir)
			}
		}
	}
	if err := deleteFiles(filepath.Join(s.path, "*.bac.bac")); err != nil {
		s.logger.Warn("failed to delete excessively backed-up pogreb index files", "err", err)
	}
}

func (s *pogrebKVStore) init() error {
	s.preBackup()

	s.logger.Info("(re)opening KVStore", "path", s.path)
	db, err := pogreb.Open(s.path, &pogreb.Options{BackgroundSyncInterval: -1})
	if err != nil {
		s.logger.Error("failed to initialize pogreb store", "err", err)
		return err
	}

	s.db = db
	s.initialized.Store(true)
	s.logger.Info("KVStore opened", "entries", db.Count())
	return nil
}

// OpenKVStore opens the store at path, creating it if needed. A nil
// metrics disables instrumentation.
//
// Pogreb may do a full reindex after a crash. If opening takes longer than
// openTimeout the store is returned uninitialized and becomes usable once
// the reindex finishes; until then every access fails with ErrNotInitialized.
func OpenKVStore(logger *log.Logger, path string, metrics *metrics.StorageMetrics) (KVStore, error) {
	store := &pogrebKVStore{
		logger:  logger.WithModule(moduleName),
		path:    path,
		metrics: metrics,
	}

	initErrCh := make(chan error, 1)
	go func() {
		initErrCh <- store.init()
	}()

	select {
	case err := <-initErrCh:
		if err != nil {
			return nil, err
		}
		return store, nil
	case <-time.After(openTimeout):
		store.logger.Warn("KVStore initialization timed out, continuing while the database is reindexing in the background")
		return store, nil
	}
}

// PutValue CBOR-encodes value and stores it under key.
func PutValue[Value any](store KVStore, key string, value *Value) error {
	raw, err := cbor.Marshal(value)
	if err != nil {
		return fmt.Errorf("kvstore: marshal %s: %w", key, err)
	}
	err = store.Put([]byte(key), raw)
	if s, ok := store.(*pogrebKVStore); ok {
		s.observe("put", err)
	}
	return err
}

// GetValue fetches key and decodes it into value. Returns ErrNoSuchKey if
// the key is absent.
func GetValue[Value any](store KVStore, key string, value *Value) error {
	err := getValue(store, key, value)
	if s, ok := store.(*pogrebKVStore); ok {
		s.observe("get", err)
	}
	return err
}

func getValue[Value any](store KVStore, key string, value *Value) error {
	has, err := store.Has([]byte(key))
	if err != nil {
		return err
	}
	if !has {
		return ErrNoSuchKey
	}
	raw, err := store.Get([]byte(key))
	if err != nil {
		return fmt.Errorf("kvstore: get %s: %w", key, err)
	}
	if err = cbor.Unmarshal(raw, value); err != nil {
		return fmt.Errorf("kvstore: unmarshal %s into %T: %w", key, value, err)
	}
	return nil
}
