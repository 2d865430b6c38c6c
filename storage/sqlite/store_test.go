package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oasisprotocol/yieldvault/log"
	"github.com/oasisprotocol/yieldvault/storage"
	"github.com/oasisprotocol/yieldvault/storage/testutil"
)

func openStore(t *testing.T, path string) *Store {
	s, err := Open(path, log.NewNopLogger())
	require.NoError(t, err)
	return s
}

func TestEventStore(t *testing.T) {
	s := openStore(t, filepath.Join(t.TempDir(), "events.db"))
	defer s.Close()
	testutil.TestEventStore(t, s)
}

func TestReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "events.db")

	s := openStore(t, path)
	require.NoError(t, s.InsertEvents(ctx, testutil.Events()))
	s.Close()

	s = openStore(t, path)
	defer s.Close()
	got, err := s.Events(ctx, storage.EventFilter{})
	require.NoError(t, err)
	require.Len(t, got, len(testutil.Events()))
}

func TestInsertIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, filepath.Join(t.TempDir(), "events.db"))
	defer s.Close()

	events := testutil.Events()
	events[3].ID = events[0].ID
	require.Error(t, s.InsertEvents(ctx, events))

	got, err := s.Events(ctx, storage.EventFilter{})
	require.NoError(t, err)
	require.Empty(t, got)
}
