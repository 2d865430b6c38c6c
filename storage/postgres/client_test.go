package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oasisprotocol/yieldvault/log"
	"github.com/oasisprotocol/yieldvault/storage/testutil"
)

func newClient(t *testing.T) *Client {
	if testing.Short() {
		t.Skip("skipping testing in short mode")
	}
	connString := os.Getenv("CI_TEST_CONN_STRING")
	if connString == "" {
		t.Skip("CI_TEST_CONN_STRING not set")
	}
	logger, err := log.NewLogger("postgres-test", os.Stdout, log.FmtJSON, log.LevelError)
	require.NoError(t, err)

	client, err := NewClient(connString, logger)
	require.NoError(t, err)
	t.Cleanup(client.Close)

	require.NoError(t, client.Wipe(context.Background()))
	require.NoError(t, RunMigrations(connString, "../migrations", logger))
	return client
}

func TestInvalidConnect(t *testing.T) {
	_, err := NewClient("an invalid connstring", log.NewNopLogger())
	require.Error(t, err)
}

func TestMigrationURL(t *testing.T) {
	require.Equal(t, "pgx5://u:p@localhost:5432/db", migrationURL("postgresql://u:p@localhost:5432/db"))
	require.Equal(t, "pgx5://localhost/db", migrationURL("postgres://localhost/db"))
	require.Equal(t, "host=localhost", migrationURL("host=localhost"))
}

func TestEventStore(t *testing.T) {
	client := newClient(t)
	testutil.TestEventStore(t, client)
}

func TestInsertIsAtomic(t *testing.T) {
	client := newClient(t)
	ctx := context.Background()

	events := testutil.Events()
	events[2].ID = events[1].ID // Violates the unique constraint.
	require.Error(t, client.InsertEvents(ctx, events))

	var count int
	require.NoError(t, client.pool.QueryRow(ctx, "SELECT COUNT(*) FROM events").Scan(&count))
	require.Zero(t, count)
}
