// Package testutil holds conformance tests shared by the event journal backends.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/oasisprotocol/yieldvault/common"
	"github.com/oasisprotocol/yieldvault/storage"
	"github.com/oasisprotocol/yieldvault/vault"
)

var (
	Alice = common.DeriveAddress("user/alice")
	Bob   = common.DeriveAddress("user/bob")
)

// Events returns a deterministic mix of events of several types and users.
func Events() []vault.Event {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	alice, bob := Alice, Bob
	adapter := common.DeriveAddress("strategy/lending")
	amt := func(v int64) *common.BigInt {
		b := common.NewBigInt(v)
		return &b
	}
	authorized := true
	return []vault.Event{
		{ID: uuid.New(), Type: vault.EventStrategyAuthorized, Timestamp: ts, Adapter: &adapter, Authorized: &authorized},
		{ID: uuid.New(), Type: vault.EventDeposited, Timestamp: ts.Add(time.Minute), User: &alice, Amount: amt(10_000)},
		{ID: uuid.New(), Type: vault.EventDeposited, Timestamp: ts.Add(2 * time.Minute), User: &bob, Amount: amt(20_000)},
		{ID: uuid.New(), Type: vault.EventYieldClaimed, Timestamp: ts.Add(3 * time.Minute), User: &alice, Yield: amt(99)},
		{ID: uuid.New(), Type: vault.EventWithdrawn, Timestamp: ts.Add(4 * time.Minute), User: &alice, Amount: amt(10_000)},
	}
}

// TestEventStore runs the journal conformance tests against a fresh store.
func TestEventStore(t *testing.T, store storage.EventStore) {
	ctx := context.Background()
	events := Events()
	require.NoError(t, store.InsertEvents(ctx, events[:2]))
	require.NoError(t, store.InsertEvents(ctx, events[2:]))
	require.NoError(t, store.InsertEvents(ctx, nil))

	all, err := store.Events(ctx, storage.EventFilter{})
	require.NoError(t, err)
	require.Len(t, all, len(events))
	for i := range events {
		require.Equal(t, events[i].ID, all[i].ID)
		require.Equal(t, events[i].Type, all[i].Type)
		require.True(t, events[i].Timestamp.Equal(all[i].Timestamp))
	}
	require.Equal(t, "10000", all[1].Amount.String())
	require.True(t, *all[0].Authorized)

	t.Run("by user", func(t *testing.T) {
		got, err := store.Events(ctx, storage.EventFilter{User: &Alice})
		require.NoError(t, err)
		require.Len(t, got, 3)
		for _, ev := range got {
			require.Equal(t, Alice, *ev.User)
		}
	})

	t.Run("by type", func(t *testing.T) {
		got, err := store.Events(ctx, storage.EventFilter{Type: vault.EventDeposited})
		require.NoError(t, err)
		require.Len(t, got, 2)
		require.Equal(t, Bob, *got[1].User)
	})

	t.Run("paging", func(t *testing.T) {
		got, err := store.Events(ctx, storage.EventFilter{Limit: 2, Offset: 1})
		require.NoError(t, err)
		require.Len(t, got, 2)
		require.Equal(t, events[1].ID, got[0].ID)
		require.Equal(t, events[2].ID, got[1].ID)

		got, err = store.Events(ctx, storage.EventFilter{Offset: 10})
		require.NoError(t, err)
		require.Empty(t, got)
	})

	t.Run("invalid filters", func(t *testing.T) {
		_, err := store.Events(ctx, storage.EventFilter{Limit: storage.MaxLimit + 1})
		require.Error(t, err)
		_, err = store.Events(ctx, storage.EventFilter{Type: "Minted"})
		require.Error(t, err)
	})
}
