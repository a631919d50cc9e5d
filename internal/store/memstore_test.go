package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talkstage/backend/internal/store"
)

func TestMergeAndReplace(t *testing.T) {
	// Arrange
	m := store.NewMemStore()
	ctx := context.Background()
	ref := store.Ref{Collection: "users", ID: "u1"}

	// Act
	require.NoError(t, m.Merge(ctx, ref, store.Doc{"status": "waiting", "displayName": "Ivy"}))
	require.NoError(t, m.Merge(ctx, ref, store.Doc{"status": "chatting"}))

	// Assert - merge keeps untouched fields
	snap, err := m.Get(ctx, ref)
	require.NoError(t, err)
	assert.True(t, snap.Exists)
	assert.Equal(t, "chatting", snap.Data["status"])
	assert.Equal(t, "Ivy", snap.Data["displayName"])

	// Act - replace drops them
	require.NoError(t, m.Replace(ctx, ref, store.Doc{"status": "homepage"}))
	snap, err = m.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "homepage", snap.Data["status"])
	assert.NotContains(t, snap.Data, "displayName")
}

func TestReplaceWithEmptyDocIsEmptyNotMissing(t *testing.T) {
	m := store.NewMemStore()
	ctx := context.Background()
	ref := store.Ref{Collection: "users", ID: "u1"}
	require.NoError(t, m.Merge(ctx, ref, store.Doc{"status": "chatting"}))

	require.NoError(t, m.Replace(ctx, ref, store.Doc{}))

	snap, err := m.Get(ctx, ref)
	require.NoError(t, err)
	assert.True(t, snap.Exists)
	assert.True(t, snap.Empty())
}

func TestServerTimestampsAreMonotonic(t *testing.T) {
	// Arrange
	m := store.NewMemStore()
	ctx := context.Background()

	// Act - two commits back to back
	refA := store.Ref{Collection: "c", ID: "a"}
	refB := store.Ref{Collection: "c", ID: "b"}
	require.NoError(t, m.Merge(ctx, refA, store.Doc{"createdAt": store.ServerTimestamp}))
	require.NoError(t, m.Merge(ctx, refB, store.Doc{"createdAt": store.ServerTimestamp}))

	// Assert - strictly increasing
	snapA, _ := m.Get(ctx, refA)
	snapB, _ := m.Get(ctx, refB)
	tA, ok := snapA.Data["createdAt"].(time.Time)
	require.True(t, ok)
	tB, ok := snapB.Data["createdAt"].(time.Time)
	require.True(t, ok)
	assert.True(t, tB.After(tA), "second commit must order after the first")
}

func TestTransactionStagedWritesVisibleToOwnReads(t *testing.T) {
	m := store.NewMemStore()
	ctx := context.Background()
	ref := store.Ref{Collection: "users", ID: "u1"}
	require.NoError(t, m.Merge(ctx, ref, store.Doc{"status": "waiting"}))

	err := m.RunTransaction(ctx, func(tx store.Tx) error {
		tx.Merge(ref, store.Doc{"status": "chatting"})
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		assert.Equal(t, "chatting", snap.Data["status"])
		return nil
	})
	require.NoError(t, err)
}

func TestTransactionErrorDiscardsStagedWrites(t *testing.T) {
	m := store.NewMemStore()
	ctx := context.Background()
	ref := store.Ref{Collection: "users", ID: "u1"}
	require.NoError(t, m.Merge(ctx, ref, store.Doc{"status": "waiting"}))

	boom := errors.New("boom")
	err := m.RunTransaction(ctx, func(tx store.Tx) error {
		tx.Merge(ref, store.Doc{"status": "chatting"})
		return boom
	})

	require.ErrorIs(t, err, boom)
	snap, _ := m.Get(ctx, ref)
	assert.Equal(t, "waiting", snap.Data["status"], "failed transaction must leave no trace")
}

func TestQueryFilterOrderLimit(t *testing.T) {
	// Arrange
	m := store.NewMemStore()
	ctx := context.Background()
	base := time.Now().UTC()
	for i, id := range []string{"a", "b", "c", "d"} {
		status := "waiting"
		if id == "d" {
			status = "chatting"
		}
		require.NoError(t, m.Merge(ctx, store.Ref{Collection: "users", ID: id}, store.Doc{
			"status":       status,
			"waitingSince": base.Add(time.Duration(i) * time.Second),
		}))
	}

	// Act
	snaps, err := m.GetQuery(ctx, store.Query{
		Collection: "users",
		OrderBy:    "waitingSince",
		Limit:      2,
	}.Where("status", store.OpEqual, "waiting"))

	// Assert - only waiting users, oldest first, capped
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, "a", snaps[0].Ref.ID)
	assert.Equal(t, "b", snaps[1].Ref.ID)
}

func TestQueryNotEqualExcludesSelf(t *testing.T) {
	m := store.NewMemStore()
	ctx := context.Background()
	for _, id := range []string{"self", "other"} {
		require.NoError(t, m.Merge(ctx, store.Ref{Collection: "users", ID: id}, store.Doc{
			"uid":    id,
			"status": "waiting",
		}))
	}

	snaps, err := m.GetQuery(ctx, store.Query{Collection: "users"}.
		Where("status", store.OpEqual, "waiting").
		Where("uid", store.OpNotEqual, "self"))

	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "other", snaps[0].Ref.ID)
}

func TestSubscribeDeliversInitialAndSubsequentStates(t *testing.T) {
	// Arrange
	m := store.NewMemStore()
	ctx := context.Background()
	ref := store.Ref{Collection: "users", ID: "u1"}

	var mu sync.Mutex
	var seen []store.Snapshot
	cancel := m.Subscribe(ref, func(snap store.Snapshot) {
		mu.Lock()
		seen = append(seen, snap)
		mu.Unlock()
	})
	defer cancel()

	// Act
	require.NoError(t, m.Merge(ctx, ref, store.Doc{"status": "waiting"}))
	require.NoError(t, m.Merge(ctx, ref, store.Doc{"status": "chatting"}))

	// Assert - initial missing state, then both commits, in order
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.False(t, seen[0].Exists)
	assert.Equal(t, "waiting", seen[1].Data["status"])
	assert.Equal(t, "chatting", seen[2].Data["status"])
}

func TestSubscribeCallbackMayWriteBack(t *testing.T) {
	// A subscriber reacting to a change with another write must not
	// deadlock the store.
	m := store.NewMemStore()
	ctx := context.Background()
	ref := store.Ref{Collection: "users", ID: "u1"}
	echo := store.Ref{Collection: "users", ID: "echo"}

	cancel := m.Subscribe(ref, func(snap store.Snapshot) {
		if snap.Exists {
			_ = m.Merge(context.Background(), echo, store.Doc{"sawStatus": snap.Data["status"]})
		}
	})
	defer cancel()

	require.NoError(t, m.Merge(ctx, ref, store.Doc{"status": "waiting"}))

	assert.Eventually(t, func() bool {
		snap, _ := m.Get(ctx, echo)
		return snap.Exists && snap.Data["sawStatus"] == "waiting"
	}, time.Second, 5*time.Millisecond)
}

func TestSubscribeQueryTracksCollectionChanges(t *testing.T) {
	m := store.NewMemStore()
	ctx := context.Background()

	var mu sync.Mutex
	var latest []store.Snapshot
	cancel := m.SubscribeQuery(store.Query{Collection: "users"}.
		Where("status", store.OpEqual, "waiting"),
		func(snaps []store.Snapshot) {
			mu.Lock()
			latest = snaps
			mu.Unlock()
		})
	defer cancel()

	require.NoError(t, m.Merge(ctx, store.Ref{Collection: "users", ID: "u1"}, store.Doc{"status": "waiting"}))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(latest) == 1
	}, time.Second, 5*time.Millisecond)

	// Leaving the pool drops the user from the result set.
	require.NoError(t, m.Merge(ctx, store.Ref{Collection: "users", ID: "u1"}, store.Doc{"status": "chatting"}))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(latest) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestCancelStopsDelivery(t *testing.T) {
	m := store.NewMemStore()
	ctx := context.Background()
	ref := store.Ref{Collection: "users", ID: "u1"}

	var mu sync.Mutex
	count := 0
	cancel := m.Subscribe(ref, func(store.Snapshot) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, m.Merge(ctx, ref, store.Doc{"status": "waiting"}))
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count, "no deliveries after cancel")
}

func TestSnapshotsAreIsolatedCopies(t *testing.T) {
	m := store.NewMemStore()
	ctx := context.Background()
	ref := store.Ref{Collection: "rooms", ID: "r1"}
	require.NoError(t, m.Merge(ctx, ref, store.Doc{"participants": []any{"a", "b"}}))

	snap, err := m.Get(ctx, ref)
	require.NoError(t, err)
	snap.Data["participants"].([]any)[0] = "mutated"

	fresh, err := m.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "a", fresh.Data["participants"].([]any)[0])
}
