package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/stretchr/testify/require"

	"github.com/parrrate/cqrs/core/cqrs"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testEvent(aggregateID string, seq uint64, payload string) cqrs.SerializedEvent {
	return cqrs.SerializedEvent{
		EventID:       gonanoid.Must(),
		AggregateType: "account",
		AggregateID:   aggregateID,
		Sequence:      seq,
		EventType:     "account.deposited",
		EventVersion:  cqrs.MustSemanticVersion("1.0.0"),
		Payload:       json.RawMessage(payload),
	}
}

func TestRepository_AppendAndLoad(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(newTestDB(t))

	recs, err := repo.LoadEvents(ctx, "account", "42")
	require.NoError(t, err)
	require.Empty(t, recs)

	ev1 := testEvent("42", 1, `{"amount":1}`)
	ev1.Metadata = cqrs.Metadata{"request_id": "req-1"}
	require.NoError(t, repo.PersistEvents(ctx, "account", "42", 0, []cqrs.SerializedEvent{
		ev1,
		testEvent("42", 2, `{"amount":2}`),
	}))

	recs, err = repo.LoadEvents(ctx, "account", "42")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, ev1.EventID, recs[0].EventID)
	require.Equal(t, "req-1", recs[0].Metadata["request_id"])
	require.True(t, recs[0].EventVersion.Equal(cqrs.MustSemanticVersion("1.0.0")))
	require.JSONEq(t, `{"amount":2}`, string(recs[1].Payload))

	tail, err := repo.LoadEventsFrom(ctx, "account", "42", 1)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	require.Equal(t, uint64(2), tail[0].Sequence)
}

func TestRepository_Conflict(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(newTestDB(t))

	require.NoError(t, repo.PersistEvents(ctx, "account", "42", 0, []cqrs.SerializedEvent{
		testEvent("42", 1, `{"amount":1}`),
	}))

	err := repo.PersistEvents(ctx, "account", "42", 0, []cqrs.SerializedEvent{
		testEvent("42", 1, `{"amount":99}`),
	})
	require.Error(t, err)
	require.ErrorIs(t, err, cqrs.ErrAggregateConflict)

	// the losing write left nothing behind
	recs, err := repo.LoadEvents(ctx, "account", "42")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.JSONEq(t, `{"amount":1}`, string(recs[0].Payload))
}

func TestRepository_Snapshots(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(newTestDB(t))

	_, err := repo.LoadSnapshot(ctx, "account", "42")
	require.ErrorIs(t, err, cqrs.ErrSnapshotNotFound)

	payload := json.RawMessage(`{"balance":10}`)
	require.NoError(t, repo.PersistSnapshot(ctx, cqrs.SerializedSnapshot{
		AggregateType:   "account",
		AggregateID:     "42",
		CurrentSequence: 5,
		SnapshotVersion: cqrs.MustSemanticVersion("1.0.0"),
		Payload:         payload,
		Checksum:        cqrs.PayloadChecksum(payload),
	}))

	snap, err := repo.LoadSnapshot(ctx, "account", "42")
	require.NoError(t, err)
	require.Equal(t, uint64(5), snap.CurrentSequence)
	require.NoError(t, snap.VerifyChecksum())

	// older snapshots do not overwrite newer ones
	require.NoError(t, repo.PersistSnapshot(ctx, cqrs.SerializedSnapshot{
		AggregateType:   "account",
		AggregateID:     "42",
		CurrentSequence: 3,
		SnapshotVersion: cqrs.MustSemanticVersion("1.0.0"),
		Payload:         json.RawMessage(`{"balance":3}`),
	}))
	snap, err = repo.LoadSnapshot(ctx, "account", "42")
	require.NoError(t, err)
	require.Equal(t, uint64(5), snap.CurrentSequence)

	// newer ones do
	require.NoError(t, repo.PersistSnapshot(ctx, cqrs.SerializedSnapshot{
		AggregateType:   "account",
		AggregateID:     "42",
		CurrentSequence: 8,
		SnapshotVersion: cqrs.MustSemanticVersion("1.0.0"),
		Payload:         json.RawMessage(`{"balance":8}`),
	}))
	snap, err = repo.LoadSnapshot(ctx, "account", "42")
	require.NoError(t, err)
	require.Equal(t, uint64(8), snap.CurrentSequence)
}

type balanceView struct {
	Total int64 `json:"total"`
}

func TestViewStore_CAS(t *testing.T) {
	ctx := context.Background()
	store := NewViewStore[balanceView](newTestDB(t))

	_, _, err := store.LoadView(ctx, "42")
	require.ErrorIs(t, err, cqrs.ErrViewNotFound)

	qctx := cqrs.NewQueryContext("42")
	qctx.SetWatermark("42", 1)
	require.NoError(t, store.UpdateView(ctx, &balanceView{Total: 1}, qctx))

	view, loaded, err := store.LoadView(ctx, "42")
	require.NoError(t, err)
	require.Equal(t, int64(1), view.Total)
	require.Equal(t, uint64(1), loaded.Version)
	require.Equal(t, uint64(1), loaded.Watermark("42"))

	// stale writer conflicts
	err = store.UpdateView(ctx, &balanceView{Total: 99}, qctx)
	require.Error(t, err)
	require.ErrorIs(t, err, cqrs.ErrAggregateConflict)

	// current writer succeeds
	loaded.SetWatermark("42", 2)
	require.NoError(t, store.UpdateView(ctx, &balanceView{Total: 2}, loaded))

	view, reloaded, err := store.LoadView(ctx, "42")
	require.NoError(t, err)
	require.Equal(t, int64(2), view.Total)
	require.Equal(t, uint64(2), reloaded.Version)
}

func TestViewStore_TypesAreIsolated(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	balances := NewViewStore[balanceView](db)
	require.NoError(t, balances.UpdateView(ctx, &balanceView{Total: 1}, cqrs.NewQueryContext("42")))

	type otherView struct {
		N int `json:"n"`
	}
	others := NewViewStore[otherView](db)
	_, _, err := others.LoadView(ctx, "42")
	require.ErrorIs(t, err, cqrs.ErrViewNotFound)
}
