package cqrs_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/parrrate/cqrs/core/cqrs"
)

func TestSnapshotStore_Equivalence(t *testing.T) {
	ctx := context.Background()
	repo := cqrs.NewInMemoryRepository()
	reg := accountRegistry()

	snapStore := cqrs.NewSnapshotStore[*Account](repo, repo, reg,
		cqrs.WithSnapshotPolicy(cqrs.SnapshotEvery(2)))
	plain := cqrs.NewEventStore[*Account](repo, reg)

	actx, err := snapStore.Load(ctx, "42")
	require.NoError(t, err)
	_, err = snapStore.Commit(ctx, actx, []any{
		&Opened{Balance: 100},
		&Deposited{Amount: 10},
	}, nil)
	require.NoError(t, err)

	// snapshot exists at sequence 2
	snap, err := repo.LoadSnapshot(ctx, "account", "42")
	require.NoError(t, err)
	require.Equal(t, uint64(2), snap.CurrentSequence)
	require.NoError(t, snap.VerifyChecksum())

	// grow a tail past the snapshot
	actx, err = snapStore.Load(ctx, "42")
	require.NoError(t, err)
	_, err = snapStore.Commit(ctx, actx, []any{&Withdrawn{Amount: 30}}, nil)
	require.NoError(t, err)

	viaSnapshot, err := snapStore.Load(ctx, "42")
	require.NoError(t, err)
	viaReplay, err := plain.Load(ctx, "42")
	require.NoError(t, err)

	require.Equal(t, viaReplay.Aggregate(), viaSnapshot.Aggregate())
	require.Equal(t, viaReplay.Sequence(), viaSnapshot.Sequence())
	require.Equal(t, int64(80), viaSnapshot.Aggregate().Balance)
}

func TestSnapshotStore_PolicyHoldsBack(t *testing.T) {
	ctx := context.Background()
	repo := cqrs.NewInMemoryRepository()
	store := cqrs.NewSnapshotStore[*Account](repo, repo, accountRegistry(),
		cqrs.WithSnapshotPolicy(cqrs.SnapshotEvery(10)))

	actx, err := store.Load(ctx, "42")
	require.NoError(t, err)
	_, err = store.Commit(ctx, actx, []any{&Opened{Balance: 1}}, nil)
	require.NoError(t, err)

	_, err = repo.LoadSnapshot(ctx, "account", "42")
	require.ErrorIs(t, err, cqrs.ErrSnapshotNotFound)
}

type brokenSnapshots struct{}

func (brokenSnapshots) LoadSnapshot(context.Context, string, string) (cqrs.SerializedSnapshot, error) {
	return cqrs.SerializedSnapshot{}, errors.New("backend down")
}

func (brokenSnapshots) PersistSnapshot(context.Context, cqrs.SerializedSnapshot) error {
	return errors.New("backend down")
}

func TestSnapshotStore_WriteFailureDoesNotFailCommit(t *testing.T) {
	ctx := context.Background()
	repo := cqrs.NewInMemoryRepository()
	store := cqrs.NewSnapshotStore[*Account](repo, brokenSnapshots{}, accountRegistry(),
		cqrs.WithSnapshotPolicy(cqrs.SnapshotEvery(1)))

	actx, err := store.Load(ctx, "42")
	require.NoError(t, err)
	envs, err := store.Commit(ctx, actx, []any{&Opened{Balance: 5}}, nil)
	require.NoError(t, err)
	require.Len(t, envs, 1)

	// the events landed even though every snapshot call failed
	reloaded, err := store.Load(ctx, "42")
	require.NoError(t, err)
	require.Equal(t, int64(5), reloaded.Aggregate().Balance)
}

func TestSnapshotStore_CorruptSnapshotFallsBackToReplay(t *testing.T) {
	ctx := context.Background()
	repo := cqrs.NewInMemoryRepository()
	store := cqrs.NewSnapshotStore[*Account](repo, repo, accountRegistry(),
		cqrs.WithSnapshotPolicy(cqrs.SnapshotEvery(1)))

	actx, err := store.Load(ctx, "42")
	require.NoError(t, err)
	_, err = store.Commit(ctx, actx, []any{&Opened{Balance: 100}}, nil)
	require.NoError(t, err)

	// corrupt the stored snapshot payload without fixing the checksum
	snap, err := repo.LoadSnapshot(ctx, "account", "42")
	require.NoError(t, err)
	snap.Payload = json.RawMessage(`{"open":true,"balance":999999}`)
	snap.CurrentSequence++
	require.NoError(t, repo.PersistSnapshot(ctx, snap))

	reloaded, err := store.Load(ctx, "42")
	require.NoError(t, err)
	require.Equal(t, int64(100), reloaded.Aggregate().Balance)
	require.Equal(t, uint64(1), reloaded.Sequence())
}

func TestSnapshotStore_UpcastsSnapshots(t *testing.T) {
	ctx := context.Background()
	v := cqrs.MustSemanticVersion
	repo := cqrs.NewInMemoryRepository()

	// old snapshot schema used "funds" for the balance
	oldPayload := json.RawMessage(`{"open":true,"funds":70}`)
	require.NoError(t, repo.PersistSnapshot(ctx, cqrs.SerializedSnapshot{
		AggregateType:   "account",
		AggregateID:     "42",
		CurrentSequence: 2,
		SnapshotVersion: v("1.0.0"),
		Payload:         oldPayload,
		Checksum:        cqrs.PayloadChecksum(oldPayload),
	}))
	require.NoError(t, repo.PersistEvents(ctx, "account", "42", 0, []cqrs.SerializedEvent{
		{
			EventID: "ev-1", AggregateType: "account", AggregateID: "42",
			Sequence: 1, EventType: "account.opened",
			EventVersion: v("1.0.0"), Payload: json.RawMessage(`{"balance":100}`),
		},
		{
			EventID: "ev-2", AggregateType: "account", AggregateID: "42",
			Sequence: 2, EventType: "account.withdrawn",
			EventVersion: v("1.0.0"), Payload: json.RawMessage(`{"amount":30}`),
		},
	}))

	store := cqrs.NewSnapshotStore[*Account](repo, repo, accountRegistry(),
		cqrs.WithSnapshotVersion(v("2.0.0")),
		cqrs.WithUpcasters(
			cqrs.NewUpcaster(cqrs.SnapshotType("account"), v("1.0.0"), v("2.0.0"),
				renameField("funds", "balance")),
		),
	)

	actx, err := store.Load(ctx, "42")
	require.NoError(t, err)
	require.Equal(t, int64(70), actx.Aggregate().Balance)
	require.Equal(t, uint64(2), actx.Sequence())
}

func TestSnapshotStore_SupersededSnapshotIsKept(t *testing.T) {
	ctx := context.Background()
	repo := cqrs.NewInMemoryRepository()

	newer := json.RawMessage(`{"open":true,"balance":2}`)
	require.NoError(t, repo.PersistSnapshot(ctx, cqrs.SerializedSnapshot{
		AggregateType: "account", AggregateID: "42",
		CurrentSequence: 5, Payload: newer,
	}))
	// a laggy writer tries to store an older snapshot
	require.NoError(t, repo.PersistSnapshot(ctx, cqrs.SerializedSnapshot{
		AggregateType: "account", AggregateID: "42",
		CurrentSequence: 3, Payload: json.RawMessage(`{"open":true,"balance":1}`),
	}))

	snap, err := repo.LoadSnapshot(ctx, "account", "42")
	require.NoError(t, err)
	require.Equal(t, uint64(5), snap.CurrentSequence)
}
