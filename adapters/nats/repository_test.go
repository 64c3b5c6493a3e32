package nats

import (
	"encoding/json"
	"testing"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/stretchr/testify/require"

	"github.com/parrrate/cqrs/core/cqrs"
)

func newTestRepository(t *testing.T) *EventRepository {
	connect := ReuseConnection(NewTestContainer(t))
	repo, err := NewEventRepository(EventRepositoryConfig{
		Connect:    connect,
		StreamName: "cqrs_test",
	})
	require.NoError(t, err)
	require.NotNil(t, repo)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
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

func TestEventRepository_AppendAndLoad(t *testing.T) {
	repo := newTestRepository(t)
	ctx := t.Context()

	require.Equal(t, "cqrs.events.account.123", repo.subjectFor("account", "123"))

	// empty stream
	recs, err := repo.LoadEvents(ctx, "account", "123")
	require.NoError(t, err)
	require.Empty(t, recs)

	err = repo.PersistEvents(ctx, "account", "123", 0, []cqrs.SerializedEvent{
		testEvent("123", 1, `{"amount":1}`),
		testEvent("123", 2, `{"amount":2}`),
	})
	require.NoError(t, err)

	recs, err = repo.LoadEvents(ctx, "account", "123")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, uint64(1), recs[0].Sequence)
	require.Equal(t, uint64(2), recs[1].Sequence)
	require.JSONEq(t, `{"amount":2}`, string(recs[1].Payload))

	// tail load
	tail, err := repo.LoadEventsFrom(ctx, "account", "123", 1)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	require.Equal(t, uint64(2), tail[0].Sequence)

	// streams are isolated per aggregate
	other, err := repo.LoadEvents(ctx, "account", "456")
	require.NoError(t, err)
	require.Empty(t, other)
}

func TestEventRepository_Conflict(t *testing.T) {
	repo := newTestRepository(t)
	ctx := t.Context()

	require.NoError(t, repo.PersistEvents(ctx, "account", "42", 0, []cqrs.SerializedEvent{
		testEvent("42", 1, `{"amount":1}`),
	}))

	// stale expected sequence
	err := repo.PersistEvents(ctx, "account", "42", 0, []cqrs.SerializedEvent{
		testEvent("42", 1, `{"amount":99}`),
	})
	require.Error(t, err)
	require.ErrorIs(t, err, cqrs.ErrAggregateConflict)

	// nothing extra landed
	recs, err := repo.LoadEvents(ctx, "account", "42")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.JSONEq(t, `{"amount":1}`, string(recs[0].Payload))

	// the correct expectation still works
	require.NoError(t, repo.PersistEvents(ctx, "account", "42", 1, []cqrs.SerializedEvent{
		testEvent("42", 2, `{"amount":2}`),
	}))
}

func TestEventRepository_EndToEnd(t *testing.T) {
	repo := newTestRepository(t)
	ctx := t.Context()

	reg := cqrs.NewEventRegistry()
	require.NoError(t, reg.Register(cqrs.Event[deposited]()))

	store := cqrs.NewEventStore[*counter](repo, reg)

	actx, err := store.Load(ctx, "c1")
	require.NoError(t, err)
	_, err = store.Commit(ctx, actx, []any{&deposited{Amount: 3}, &deposited{Amount: 4}}, nil)
	require.NoError(t, err)

	reloaded, err := store.Load(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, int64(7), reloaded.Aggregate().Total)
	require.Equal(t, uint64(2), reloaded.Sequence())
}

func TestEventRepository_CheckpointedTailLoad(t *testing.T) {
	repo := newTestRepository(t)
	ctx := t.Context()

	require.NoError(t, repo.PersistEvents(ctx, "account", "cp1", 0, []cqrs.SerializedEvent{
		testEvent("cp1", 1, `{"amount":1}`),
		testEvent("cp1", 2, `{"amount":2}`),
	}))
	require.NoError(t, repo.Checkpoint(ctx, "account", "cp1", 2))

	cp, ok := repo.checkpointFor(ctx, "account", "cp1", 2)
	require.True(t, ok)
	require.Equal(t, uint64(2), cp.Sequence)
	require.NotZero(t, cp.StreamSequence)

	require.NoError(t, repo.PersistEvents(ctx, "account", "cp1", 2, []cqrs.SerializedEvent{
		testEvent("cp1", 3, `{"amount":3}`),
	}))

	// the consumer starts past the checkpointed prefix
	tail, err := repo.LoadEventsFrom(ctx, "account", "cp1", 2)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	require.Equal(t, uint64(3), tail[0].Sequence)

	// a full load ignores the checkpoint
	full, err := repo.LoadEvents(ctx, "account", "cp1")
	require.NoError(t, err)
	require.Len(t, full, 3)

	// checkpointing against a stale subject position is a no-op
	require.NoError(t, repo.Checkpoint(ctx, "account", "cp1", 2))
	cp, ok = repo.checkpointFor(ctx, "account", "cp1", 3)
	require.True(t, ok)
	require.Equal(t, uint64(2), cp.Sequence)

	// a checkpoint past the requested position cannot seed the load
	require.NoError(t, repo.Checkpoint(ctx, "account", "cp1", 3))
	_, ok = repo.checkpointFor(ctx, "account", "cp1", 2)
	require.False(t, ok)
	older, err := repo.LoadEventsFrom(ctx, "account", "cp1", 1)
	require.NoError(t, err)
	require.Len(t, older, 2)
}
