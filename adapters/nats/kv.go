package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/parrrate/cqrs/core/cqrs"
)

// KVConfig configures a JetStream key-value bucket backing snapshots or
// views.
type KVConfig struct {
	Connect Connector    // Connect creates the NATS connection. If nil, ConnectDefault() is used.
	Log     *slog.Logger // Log for diagnostics (optional)
	Bucket  string
}

func openBucket(cfg KVConfig, defaultBucket string) (jetstream.KeyValue, *Conn, *slog.Logger, error) {
	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}

	conn, err := doConnect()
	if err != nil {
		return nil, nil, nil, err
	}

	js, err := jetstream.New(conn.NATS())
	if err != nil {
		conn.Close()
		return nil, nil, nil, err
	}

	bucket := cfg.Bucket
	if bucket == "" {
		bucket = defaultBucket
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*natsgo.DefaultTimeout)
	defer cancel()

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:  bucket,
		Storage: jetstream.FileStorage,
	})
	if err != nil {
		conn.Close()
		return nil, nil, nil, err
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("store", "nats_kv"), slog.String("bucket", bucket))

	return kv, conn, log, nil
}

// kvKey flattens an identifier into the character set JetStream KV accepts.
func kvKey(parts ...string) string {
	key := strings.Join(parts, ".")
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, key)
}

// SnapshotRepositoryConfig configures a KV-backed snapshot repository.
type SnapshotRepositoryConfig struct {
	KVConfig
	// Events, when set, records a stream checkpoint for each persisted
	// snapshot so tail loads skip the snapshotted prefix of the subject.
	Events *EventRepository
}

// SnapshotRepository stores one snapshot per aggregate in a KV bucket.
type SnapshotRepository struct {
	kv     jetstream.KeyValue
	conn   *Conn
	events *EventRepository
	log    *slog.Logger
}

func NewSnapshotRepository(cfg SnapshotRepositoryConfig) (*SnapshotRepository, error) {
	kv, conn, log, err := openBucket(cfg.KVConfig, "cqrs_snapshots")
	if err != nil {
		return nil, err
	}
	return &SnapshotRepository{kv: kv, conn: conn, events: cfg.Events, log: log}, nil
}

func (r *SnapshotRepository) Close() error {
	r.conn.Close()
	return nil
}

func (r *SnapshotRepository) LoadSnapshot(ctx context.Context, aggregateType, aggregateID string) (cqrs.SerializedSnapshot, error) {
	entry, err := r.kv.Get(ctx, kvKey(aggregateType, aggregateID))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return cqrs.SerializedSnapshot{}, cqrs.ErrSnapshotNotFound
		}
		return cqrs.SerializedSnapshot{}, fmt.Errorf("get snapshot for %s/%s: %w", aggregateType, aggregateID, err)
	}
	var snap cqrs.SerializedSnapshot
	if err := json.Unmarshal(entry.Value(), &snap); err != nil {
		return cqrs.SerializedSnapshot{}, fmt.Errorf("decode snapshot for %s/%s: %w", aggregateType, aggregateID, err)
	}
	return snap, nil
}

func (r *SnapshotRepository) PersistSnapshot(ctx context.Context, snap cqrs.SerializedSnapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(&snap)
	if err != nil {
		return err
	}
	key := kvKey(snap.AggregateType, snap.AggregateID)

	for {
		entry, err := r.kv.Get(ctx, key)
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			if _, cerr := r.kv.Create(ctx, key, data); cerr != nil {
				if errors.Is(cerr, jetstream.ErrKeyExists) {
					continue
				}
				return cerr
			}
			return r.checkpoint(ctx, snap)
		}
		if err != nil {
			return err
		}

		var stored cqrs.SerializedSnapshot
		if err := json.Unmarshal(entry.Value(), &stored); err == nil &&
			stored.CurrentSequence >= snap.CurrentSequence {
			// a newer snapshot won the race
			return nil
		}
		if _, err := r.kv.Update(ctx, key, data, entry.Revision()); err != nil {
			if isWrongLastSequence(err) || errors.Is(err, jetstream.ErrKeyExists) {
				continue
			}
			return err
		}
		return r.checkpoint(ctx, snap)
	}
}

// checkpoint records the stream position covered by snap. Failures only cost
// tail-load speed and are not surfaced.
func (r *SnapshotRepository) checkpoint(ctx context.Context, snap cqrs.SerializedSnapshot) error {
	if r.events == nil {
		return nil
	}
	if err := r.events.Checkpoint(ctx, snap.AggregateType, snap.AggregateID, snap.CurrentSequence); err != nil {
		r.log.Warn("checkpoint snapshot position failed",
			slog.Group("agg",
				slog.String("type", snap.AggregateType),
				slog.String("id", snap.AggregateID),
				slog.Uint64("sequence", snap.CurrentSequence),
			),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

var _ cqrs.SnapshotRepository = (*SnapshotRepository)(nil)

// ViewRepository stores materialized views of type V in a KV bucket. The
// bucket revision doubles as the view's optimistic-concurrency version.
type ViewRepository[V any] struct {
	kv   jetstream.KeyValue
	conn *Conn
	log  *slog.Logger
}

func NewViewRepository[V any](cfg KVConfig) (*ViewRepository[V], error) {
	kv, conn, log, err := openBucket(cfg, "cqrs_views")
	if err != nil {
		return nil, err
	}
	return &ViewRepository[V]{kv: kv, conn: conn, log: log}, nil
}

func (r *ViewRepository[V]) Close() error {
	r.conn.Close()
	return nil
}

type storedView[V any] struct {
	View    *V                `json:"view"`
	Context cqrs.QueryContext `json:"context"`
}

func (r *ViewRepository[V]) LoadView(ctx context.Context, viewID string) (*V, cqrs.QueryContext, error) {
	entry, err := r.kv.Get(ctx, kvKey(viewID))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, cqrs.QueryContext{}, cqrs.ErrViewNotFound
		}
		return nil, cqrs.QueryContext{}, fmt.Errorf("get view %q: %w", viewID, err)
	}
	var sv storedView[V]
	if err := json.Unmarshal(entry.Value(), &sv); err != nil {
		return nil, cqrs.QueryContext{}, fmt.Errorf("decode view %q: %w", viewID, err)
	}
	sv.Context.Version = entry.Revision()
	return sv.View, sv.Context, nil
}

func (r *ViewRepository[V]) UpdateView(ctx context.Context, view *V, qctx cqrs.QueryContext) error {
	data, err := json.Marshal(&storedView[V]{View: view, Context: qctx})
	if err != nil {
		return err
	}
	key := kvKey(qctx.ViewID)

	if qctx.Version == 0 {
		_, err = r.kv.Create(ctx, key, data)
	} else {
		_, err = r.kv.Update(ctx, key, data, qctx.Version)
	}
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) || errors.Is(err, jetstream.ErrKeyNotFound) || isWrongLastSequence(err) {
			return fmt.Errorf("%w: view %s at version %d", cqrs.ErrAggregateConflict, qctx.ViewID, qctx.Version)
		}
		return fmt.Errorf("update view %q: %w", qctx.ViewID, err)
	}
	return nil
}

var _ cqrs.ViewRepository[struct{}] = (*ViewRepository[struct{}])(nil)
