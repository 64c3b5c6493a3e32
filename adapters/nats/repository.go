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

const defaultSubjectPrefix = "cqrs.events"

// EventRepositoryConfig configures a JetStream-backed event repository.
type EventRepositoryConfig struct {
	Connect       Connector    // Connect creates the NATS connection. If nil, ConnectDefault() is used.
	Log           *slog.Logger // Log for diagnostics (optional)
	StreamName    string
	SubjectPrefix string
	// CheckpointBucket names the KV bucket mapping snapshotted aggregate
	// sequences to stream positions. Defaults to "cqrs_checkpoints".
	CheckpointBucket string
}

// EventRepository stores each aggregate stream on its own subject
// `<prefix>.<aggregate_type>.<aggregate_id>`. Appends are guarded by the
// subject's last stream sequence, so two writers committing against the same
// baseline cannot both succeed.
type EventRepository struct {
	conn          *Conn
	js            jetstream.JetStream
	stream        jetstream.Stream
	checkpoints   jetstream.KeyValue
	log           *slog.Logger
	subjectPrefix string
	streamName    string
}

func NewEventRepository(cfg EventRepositoryConfig) (*EventRepository, error) {
	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}

	conn, err := doConnect()
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(conn.NATS())
	if err != nil {
		conn.Close()
		return nil, err
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	streamName := strings.ToUpper(cfg.StreamName)
	if streamName == "" {
		streamName = "CQRS_EVENTS"
	}

	subjectPrefix := cfg.SubjectPrefix
	if subjectPrefix == "" {
		subjectPrefix = defaultSubjectPrefix
	}

	checkpointBucket := cfg.CheckpointBucket
	if checkpointBucket == "" {
		checkpointBucket = "cqrs_checkpoints"
	}

	log = log.With(
		slog.String("store", "nats_js"),
		slog.String("stream", streamName),
		slog.String("subject_prefix", subjectPrefix),
	)

	stream, err := ensureStream(js, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{subjectPrefix + ".>"},
		FirstSeq: 1,
	})
	if err != nil {
		conn.Close()
		return nil, err
	}

	kvCtx, cancel := context.WithTimeout(context.Background(), 10*natsgo.DefaultTimeout)
	checkpoints, err := js.CreateOrUpdateKeyValue(kvCtx, jetstream.KeyValueConfig{
		Bucket:  checkpointBucket,
		Storage: jetstream.FileStorage,
	})
	cancel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	log.Debug("ensured stream")

	return &EventRepository{
		conn:          conn,
		js:            js,
		stream:        stream,
		checkpoints:   checkpoints,
		log:           log,
		subjectPrefix: subjectPrefix,
		streamName:    streamName,
	}, nil
}

func (r *EventRepository) Close() error {
	r.js.CleanupPublisher()
	r.conn.Close()
	r.log.Debug("closed event repository")
	return nil
}

func (r *EventRepository) subjectFor(aggregateType, aggregateID string) string {
	return r.subjectPrefix + "." + aggregateType + "." + aggregateID
}

// lastOnSubject returns the stream sequence and aggregate sequence of the
// newest message on subj, or (0, 0) when the subject is empty.
func (r *EventRepository) lastOnSubject(ctx context.Context, subj string) (streamSeq, aggSeq uint64, err error) {
	lm, err := r.stream.GetLastMsgForSubject(ctx, subj)
	if err != nil {
		if errors.Is(err, jetstream.ErrMsgNotFound) {
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("get last message for %q: %w", subj, err)
	}
	var rec cqrs.SerializedEvent
	if err := json.Unmarshal(lm.Data, &rec); err != nil {
		return 0, 0, fmt.Errorf("decode last message for %q: %w", subj, err)
	}
	return lm.Sequence, rec.Sequence, nil
}

// tailCheckpoint maps an aggregate sequence to the stream sequence of the
// message carrying it.
type tailCheckpoint struct {
	Sequence       uint64 `json:"sequence"`
	StreamSequence uint64 `json:"stream_sequence"`
}

// Checkpoint records the stream position of the event at sequence, provided
// it is still the newest message on the aggregate's subject. Tail loads start
// their consumer just past the recorded position instead of replaying the
// subject from the beginning.
func (r *EventRepository) Checkpoint(ctx context.Context, aggregateType, aggregateID string, sequence uint64) error {
	if sequence == 0 {
		return nil
	}
	streamSeq, aggSeq, err := r.lastOnSubject(ctx, r.subjectFor(aggregateType, aggregateID))
	if err != nil {
		return err
	}
	if aggSeq != sequence {
		// the subject moved on; a later snapshot checkpoints again
		return nil
	}
	data, err := json.Marshal(tailCheckpoint{Sequence: sequence, StreamSequence: streamSeq})
	if err != nil {
		return err
	}
	_, err = r.checkpoints.Put(ctx, kvKey(aggregateType, aggregateID), data)
	return err
}

// checkpointFor returns the recorded checkpoint when it sits at or before
// lastSequence. A checkpoint past that position cannot seed a tail load and
// is ignored.
func (r *EventRepository) checkpointFor(ctx context.Context, aggregateType, aggregateID string, lastSequence uint64) (tailCheckpoint, bool) {
	if lastSequence == 0 {
		return tailCheckpoint{}, false
	}
	entry, err := r.checkpoints.Get(ctx, kvKey(aggregateType, aggregateID))
	if err != nil {
		if !errors.Is(err, jetstream.ErrKeyNotFound) {
			r.log.Debug("read checkpoint failed", slog.String("error", err.Error()))
		}
		return tailCheckpoint{}, false
	}
	var cp tailCheckpoint
	if err := json.Unmarshal(entry.Value(), &cp); err != nil {
		return tailCheckpoint{}, false
	}
	if cp.Sequence == 0 || cp.Sequence > lastSequence {
		return tailCheckpoint{}, false
	}
	return cp, true
}

func (r *EventRepository) LoadEvents(ctx context.Context, aggregateType, aggregateID string) ([]cqrs.SerializedEvent, error) {
	return r.LoadEventsFrom(ctx, aggregateType, aggregateID, 0)
}

func (r *EventRepository) LoadEventsFrom(ctx context.Context, aggregateType, aggregateID string, lastSequence uint64) ([]cqrs.SerializedEvent, error) {
	subj := r.subjectFor(aggregateType, aggregateID)

	_, endSeq, err := r.lastOnSubject(ctx, subj)
	if err != nil {
		return nil, err
	}
	if endSeq == 0 || endSeq <= lastSequence {
		return nil, nil
	}

	consumerCfg := jetstream.OrderedConsumerConfig{
		DeliverPolicy:  jetstream.DeliverAllPolicy,
		FilterSubjects: []string{subj},
	}
	if cp, ok := r.checkpointFor(ctx, aggregateType, aggregateID, lastSequence); ok {
		consumerCfg.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
		consumerCfg.OptStartSeq = cp.StreamSequence + 1
	}

	cc, err := r.stream.OrderedConsumer(ctx, consumerCfg)
	if err != nil {
		return nil, err
	}

	var out []cqrs.SerializedEvent
outer:
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		mb, err := cc.FetchNoWait(100)
		if err != nil {
			return nil, err
		}

		empty := true
		for msg := range mb.Messages() {
			empty = false
			var rec cqrs.SerializedEvent
			if err := json.Unmarshal(msg.Data(), &rec); err != nil {
				return nil, fmt.Errorf("decode message on %q: %w", subj, err)
			}
			if rec.Sequence > lastSequence {
				out = append(out, rec)
			}
			if rec.Sequence >= endSeq {
				break outer
			}
		}
		if err := mb.Error(); err != nil {
			return nil, err
		}
		if empty {
			break
		}
	}

	r.log.Debug("loaded events",
		slog.Group("agg",
			slog.String("type", aggregateType),
			slog.String("id", aggregateID),
		),
		slog.Int("count", len(out)),
		slog.Uint64("after", lastSequence),
	)
	return out, nil
}

func (r *EventRepository) PersistEvents(ctx context.Context, aggregateType, aggregateID string, expectedSequence uint64, events []cqrs.SerializedEvent) error {
	if len(events) == 0 {
		return nil
	}
	subj := r.subjectFor(aggregateType, aggregateID)

	lastStreamSeq, lastAggSeq, err := r.lastOnSubject(ctx, subj)
	if err != nil {
		return err
	}
	if lastAggSeq != expectedSequence {
		return fmt.Errorf("%w: %s/%s at sequence %d, expected %d",
			cqrs.ErrAggregateConflict, aggregateType, aggregateID, lastAggSeq, expectedSequence)
	}

	// The read above is only a fast path; the publish itself carries the
	// subject's last stream sequence, so the server rejects a racing writer.
	expectStreamSeq := lastStreamSeq
	for _, rec := range events {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode event %q: %w", rec.EventType, err)
		}
		msg := natsgo.NewMsg(subj)
		msg.Header.Set("x-event-type", rec.EventType)
		msg.Header.Set("x-aggregate-type", aggregateType)
		msg.Header.Set("x-aggregate-id", aggregateID)
		msg.Data = data

		ack, err := r.js.PublishMsg(ctx, msg,
			jetstream.WithMsgID(rec.EventID),
			jetstream.WithExpectLastSequencePerSubject(expectStreamSeq),
		)
		if err != nil {
			if isWrongLastSequence(err) {
				return fmt.Errorf("%w: %s/%s, expected %d: %v",
					cqrs.ErrAggregateConflict, aggregateType, aggregateID, expectedSequence, err)
			}
			return fmt.Errorf("publish to %q: %w", subj, err)
		}
		expectStreamSeq = ack.Sequence
	}
	return nil
}

func isWrongLastSequence(err error) bool {
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}

func ensureStream(js jetstream.JetStream, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*natsgo.DefaultTimeout)
	defer cancel()
	return js.CreateOrUpdateStream(ctx, cfg)
}

var _ cqrs.EventRepository = (*EventRepository)(nil)
