package docsync

import (
	"context"
	"log/slog"
	"sync"

	syncErrors "github.com/c0deZ3R0/go-doc-sync/errors"
	"github.com/c0deZ3R0/go-doc-sync/logging"
)

// DefaultCheckpointCadence is how often a snapshot record is written: after
// every Kth accepted event.
const DefaultCheckpointCadence = 5

// Engine reconciles client submissions against the authoritative event log
// and rebuilds the current document from the latest checkpoint.
type Engine struct {
	store   Store
	cadence uint64
	logger  *logging.Logger

	// mu serializes submissions. The reconstruct/append/checkpoint sequence
	// of one submission must not interleave with another's, even though the
	// transport layer may admit many concurrently.
	mu sync.Mutex
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithCheckpointCadence sets how many events are accepted between snapshot
// records. A cadence of 0 disables checkpointing.
func WithCheckpointCadence(k uint64) EngineOption {
	return func(e *Engine) { e.cadence = k }
}

// WithLogger sets the engine logger.
func WithLogger(l *logging.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an engine on top of the given store.
func NewEngine(store Store, opts ...EngineOption) *Engine {
	e := &Engine{
		store:   store,
		cadence: DefaultCheckpointCadence,
		logger:  logging.WithComponent(logging.Component("engine")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// stateReader is the read surface reconstruction needs; both Store and Tx
// satisfy it.
type stateReader interface {
	EventLog
	SnapshotStore
}

// reconstruct rebuilds the current document: latest checkpoint (or the empty
// initial snapshot) plus a strict in-order fold of every later event. An
// apply precondition violation means the log or a checkpoint is corrupted
// and is surfaced, never skipped.
func reconstruct(ctx context.Context, r stateReader) (Snapshot, error) {
	snap := EmptySnapshot()

	latest, err := r.Latest(ctx)
	if err != nil {
		return Snapshot{}, syncErrors.WrapStorage(err, syncErrors.OpLatest, "store")
	}
	if latest != nil {
		snap = latest.Clone()
	}

	events, err := r.Range(ctx, snap.Version, 0)
	if err != nil {
		return Snapshot{}, syncErrors.WrapStorage(err, syncErrors.OpRange, "store")
	}

	for _, ev := range events {
		snap, err = Apply(snap, ev)
		if err != nil {
			return Snapshot{}, syncErrors.NewReconstructionError(err)
		}
	}
	return snap, nil
}

// CurrentState returns the authoritative document as of the newest event.
func (e *Engine) CurrentState(ctx context.Context) (Snapshot, error) {
	return reconstruct(ctx, e.store)
}

// EventsSince returns all events newer than the given version, ascending.
// An empty slice means the caller is current.
func (e *Engine) EventsSince(ctx context.Context, version uint64) ([]Event, error) {
	events, err := e.store.Range(ctx, version, 0)
	if err != nil {
		return nil, syncErrors.WrapStorage(err, syncErrors.OpRange, "store")
	}
	return events, nil
}

// Submit reconciles a client mutation against the current authoritative
// state and appends it to the log.
//
// A payload versioned behind the current state is not a conflict: the
// mutation is applied against the current document (last-writer-wins at the
// key level) and the result carries the catch-up set the client is missing.
// A payload claiming a version ahead of the server is treated the same as an
// in-sync one; a single-writer log cannot legitimately be behind its
// clients.
//
// The whole body runs inside one storage transaction and under the engine's
// submission mutex, so the reconstruction read, the id assignment and the
// optional checkpoint write are mutually consistent. Any failure rolls the
// transaction back; nothing is partially committed.
func (e *Engine) Submit(ctx context.Context, p Payload) (*SubmitResult, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var res *SubmitResult
	err := e.store.WithinTx(ctx, func(tx Tx) error {
		current, err := reconstruct(ctx, tx)
		if err != nil {
			return err
		}

		var catchUp []Event
		if p.Version < current.Version {
			catchUp, err = tx.Range(ctx, p.Version, current.Version)
			if err != nil {
				return syncErrors.WrapStorage(err, syncErrors.OpRange, "store")
			}
		}

		accepted, err := tx.Append(ctx, p.Op, p.Key, p.Value)
		if err != nil {
			return syncErrors.WrapStorage(err, syncErrors.OpAppend, "store")
		}

		next, err := Apply(current, accepted)
		if err != nil {
			// Unreachable with strict id assignment; abort the whole
			// submission rather than committing a state we cannot replay.
			return syncErrors.NewReconciliationError(err)
		}

		if e.cadence > 0 && next.Version%e.cadence == 0 {
			if err := tx.Record(ctx, next); err != nil {
				return syncErrors.WrapStorage(err, syncErrors.OpCheckpoint, "store")
			}
		}

		res = &SubmitResult{Accepted: accepted, CatchUp: catchUp}
		return nil
	})
	if err != nil {
		e.logger.LogError(ctx, err, "submission aborted",
			slog.String("op", string(p.Op)),
			slog.String("key", p.Key),
			slog.Uint64("client_version", p.Version),
		)
		return nil, err
	}

	e.logger.DebugContext(ctx, "submission accepted",
		slog.Uint64("event_id", res.Accepted.ID),
		slog.String("op", string(res.Accepted.Op)),
		slog.Int("catch_up", len(res.CatchUp)),
	)
	return res, nil
}
