// Package docsync implements a versioned event log and optimistic
// synchronization engine for a single shared key-value document.
//
// Independent clients read and mutate the document concurrently without a
// central lock by exchanging ordered mutation events rather than full
// document copies. Every accepted mutation is assigned a strictly increasing
// version by the event log; a client that submits against a stale version
// receives the events it missed alongside its own accepted event, so a
// single round trip is enough to fast-forward.
package docsync

import (
	"context"
	"fmt"

	syncErrors "github.com/c0deZ3R0/go-doc-sync/errors"
)

// Document is a flat mapping of string keys to string values.
type Document map[string]string

// Clone returns an independent copy of the document.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Op is the kind of mutation carried by an event.
type Op string

const (
	OpUpsert Op = "UPSERT"
	OpDelete Op = "DELETE"
)

// Valid reports whether o is a known operation.
func (o Op) Valid() bool {
	switch o {
	case OpUpsert, OpDelete:
		return true
	}
	return false
}

// Event is an accepted, immutable, ordered mutation. IDs are assigned by the
// event log, strictly increasing from 1 with no gaps under single-writer
// operation. Value is only meaningful for UPSERT.
type Event struct {
	ID    uint64 `json:"id"`
	Op    Op     `json:"op"`
	Key   string `json:"key"`
	Value string `json:"value,omitempty"`
}

// Payload is a client-submitted mutation that has not been assigned an id.
// Version is the version the client believes is current. Value is always
// encoded: the server validates its presence for UPSERT, and an empty string
// is a legal value to set.
type Payload struct {
	Version uint64 `json:"version"`
	Op      Op     `json:"op"`
	Key     string `json:"key"`
	Value   string `json:"value"`
}

// Validate checks the payload shape. Invalid payloads are rejected before
// they reach the log.
func (p Payload) Validate() error {
	if !p.Op.Valid() {
		return syncErrors.NewValidationError(syncErrors.OpSubmit, fmt.Errorf("unknown op %q", p.Op))
	}
	if p.Key == "" {
		return syncErrors.NewValidationError(syncErrors.OpSubmit, fmt.Errorf("missing key for %s", p.Op))
	}
	return nil
}

// Snapshot is a document state together with the version it represents.
// Version 0 denotes the empty initial document.
type Snapshot struct {
	Version uint64   `json:"version"`
	Doc     Document `json:"doc"`
}

// EmptySnapshot returns the initial state: version 0, no keys.
func EmptySnapshot() Snapshot {
	return Snapshot{Version: 0, Doc: Document{}}
}

// Clone returns an independent copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	return Snapshot{Version: s.Version, Doc: s.Doc.Clone()}
}

// Apply folds one event into a snapshot and returns the advanced snapshot.
//
// The precondition ev.ID == s.Version+1 enforces strict sequential replay:
// gaps and duplicates are refused rather than guessed at. Deleting an absent
// key is a no-op. The input snapshot is never mutated, so callers may share
// snapshots across concurrent readers.
func Apply(s Snapshot, ev Event) (Snapshot, error) {
	if ev.ID != s.Version+1 {
		return Snapshot{}, syncErrors.NewOutOfOrderError(syncErrors.OpApply, s.Version, ev.ID)
	}

	doc := s.Doc.Clone()
	switch ev.Op {
	case OpUpsert:
		doc[ev.Key] = ev.Value
	case OpDelete:
		delete(doc, ev.Key)
	default:
		return Snapshot{}, syncErrors.NewValidationError(syncErrors.OpApply, fmt.Errorf("unknown op %q in event %d", ev.Op, ev.ID))
	}

	return Snapshot{Version: ev.ID, Doc: doc}, nil
}

// EventLog is the append-only, strictly ordered record of every accepted
// mutation. It is the sole source of truth for the document.
type EventLog interface {
	// Append atomically assigns the next id (previous max + 1) and durably
	// records the event. It never silently drops an event.
	Append(ctx context.Context, op Op, key, value string) (Event, error)

	// Range returns all events with low < id <= high, ascending by id.
	// high == 0 means no upper bound.
	Range(ctx context.Context, low, high uint64) ([]Event, error)
}

// SnapshotStore keeps periodic checkpoints of the document to bound replay
// cost. Records are a derived, rebuildable cache: they may be deleted and
// regenerated without loss as long as the full log is retained.
type SnapshotStore interface {
	// Latest returns the most recently recorded checkpoint, or nil when the
	// store is empty.
	Latest(ctx context.Context) (*Snapshot, error)

	// Record persists a checkpoint for the given snapshot.
	Record(ctx context.Context, snap Snapshot) error
}

// Tx is the view of a store inside a single transaction.
type Tx interface {
	EventLog
	SnapshotStore
}

// Store combines the event log and the snapshot store behind one
// transactional boundary.
type Store interface {
	EventLog
	SnapshotStore

	// WithinTx runs fn inside a single storage transaction. An error from fn
	// rolls the transaction back; nil commits it.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases the underlying storage resources.
	Close() error
}

// SubmitResult is the outcome of an accepted submission.
type SubmitResult struct {
	// Accepted is the newly assigned event for the submitted mutation.
	Accepted Event

	// CatchUp holds the events the client had never seen, ascending by id.
	// Empty when the client was current.
	CatchUp []Event
}

// Events returns the full ordered sequence the client must fold into its
// local snapshot to reach the new authoritative version: the catch-up set
// followed by the accepted event.
func (r *SubmitResult) Events() []Event {
	out := make([]Event, 0, len(r.CatchUp)+1)
	out = append(out, r.CatchUp...)
	out = append(out, r.Accepted)
	return out
}
