// Package memory provides an in-memory implementation of the docsync Store.
//
// It is intended for tests, demos and embedded single-process use; the
// sqlite package is the durable production store.
package memory

import (
	"context"
	stdSync "sync"

	docsync "github.com/c0deZ3R0/go-doc-sync"
)

// Store keeps the event log and snapshot records in process memory.
// Transactions are staged and only become visible on commit, so a failed
// submission leaves no trace, matching the durable store's semantics.
type Store struct {
	mu     stdSync.RWMutex
	events []docsync.Event
	snaps  []docsync.Snapshot
}

// Compile-time check that Store satisfies the docsync.Store interface
var _ docsync.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{}
}

// Append assigns the next id and records the event.
func (s *Store) Append(ctx context.Context, op docsync.Op, key, value string) (docsync.Event, error) {
	if err := ctx.Err(); err != nil {
		return docsync.Event{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ev := docsync.Event{ID: s.nextIDLocked(), Op: op, Key: key, Value: value}
	s.events = append(s.events, ev)
	return ev, nil
}

// Range returns events with low < id <= high ascending; high == 0 means no
// upper bound.
func (s *Store) Range(ctx context.Context, low, high uint64) ([]docsync.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return rangeEvents(s.events, low, high), nil
}

// Latest returns the most recently recorded snapshot, or nil when none
// exists.
func (s *Store) Latest(ctx context.Context) (*docsync.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return latestSnapshot(s.snaps), nil
}

// Record persists a checkpoint.
func (s *Store) Record(ctx context.Context, snap docsync.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps = append(s.snaps, snap.Clone())
	return nil
}

// WithinTx runs fn against a staged view of the store. Staged appends and
// checkpoints become visible only when fn returns nil.
func (s *Store) WithinTx(ctx context.Context, fn func(tx docsync.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{store: s}
	if err := fn(tx); err != nil {
		return err
	}

	s.events = append(s.events, tx.events...)
	s.snaps = append(s.snaps, tx.snaps...)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}

// Len returns the number of committed events. Useful in tests asserting that
// a rejected submission left the log untouched.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

func (s *Store) nextIDLocked() uint64 {
	var max uint64
	for _, ev := range s.events {
		if ev.ID > max {
			max = ev.ID
		}
	}
	return max + 1
}

// memTx stages writes made inside WithinTx. The outer store lock is held for
// the duration of the transaction, so no further locking is needed here.
type memTx struct {
	store  *Store
	events []docsync.Event
	snaps  []docsync.Snapshot
}

func (t *memTx) Append(ctx context.Context, op docsync.Op, key, value string) (docsync.Event, error) {
	if err := ctx.Err(); err != nil {
		return docsync.Event{}, err
	}
	id := t.store.nextIDLocked()
	for _, ev := range t.events {
		if ev.ID >= id {
			id = ev.ID + 1
		}
	}
	ev := docsync.Event{ID: id, Op: op, Key: key, Value: value}
	t.events = append(t.events, ev)
	return ev, nil
}

func (t *memTx) Range(ctx context.Context, low, high uint64) ([]docsync.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	all := make([]docsync.Event, 0, len(t.store.events)+len(t.events))
	all = append(all, t.store.events...)
	all = append(all, t.events...)
	return rangeEvents(all, low, high), nil
}

func (t *memTx) Latest(ctx context.Context) (*docsync.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if snap := latestSnapshot(t.snaps); snap != nil {
		return snap, nil
	}
	return latestSnapshot(t.store.snaps), nil
}

func (t *memTx) Record(ctx context.Context, snap docsync.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.snaps = append(t.snaps, snap.Clone())
	return nil
}

func rangeEvents(events []docsync.Event, low, high uint64) []docsync.Event {
	out := make([]docsync.Event, 0)
	for _, ev := range events {
		if ev.ID > low && (high == 0 || ev.ID <= high) {
			out = append(out, ev)
		}
	}
	return out
}

func latestSnapshot(snaps []docsync.Snapshot) *docsync.Snapshot {
	if len(snaps) == 0 {
		return nil
	}
	snap := snaps[len(snaps)-1].Clone()
	return &snap
}
