// Package sqlite provides the durable SQLite implementation of the docsync Store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	stdSync "sync"
	"time"

	docsync "github.com/c0deZ3R0/go-doc-sync"
	syncErrors "github.com/c0deZ3R0/go-doc-sync/errors"
	"github.com/c0deZ3R0/go-doc-sync/logging"

	// Go SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

// Custom errors for better error handling
var (
	ErrStoreClosed = errors.New("store is closed")
)

// Config holds configuration options for the Store.
//
// Production-ready defaults are applied by DefaultConfig() including:
//   - WAL mode enabled for better concurrency
//   - Connection pool with 25 max open, 5 max idle connections
//   - Connection lifetimes of 1 hour max, 5 minutes max idle
type Config struct {
	// DataSourceName is the connection string for the SQLite database.
	// Example: "file:docsync.db?_journal_mode=WAL"
	DataSourceName string

	// EnableWAL enables Write-Ahead Logging mode for better concurrency.
	// When true, automatically appends "?_journal_mode=WAL" to DataSourceName.
	EnableWAL bool

	// Connection pool settings for production workloads.
	// Defaults: MaxOpen=25, MaxIdle=5, Lifetime=1h, IdleTime=5m
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// setDefaults applies default values to the config
func (c *Config) setDefaults() {
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 5 * time.Minute
	}
	if c.EnableWAL {
		if !strings.Contains(c.DataSourceName, "_journal_mode=") {
			c.DataSourceName += "?_journal_mode=WAL"
		}
	}
}

// DefaultConfig returns a Config with production-ready defaults for SQLite.
func DefaultConfig(dataSourceName string) *Config {
	config := &Config{
		DataSourceName: dataSourceName,
		EnableWAL:      true,
	}
	config.setDefaults()
	return config
}

// NewWithDataSource is a convenience constructor
func NewWithDataSource(dataSourceName string) (*Store, error) {
	return New(DefaultConfig(dataSourceName))
}

// Store implements the docsync.Store interface on SQLite. Events live in an
// append-only table keyed by id; snapshot records are a derived table and
// may be dropped and rebuilt from the log at any time.
type Store struct {
	db     *sql.DB
	mu     stdSync.RWMutex
	closed bool
	logger *logging.Logger
}

// Compile-time check that Store satisfies the docsync.Store interface
var _ docsync.Store = (*Store)(nil)

// New creates a new Store from a Config.
func New(config *Config) (*Store, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	config.setDefaults()

	if config.DataSourceName == "" {
		return nil, fmt.Errorf("DataSourceName is required")
	}

	logger := logging.WithComponent(logging.Component("storage/sqlite"))
	logger.InfoContext(context.Background(), "opening SQLite database",
		slog.String("data_source", config.DataSourceName),
		slog.Bool("wal_enabled", config.EnableWAL),
	)

	db, err := sql.Open("sqlite3", config.DataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to sqlite database: %w", err)
	}

	store := &Store{
		db:     db,
		logger: logger,
	}

	if err := store.setupSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to setup database schema: %w", err)
	}

	return store, nil
}

// setupSchema creates the event and snapshot tables if they don't exist.
func (s *Store) setupSchema() error {
	query := `
    CREATE TABLE IF NOT EXISTS events (
        id          INTEGER PRIMARY KEY,
        op          TEXT NOT NULL,
        key         TEXT NOT NULL,
        value       TEXT NOT NULL DEFAULT '',
        created_at  TIMESTAMP DEFAULT CURRENT_TIMESTAMP
    );
    CREATE TABLE IF NOT EXISTS snapshots (
        id          INTEGER PRIMARY KEY AUTOINCREMENT,
        event_id    INTEGER NOT NULL,
        state       TEXT NOT NULL,
        created_at  TIMESTAMP DEFAULT CURRENT_TIMESTAMP
    );
    CREATE INDEX IF NOT EXISTS idx_snapshots_event_id ON snapshots (event_id);
    `
	_, err := s.db.Exec(query)
	return err
}

// querier is satisfied by both *sql.DB and *sql.Tx so the query helpers can
// serve direct reads and transactional access alike.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Append assigns id = previous max + 1 and durably records the event.
func (s *Store) Append(ctx context.Context, op docsync.Op, key, value string) (docsync.Event, error) {
	if err := s.checkOpen(); err != nil {
		return docsync.Event{}, err
	}

	var ev docsync.Event
	err := s.WithinTx(ctx, func(tx docsync.Tx) error {
		var err error
		ev, err = tx.Append(ctx, op, key, value)
		return err
	})
	return ev, err
}

// Range returns events with low < id <= high, ascending by id. high == 0
// means no upper bound.
func (s *Store) Range(ctx context.Context, low, high uint64) ([]docsync.Event, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return rangeEvents(ctx, s.db, low, high)
}

// Latest returns the most recently recorded snapshot, or nil when none exists.
func (s *Store) Latest(ctx context.Context) (*docsync.Snapshot, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return latestSnapshot(ctx, s.db)
}

// Record persists a checkpoint for the given snapshot.
func (s *Store) Record(ctx context.Context, snap docsync.Snapshot) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return recordSnapshot(ctx, s.db, snap)
}

// WithinTx runs fn inside a single SQLite transaction. An error from fn
// rolls the transaction back.
func (s *Store) WithinTx(ctx context.Context, fn func(tx docsync.Tx) error) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	// Check for context cancellation before starting
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return syncErrors.WrapStorage(err, syncErrors.OpAppend, "storage/sqlite")
	}

	if err := fn(&sqliteTx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.LogError(ctx, rbErr, "transaction rollback failed")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return syncErrors.WrapStorage(err, syncErrors.OpAppend, "storage/sqlite")
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// sqliteTx adapts a *sql.Tx to the docsync.Tx interface.
type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) Append(ctx context.Context, op docsync.Op, key, value string) (docsync.Event, error) {
	var next uint64
	row := t.tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) + 1 FROM events`)
	if err := row.Scan(&next); err != nil {
		return docsync.Event{}, syncErrors.WrapStorage(err, syncErrors.OpAppend, "storage/sqlite")
	}

	query := `INSERT INTO events (id, op, key, value) VALUES (?, ?, ?, ?)`
	if _, err := t.tx.ExecContext(ctx, query, int64(next), string(op), key, value); err != nil {
		return docsync.Event{}, syncErrors.WrapStorage(err, syncErrors.OpAppend, "storage/sqlite")
	}

	return docsync.Event{ID: next, Op: op, Key: key, Value: value}, nil
}

func (t *sqliteTx) Range(ctx context.Context, low, high uint64) ([]docsync.Event, error) {
	return rangeEvents(ctx, t.tx, low, high)
}

func (t *sqliteTx) Latest(ctx context.Context) (*docsync.Snapshot, error) {
	return latestSnapshot(ctx, t.tx)
}

func (t *sqliteTx) Record(ctx context.Context, snap docsync.Snapshot) error {
	return recordSnapshot(ctx, t.tx, snap)
}

func rangeEvents(ctx context.Context, q querier, low, high uint64) ([]docsync.Event, error) {
	query := `SELECT id, op, key, value FROM events WHERE id > ? ORDER BY id ASC`
	args := []any{int64(low)}
	if high > 0 {
		query = `SELECT id, op, key, value FROM events WHERE id > ? AND id <= ? ORDER BY id ASC`
		args = append(args, int64(high))
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, syncErrors.WrapStorage(err, syncErrors.OpRange, "storage/sqlite")
	}
	defer rows.Close()

	events := make([]docsync.Event, 0)
	for rows.Next() {
		var (
			id    int64
			op    string
			event docsync.Event
		)
		if err := rows.Scan(&id, &op, &event.Key, &event.Value); err != nil {
			return nil, syncErrors.WrapStorage(err, syncErrors.OpRange, "storage/sqlite")
		}
		event.ID = uint64(id)
		event.Op = docsync.Op(op)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, syncErrors.WrapStorage(err, syncErrors.OpRange, "storage/sqlite")
	}
	return events, nil
}

func latestSnapshot(ctx context.Context, q querier) (*docsync.Snapshot, error) {
	var (
		eventID int64
		state   string
	)
	row := q.QueryRowContext(ctx, `SELECT event_id, state FROM snapshots ORDER BY id DESC LIMIT 1`)
	if err := row.Scan(&eventID, &state); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, syncErrors.WrapStorage(err, syncErrors.OpLatest, "storage/sqlite")
	}

	var doc docsync.Document
	if err := json.Unmarshal([]byte(state), &doc); err != nil {
		return nil, syncErrors.WrapStorage(fmt.Errorf("corrupt snapshot state at event %d: %w", eventID, err), syncErrors.OpLatest, "storage/sqlite")
	}
	if doc == nil {
		doc = docsync.Document{}
	}

	return &docsync.Snapshot{Version: uint64(eventID), Doc: doc}, nil
}

func recordSnapshot(ctx context.Context, q querier, snap docsync.Snapshot) error {
	state, err := json.Marshal(snap.Doc)
	if err != nil {
		return syncErrors.WrapStorage(err, syncErrors.OpCheckpoint, "storage/sqlite")
	}

	query := `INSERT INTO snapshots (event_id, state) VALUES (?, ?)`
	if _, err := q.ExecContext(ctx, query, int64(snap.Version), string(state)); err != nil {
		return syncErrors.WrapStorage(err, syncErrors.OpCheckpoint, "storage/sqlite")
	}
	return nil
}
