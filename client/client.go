// Package client implements the polling sync client for the doc-sync server.
//
// A Client keeps a local snapshot of the shared document and advances it by
// folding ordered events received from the server: either by periodic
// polling or as part of a submission's catch-up response.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	stdSync "sync"
	"time"

	docsync "github.com/c0deZ3R0/go-doc-sync"
	"github.com/c0deZ3R0/go-doc-sync/logging"
)

// DefaultPollInterval is how often Run asks the server for new events.
const DefaultPollInterval = 2 * time.Second

// Client is a polling sync client. All methods are safe for concurrent use;
// operations that touch the local snapshot are serialized.
type Client struct {
	baseURL  string
	http     *http.Client
	interval time.Duration
	logger   *logging.Logger

	mu   stdSync.Mutex
	snap docsync.Snapshot
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithPollInterval sets the polling cadence used by Run.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) { c.interval = d }
}

// WithLogger sets the client logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client for the server at baseURL, starting from the empty
// initial snapshot.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:  baseURL,
		http:     http.DefaultClient,
		interval: DefaultPollInterval,
		logger:   logging.WithComponent(logging.Component("client")),
		snap:     docsync.EmptySnapshot(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Snapshot returns a copy of the client's local snapshot.
func (c *Client) Snapshot() docsync.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.Clone()
}

// Version returns the version of the client's local snapshot.
func (c *Client) Version() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.Version
}

// Bootstrap replaces the local snapshot with the server's current state.
func (c *Client) Bootstrap(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/state", nil)
	if err != nil {
		return err
	}

	var out struct {
		Status   string           `json:"status"`
		Message  string           `json:"message"`
		Snapshot docsync.Snapshot `json:"snapshot"`
	}
	if err := c.do(req, &out); err != nil {
		return err
	}
	if out.Snapshot.Doc == nil {
		out.Snapshot.Doc = docsync.Document{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap = out.Snapshot
	return nil
}

// Poll fetches events newer than the local version and folds them in.
// It returns the number of events applied.
func (c *Client) Poll(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	url := fmt.Sprintf("%s/events?since=%d", c.baseURL, c.snap.Version)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}

	var out struct {
		Status  string          `json:"status"`
		Message string          `json:"message"`
		Events  []docsync.Event `json:"events"`
	}
	if err := c.do(req, &out); err != nil {
		return 0, err
	}

	return c.foldLocked(out.Events)
}

// Submit sends a mutation tagged with the local version and folds the
// returned event sequence (catch-up plus the accepted event) into the local
// snapshot, bringing the client to the new authoritative version in one
// round trip.
func (c *Client) Submit(ctx context.Context, op docsync.Op, key, value string) (docsync.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	payload := docsync.Payload{
		Version: c.snap.Version,
		Op:      op,
		Key:     key,
		Value:   value,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return docsync.Snapshot{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/submit", bytes.NewReader(body))
	if err != nil {
		return docsync.Snapshot{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var out struct {
		Status  string          `json:"status"`
		Message string          `json:"message"`
		Events  []docsync.Event `json:"events"`
	}
	if err := c.do(req, &out); err != nil {
		return docsync.Snapshot{}, err
	}

	if _, err := c.foldLocked(out.Events); err != nil {
		return docsync.Snapshot{}, err
	}
	return c.snap.Clone(), nil
}

// Run polls at the configured interval until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			applied, err := c.Poll(ctx)
			if err != nil {
				c.logger.LogError(ctx, err, "poll failed")
				continue
			}
			if applied > 0 {
				c.logger.DebugContext(ctx, "applied events",
					slog.Int("count", applied),
					slog.Uint64("version", c.Version()),
				)
			}
		}
	}
}

// foldLocked applies events onto the local snapshot in order. The caller
// must hold c.mu.
func (c *Client) foldLocked(events []docsync.Event) (int, error) {
	applied := 0
	for _, ev := range events {
		next, err := docsync.Apply(c.snap, ev)
		if err != nil {
			return applied, fmt.Errorf("local replay failed at event %d: %w", ev.ID, err)
		}
		c.snap = next
		applied++
	}
	return applied, nil
}

// do executes the request and decodes the response envelope, translating
// {status: error} responses into errors.
func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("malformed server response (%d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK {
		var envelope struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(body, &envelope)
		if envelope.Message != "" {
			return fmt.Errorf("server rejected request: %s", envelope.Message)
		}
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	return nil
}
