package client

import (
	"context"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	docsync "github.com/c0deZ3R0/go-doc-sync"
	"github.com/c0deZ3R0/go-doc-sync/storage/memory"
	"github.com/c0deZ3R0/go-doc-sync/transport/httpsync"
)

func setupServer(t *testing.T) (*httptest.Server, *docsync.Engine) {
	t.Helper()
	engine := docsync.NewEngine(memory.New())
	server := httptest.NewServer(httpsync.NewHandler(engine).Routes())
	t.Cleanup(server.Close)
	return server, engine
}

func TestSubmitAdvancesLocalSnapshot(t *testing.T) {
	server, _ := setupServer(t)
	ctx := context.Background()

	c := New(server.URL)
	snap, err := c.Submit(ctx, docsync.OpUpsert, "k", "v1")
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if snap.Version != 1 || snap.Doc["k"] != "v1" {
		t.Errorf("unexpected snapshot after submit: %+v", snap)
	}
}

func TestSubmitEmptyStringValue(t *testing.T) {
	server, engine := setupServer(t)
	ctx := context.Background()

	c := New(server.URL)
	if _, err := c.Submit(ctx, docsync.OpUpsert, "k", "v1"); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	// Clearing a key to the empty string is a legal write; the value must
	// survive the wire encoding rather than being dropped as absent.
	snap, err := c.Submit(ctx, docsync.OpUpsert, "k", "")
	if err != nil {
		t.Fatalf("empty-value submit failed: %v", err)
	}
	if v, ok := snap.Doc["k"]; !ok || v != "" {
		t.Errorf("expected k present with empty value, got %+v", snap.Doc)
	}

	serverState, err := engine.CurrentState(ctx)
	if err != nil {
		t.Fatalf("server state failed: %v", err)
	}
	if !reflect.DeepEqual(snap.Doc, serverState.Doc) {
		t.Errorf("client diverged from server: %v != %v", snap.Doc, serverState.Doc)
	}
}

func TestStaleClientConvergesWithServer(t *testing.T) {
	server, engine := setupServer(t)
	ctx := context.Background()

	clientA := New(server.URL)
	clientB := New(server.URL)

	if _, err := clientA.Submit(ctx, docsync.OpUpsert, "k", "v1"); err != nil {
		t.Fatalf("client A submit failed: %v", err)
	}

	// B is still at version 0; its submission reconciles against the current
	// state and the catch-up folds it forward.
	snapB, err := clientB.Submit(ctx, docsync.OpUpsert, "k", "v2")
	if err != nil {
		t.Fatalf("client B submit failed: %v", err)
	}
	if snapB.Version != 2 {
		t.Errorf("expected B at version 2, got %d", snapB.Version)
	}

	serverState, err := engine.CurrentState(ctx)
	if err != nil {
		t.Fatalf("server state failed: %v", err)
	}
	if !reflect.DeepEqual(snapB.Doc, serverState.Doc) {
		t.Errorf("client B diverged from server: %v != %v", snapB.Doc, serverState.Doc)
	}
	if serverState.Doc["k"] != "v2" {
		t.Errorf("expected last write to win, got %q", serverState.Doc["k"])
	}
}

func TestPollAppliesMissedEvents(t *testing.T) {
	server, _ := setupServer(t)
	ctx := context.Background()

	writer := New(server.URL)
	reader := New(server.URL)

	if _, err := writer.Submit(ctx, docsync.OpUpsert, "a", "1"); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if _, err := writer.Submit(ctx, docsync.OpUpsert, "b", "2"); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	applied, err := reader.Poll(ctx)
	if err != nil {
		t.Fatalf("poll failed: %v", err)
	}
	if applied != 2 {
		t.Errorf("expected 2 applied events, got %d", applied)
	}
	if snap := reader.Snapshot(); snap.Version != 2 || snap.Doc["a"] != "1" || snap.Doc["b"] != "2" {
		t.Errorf("unexpected reader snapshot: %+v", snap)
	}

	// Nothing new on a second poll.
	applied, err = reader.Poll(ctx)
	if err != nil {
		t.Fatalf("second poll failed: %v", err)
	}
	if applied != 0 {
		t.Errorf("expected no events on second poll, got %d", applied)
	}
}

func TestBootstrap(t *testing.T) {
	server, _ := setupServer(t)
	ctx := context.Background()

	writer := New(server.URL)
	for _, kv := range [][2]string{{"a", "1"}, {"b", "2"}, {"c", "3"}} {
		if _, err := writer.Submit(ctx, docsync.OpUpsert, kv[0], kv[1]); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
	}

	late := New(server.URL)
	if err := late.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}
	if snap := late.Snapshot(); snap.Version != 3 || len(snap.Doc) != 3 {
		t.Errorf("unexpected snapshot after bootstrap: %+v", snap)
	}
}

func TestServerRejectionSurfacesMessage(t *testing.T) {
	server, _ := setupServer(t)
	ctx := context.Background()

	c := New(server.URL)
	_, err := c.Submit(ctx, docsync.Op("MERGE"), "k", "v")
	if err == nil {
		t.Fatal("expected an error for a rejected submission")
	}
	if !strings.Contains(err.Error(), "server rejected request") {
		t.Errorf("expected the server message to surface, got %v", err)
	}
	if c.Version() != 0 {
		t.Errorf("local snapshot must not advance on rejection, got version %d", c.Version())
	}
}

func TestRunPollsUntilCancelled(t *testing.T) {
	server, _ := setupServer(t)

	writer := New(server.URL)
	if _, err := writer.Submit(context.Background(), docsync.OpUpsert, "k", "v"); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	reader := New(server.URL, WithPollInterval(10*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- reader.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for reader.Version() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("reader never caught up")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}
