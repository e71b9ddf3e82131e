package httpsync

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	docsync "github.com/c0deZ3R0/go-doc-sync"
	"github.com/c0deZ3R0/go-doc-sync/storage/memory"
)

func setupServer(t *testing.T) (*httptest.Server, *memory.Store) {
	t.Helper()
	store := memory.New()
	handler := NewHandler(docsync.NewEngine(store))
	server := httptest.NewServer(handler.Routes())
	t.Cleanup(server.Close)
	return server, store
}

func postSubmit(t *testing.T, server *httptest.Server, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(server.URL+"/submit", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("submit request failed: %v", err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("reading response failed: %v", err)
	}
	return resp, buf.Bytes()
}

func TestSubmitFirstEvent(t *testing.T) {
	server, _ := setupServer(t)

	resp, body := postSubmit(t, server, `{"version":0,"op":"UPSERT","key":"k","value":"v1"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}

	var out struct {
		Status string          `json:"status"`
		Events []docsync.Event `json:"events"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if out.Status != "success" {
		t.Errorf("expected success status, got %q", out.Status)
	}
	if len(out.Events) != 1 || out.Events[0].ID != 1 {
		t.Errorf("expected exactly the accepted event id=1, got %v", out.Events)
	}
}

func TestSubmitEmptyValueAccepted(t *testing.T) {
	server, _ := setupServer(t)

	// An explicit empty string is present, distinct from a missing value.
	resp, body := postSubmit(t, server, `{"version":0,"op":"UPSERT","key":"k","value":""}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}

	var out struct {
		Status string          `json:"status"`
		Events []docsync.Event `json:"events"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if out.Status != "success" {
		t.Errorf("expected success status, got %q", out.Status)
	}
	if len(out.Events) != 1 || out.Events[0].Value != "" || out.Events[0].Key != "k" {
		t.Errorf("expected accepted event with empty value, got %v", out.Events)
	}
}

func TestSubmitStaleClientReceivesCatchUp(t *testing.T) {
	server, _ := setupServer(t)

	postSubmit(t, server, `{"version":0,"op":"UPSERT","key":"k","value":"v1"}`)
	resp, body := postSubmit(t, server, `{"version":0,"op":"UPSERT","key":"k","value":"v2"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}

	var out struct {
		Status string          `json:"status"`
		Events []docsync.Event `json:"events"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if len(out.Events) != 2 || out.Events[0].ID != 1 || out.Events[1].ID != 2 {
		t.Fatalf("expected ordered events [1 2], got %v", out.Events)
	}
	if out.Events[1].Value != "v2" {
		t.Errorf("accepted event should carry the submitted value, got %q", out.Events[1].Value)
	}
}

func TestSubmitValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing key for delete", `{"version":0,"op":"DELETE"}`},
		{"missing value for upsert", `{"version":0,"op":"UPSERT","key":"k"}`},
		{"missing version", `{"op":"UPSERT","key":"k","value":"v"}`},
		{"negative version", `{"version":-1,"op":"UPSERT","key":"k","value":"v"}`},
		{"unknown op", `{"version":0,"op":"MERGE","key":"k","value":"v"}`},
		{"missing op", `{"version":0,"key":"k","value":"v"}`},
		{"malformed json", `{"version":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, store := setupServer(t)

			resp, body := postSubmit(t, server, tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %s", resp.StatusCode, body)
			}

			var out struct {
				Status  string `json:"status"`
				Message string `json:"message"`
			}
			if err := json.Unmarshal(body, &out); err != nil {
				t.Fatalf("invalid error response: %v", err)
			}
			if out.Status != "error" || out.Message == "" {
				t.Errorf("expected error envelope with message, got %s", body)
			}
			if store.Len() != 0 {
				t.Errorf("rejected submission must not touch the log, got %d events", store.Len())
			}
		})
	}
}

func TestGetState(t *testing.T) {
	server, _ := setupServer(t)

	postSubmit(t, server, `{"version":0,"op":"UPSERT","key":"k","value":"v1"}`)

	resp, err := http.Get(server.URL + "/state")
	if err != nil {
		t.Fatalf("state request failed: %v", err)
	}
	defer resp.Body.Close()

	var out struct {
		Status   string           `json:"status"`
		Snapshot docsync.Snapshot `json:"snapshot"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if out.Status != "success" {
		t.Errorf("expected success status, got %q", out.Status)
	}
	if out.Snapshot.Version != 1 || out.Snapshot.Doc["k"] != "v1" {
		t.Errorf("unexpected snapshot: %+v", out.Snapshot)
	}
}

func TestGetStateEmptyStore(t *testing.T) {
	server, _ := setupServer(t)

	resp, err := http.Get(server.URL + "/state")
	if err != nil {
		t.Fatalf("state request failed: %v", err)
	}
	defer resp.Body.Close()

	var out struct {
		Snapshot docsync.Snapshot `json:"snapshot"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if out.Snapshot.Version != 0 {
		t.Errorf("expected the empty initial snapshot, got %+v", out.Snapshot)
	}
}

func TestGetEvents(t *testing.T) {
	server, _ := setupServer(t)

	postSubmit(t, server, `{"version":0,"op":"UPSERT","key":"a","value":"1"}`)
	postSubmit(t, server, `{"version":1,"op":"UPSERT","key":"b","value":"2"}`)

	resp, err := http.Get(server.URL + "/events?since=1")
	if err != nil {
		t.Fatalf("events request failed: %v", err)
	}
	defer resp.Body.Close()

	var out struct {
		Status string          `json:"status"`
		Events []docsync.Event `json:"events"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if len(out.Events) != 1 || out.Events[0].ID != 2 {
		t.Errorf("expected only event 2, got %v", out.Events)
	}
}

func TestGetEventsEmptyIsSuccessWithEmptyArray(t *testing.T) {
	server, _ := setupServer(t)

	resp, err := http.Get(server.URL + "/events?since=100")
	if err != nil {
		t.Fatalf("events request failed: %v", err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	body := buf.String()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(body, `"events":[]`) {
		t.Errorf("expected an empty array, not null: %s", body)
	}
}

func TestGetEventsBadSince(t *testing.T) {
	server, _ := setupServer(t)

	resp, err := http.Get(server.URL + "/events?since=abc")
	if err != nil {
		t.Fatalf("events request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid since, got %d", resp.StatusCode)
	}
}

func TestWebsocketFeedReceivesAcceptedEvents(t *testing.T) {
	handler := NewHandler(docsync.NewEngine(memory.New()))
	server := httptest.NewServer(handler.Routes())
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer conn.Close()

	// Wait for the server side to register the connection.
	deadline := time.Now().Add(5 * time.Second)
	for handler.feed.Count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("connection never registered on the feed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	postSubmit(t, server, `{"version":0,"op":"UPSERT","key":"k","value":"v1"}`)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev docsync.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("reading feed failed: %v", err)
	}
	if ev.ID != 1 || ev.Key != "k" || ev.Value != "v1" {
		t.Errorf("unexpected event on feed: %+v", ev)
	}
}
