// Package httpsync is the HTTP shell around the docsync engine.
//
// It deserializes requests, calls into the engine, and serializes responses
// in a {status, ...} envelope. All reconciliation semantics live in the
// engine; the shell only translates.
package httpsync

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	docsync "github.com/c0deZ3R0/go-doc-sync"
	syncErrors "github.com/c0deZ3R0/go-doc-sync/errors"
	"github.com/c0deZ3R0/go-doc-sync/logging"
)

// maxSubmitBody bounds the size of a submit request body.
const maxSubmitBody = 1 << 20 // 1MB

// Handler serves the sync API.
type Handler struct {
	engine *docsync.Engine
	feed   *Feed
	logger *logging.Logger
}

// NewHandler creates a handler around the given engine.
func NewHandler(engine *docsync.Engine) *Handler {
	return &Handler{
		engine: engine,
		feed:   NewFeed(),
		logger: logging.WithComponent(logging.Component("transport/httpsync")),
	}
}

// Routes returns the chi router for the sync API.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/health", h.handleHealth)
	r.Get("/state", h.handleState)
	r.Get("/events", h.handleEvents)
	r.Post("/submit", h.handleSubmit)
	r.Get("/ws", h.feed.HandleWS)

	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	snap, err := h.engine.CurrentState(r.Context())
	if err != nil {
		h.respondWithCoreError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, stateResponse{Status: statusSuccess, Snapshot: snap})
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	since := uint64(0)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, fmt.Sprintf("invalid since parameter %q", raw))
			return
		}
		since = parsed
	}

	events, err := h.engine.EventsSince(r.Context(), since)
	if err != nil {
		h.respondWithCoreError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, eventsResponse{Status: statusSuccess, Events: events})
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	body := http.MaxBytesReader(w, r.Body, maxSubmitBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("malformed request body: %v", err))
		return
	}

	payload, err := req.toPayload()
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.engine.Submit(r.Context(), payload)
	if err != nil {
		h.respondWithCoreError(w, r, err)
		return
	}

	h.feed.Broadcast(res.Accepted)
	respondWithJSON(w, http.StatusOK, eventsResponse{Status: statusSuccess, Events: res.Events()})
}

// toPayload validates field presence and converts the wire request into an
// engine payload.
func (r submitRequest) toPayload() (docsync.Payload, error) {
	if r.Version == nil {
		return docsync.Payload{}, fmt.Errorf("missing version")
	}
	if *r.Version < 0 {
		return docsync.Payload{}, fmt.Errorf("version must be non-negative, got %d", *r.Version)
	}
	if r.Op == nil {
		return docsync.Payload{}, fmt.Errorf("missing op")
	}
	if r.Key == nil {
		return docsync.Payload{}, fmt.Errorf("missing key for %s", *r.Op)
	}

	op := docsync.Op(*r.Op)
	payload := docsync.Payload{
		Version: uint64(*r.Version),
		Op:      op,
		Key:     *r.Key,
	}
	if op == docsync.OpUpsert {
		if r.Value == nil {
			return docsync.Payload{}, fmt.Errorf("missing value for UPSERT")
		}
		payload.Value = *r.Value
	}
	return payload, nil
}

// respondWithCoreError translates typed core errors into HTTP responses.
func (h *Handler) respondWithCoreError(w http.ResponseWriter, r *http.Request, err error) {
	if syncErrors.IsValidation(err) {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.logger.LogError(r.Context(), err, "request failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	)
	respondWithError(w, http.StatusInternalServerError, err.Error())
}
