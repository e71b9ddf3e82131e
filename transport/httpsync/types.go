package httpsync

import (
	"encoding/json"
	"net/http"

	docsync "github.com/c0deZ3R0/go-doc-sync"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// stateResponse is the envelope for GET /state.
type stateResponse struct {
	Status   string           `json:"status"`
	Snapshot docsync.Snapshot `json:"snapshot"`
}

// eventsResponse is the envelope for GET /events and POST /submit.
type eventsResponse struct {
	Status string          `json:"status"`
	Events []docsync.Event `json:"events"`
}

// errorResponse is the envelope for any failed request.
type errorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// submitRequest mirrors docsync.Payload on the wire. Pointer fields
// distinguish absent fields from zero values so presence can be validated
// before the payload reaches the engine.
type submitRequest struct {
	Version *int64  `json:"version"`
	Op      *string `json:"op"`
	Key     *string `json:"key"`
	Value   *string `json:"value"`
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, errorResponse{Status: statusError, Message: message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
