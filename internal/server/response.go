package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/me/portsched/pkg/model"
)

const (
	statusOK    = "ok"
	statusError = "error"
)

// newRequestID returns the ID echoed in X-Request-ID and the envelope.
func newRequestID() string {
	id := uuid.New()
	return "req_" + id.String()[:8]
}

func respondOK(w http.ResponseWriter, reqID string, data any) {
	writeEnvelope(w, http.StatusOK, model.Response{Status: statusOK, RequestID: reqID, Data: data})
}

// respondList is respondOK plus the page bounds of a run listing.
func respondList(w http.ResponseWriter, reqID string, data any, pg *model.Pagination) {
	writeEnvelope(w, http.StatusOK, model.Response{Status: statusOK, RequestID: reqID, Data: data, Pagination: pg})
}

// respondError writes an error envelope; data is always null.
func respondError(w http.ResponseWriter, reqID string, status int, apiErr *model.APIError) {
	writeEnvelope(w, status, model.Response{Status: statusError, RequestID: reqID, Error: apiErr})
}

func writeEnvelope(w http.ResponseWriter, status int, resp model.Response) {
	resp.Timestamp = time.Now().UTC()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
