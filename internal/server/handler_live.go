package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/me/portsched/pkg/model"
)

const liveSnapshotTimeout = 2 * time.Second

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	if s.live == nil {
		respondError(w, reqID, http.StatusServiceUnavailable,
			&model.APIError{Code: model.ErrUnavailable, Message: "no scheduler is running"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), liveSnapshotTimeout)
	defer cancel()
	snap, err := s.live.Snapshot(ctx)
	if err != nil {
		respondError(w, reqID, http.StatusServiceUnavailable,
			&model.APIError{Code: model.ErrUnavailable, Message: err.Error()})
		return
	}
	respondOK(w, reqID, snap)
}

// handleLiveStream pushes a snapshot every streamInterval via Server-Sent
// Events until the scheduler stops or the client goes away.
// GET /api/v1/live/stream
func (s *Server) handleLiveStream(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	if s.live == nil {
		respondError(w, reqID, http.StatusServiceUnavailable,
			&model.APIError{Code: model.ErrUnavailable, Message: "no scheduler is running"})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	event := "init"
	ticker := time.NewTicker(s.streamInterval)
	defer ticker.Stop()

	for {
		ctx, cancel := context.WithTimeout(r.Context(), liveSnapshotTimeout)
		snap, err := s.live.Snapshot(ctx)
		cancel()
		if err != nil {
			sendSSEEvent(w, flusher, "complete", map[string]string{"reason": err.Error()})
			return
		}
		if err := sendSSEEvent(w, flusher, event, snap); err != nil {
			s.logger.Debug("sse client disconnected", "error", err)
			return
		}
		event = "update"

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData)
	if err != nil {
		return err
	}

	flusher.Flush()
	return nil
}
