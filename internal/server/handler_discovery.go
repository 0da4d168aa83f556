package server

import "net/http"

type endpointInfo struct {
	Path        string   `json:"path"`
	Methods     []string `json:"methods"`
	Description string   `json:"description"`
}

type discoveryResponse struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Description string         `json:"description"`
	Endpoints   []endpointInfo `json:"endpoints"`
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, discoveryResponse{
		Name:        "portsched API",
		Version:     "v1",
		Description: "Round-robin modem port scheduler: stored simulator traces and live scheduler state",
		Endpoints: []endpointInfo{
			{"/api/v1/runs", []string{"GET"}, "Stored simulator runs, newest first. Accepts ?scenario=, ?limit=, ?offset="},
			{"/api/v1/runs/{id}", []string{"GET"}, "Single run summary with per-source tallies"},
			{"/api/v1/runs/{id}/grants", []string{"GET"}, "Ordered grant trace of a run"},
			{"/api/v1/live", []string{"GET"}, "Snapshot of the running scheduler"},
			{"/api/v1/live/stream", []string{"GET"}, "Server-Sent Events stream of live snapshots"},
			{"/api/v1/health", []string{"GET"}, "Server health and version"},
		},
	})
}
