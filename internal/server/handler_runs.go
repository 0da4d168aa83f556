package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/me/portsched/pkg/model"
)

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	if !s.requireStore(w, reqID) {
		return
	}

	opts, apiErr := listOptionsFromQuery(r)
	if apiErr != nil {
		respondError(w, reqID, http.StatusBadRequest, apiErr)
		return
	}

	runs, total, err := s.store.ListRuns(r.Context(), opts)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err))
		return
	}
	if runs == nil {
		runs = []*model.Run{}
	}
	respondList(w, reqID, runs, model.NewPagination(total, opts))
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	if !s.requireStore(w, reqID) {
		return
	}
	id := chi.URLParam(r, "id")

	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err))
		return
	}
	if run == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("run", id))
		return
	}
	respondOK(w, reqID, run)
}

func (s *Server) handleListGrants(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	if !s.requireStore(w, reqID) {
		return
	}
	id := chi.URLParam(r, "id")

	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err))
		return
	}
	if run == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("run", id))
		return
	}

	grants, err := s.store.ListGrants(r.Context(), id)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err))
		return
	}
	if grants == nil {
		grants = []model.Grant{}
	}
	respondOK(w, reqID, grants)
}

func (s *Server) requireStore(w http.ResponseWriter, reqID string) bool {
	if s.store != nil {
		return true
	}
	respondError(w, reqID, http.StatusServiceUnavailable,
		&model.APIError{Code: model.ErrUnavailable, Message: "no trace store configured"})
	return false
}

func listOptionsFromQuery(r *http.Request) (model.ListOptions, *model.APIError) {
	opts := model.DefaultListOptions()
	q := r.URL.Query()
	opts.Name = q.Get("scenario")

	var details []model.FieldError
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			details = append(details, model.FieldError{Field: "limit", Message: "must be an integer"})
		}
		opts.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			details = append(details, model.FieldError{Field: "offset", Message: "must be a non-negative integer"})
		}
		opts.Offset = n
	}
	if len(details) > 0 {
		return opts, model.NewValidationError("invalid query parameters", details...)
	}
	opts.Clamp()
	return opts, nil
}
