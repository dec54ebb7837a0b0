package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/link-validator/internal/links"
	"github.com/JakeFAU/link-validator/internal/service"
)

const defaultPageSize = 100

type linkRequest struct {
	URL       string  `json:"url"`
	ProjectID *string `json:"projectId"`
	Name      *string `json:"name"`
}

func (req linkRequest) input() service.Input {
	return service.Input{URL: req.URL, ProjectID: req.ProjectID, Name: req.Name}
}

func decodeLinkRequest(r *http.Request) (linkRequest, error) {
	var req linkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return linkRequest{}, fmt.Errorf("decode body: %w", err)
	}
	return req, nil
}

func (s *Server) createLink(w http.ResponseWriter, r *http.Request) {
	req, err := decodeLinkRequest(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	link, err := s.svc.Submit(r.Context(), req.input())
	if err != nil {
		s.writeServiceError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusAccepted, link)
}

func (s *Server) listLinks(w http.ResponseWriter, r *http.Request) {
	filter, err := s.parseListFilter(r)
	if err != nil {
		s.writeServiceError(w, r, err, "")
		return
	}
	out, err := s.svc.List(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, r, err, "")
		return
	}
	if out == nil {
		out = []links.Link{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) linkStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.svc.CountByStatus(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (s *Server) getLink(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	link, err := s.svc.Get(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err, id)
		return
	}
	writeJSON(w, http.StatusOK, link)
}

func (s *Server) updateLink(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	req, err := decodeLinkRequest(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	link, err := s.svc.Amend(r.Context(), id, req.input())
	if err != nil {
		s.writeServiceError(w, r, err, id)
		return
	}
	writeJSON(w, http.StatusOK, link)
}

func (s *Server) deleteLink(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.svc.Remove(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err, id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteAllLinks(w http.ResponseWriter, r *http.Request) {
	n, err := s.svc.RemoveAll(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err, "")
		return
	}
	s.logger.Warn("bulk delete via API", zap.Int64("count", n), zap.String("request_id", requestID(r.Context())))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) parseListFilter(r *http.Request) (links.ListFilter, error) {
	q := r.URL.Query()
	filter := links.ListFilter{
		ProjectID: q.Get("projectId"),
		Limit:     defaultPageSize,
	}
	if raw := q.Get("status"); raw != "" {
		st, err := links.ParseStatus(raw)
		if err != nil {
			return links.ListFilter{}, &links.ValidationError{Field: "status", Reason: "must be PENDING, VALIDATED or BROKEN"}
		}
		filter.Status = st
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return links.ListFilter{}, &links.ValidationError{Field: "limit", Reason: "must be a positive integer"}
		}
		filter.Limit = n
	}
	if maxSize := s.cfg.API.MaxPageSize; maxSize > 0 && filter.Limit > maxSize {
		filter.Limit = maxSize
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return links.ListFilter{}, &links.ValidationError{Field: "offset", Reason: "must be a non-negative integer"}
		}
		filter.Offset = n
	}
	return filter, nil
}

// writeServiceError maps service errors onto HTTP statuses. Unexpected
// errors are logged and reported without detail.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error, id string) {
	var verr *links.ValidationError
	switch {
	case errors.As(err, &verr):
		s.writeError(w, http.StatusBadRequest, verr.Field+": "+verr.Reason)
	case errors.Is(err, links.ErrInvalid):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, links.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "link not found with id "+id)
	case errors.Is(err, service.ErrDeleteAllDisabled):
		s.writeError(w, http.StatusForbidden, err.Error())
	default:
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestID(r.Context())),
			zap.Error(err),
		)
		s.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}
