package httpserver

import (
	"errors"
	"net/http"
	"strconv"
)

const (
	defaultUsageLimit = 50
	maxUsageLimit     = 500
)

func (s *Server) handleUsageSummary(w http.ResponseWriter, r *http.Request) {
	if s.usage == nil {
		s.respondError(w, http.StatusNotImplemented, errors.New("usage tracking disabled"))
		return
	}
	info := sessionFromContext(r.Context())
	summaries, err := s.usage.Summary(r.Context(), info.user.UID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"summary": summaries})
}

func (s *Server) handleUsageLogs(w http.ResponseWriter, r *http.Request) {
	if s.usage == nil {
		s.respondError(w, http.StatusNotImplemented, errors.New("usage tracking disabled"))
		return
	}
	info := sessionFromContext(r.Context())
	limit := defaultUsageLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > maxUsageLimit {
			s.respondError(w, http.StatusBadRequest, errors.New("limit must be between 1 and 500"))
			return
		}
		limit = parsed
	}
	entries, err := s.usage.ListRecent(r.Context(), info.user.UID, limit)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"logs": entries})
}
