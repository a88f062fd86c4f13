package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/waymark-labs/waymark/internal/roadmap"
	"github.com/waymark-labs/waymark/internal/store"
)

type roadmapJSON struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

type resourceJSON struct {
	ID           string `json:"id"`
	URL          string `json:"url"`
	ResourceType string `json:"resource_type"`
}

type stepJSON struct {
	ID           string         `json:"id"`
	Number       int            `json:"number"`
	Title        string         `json:"title"`
	Description  string         `json:"description"`
	IsBookmarked bool           `json:"is_bookmarked"`
	HasGuide     bool           `json:"has_guide"`
	SubRoadmapID string         `json:"sub_roadmap_id,omitempty"`
	Tags         []string       `json:"tags"`
	Resources    []resourceJSON `json:"resources"`
}

type bookmarkJSON struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	RoadmapID    string `json:"roadmap_id"`
	RoadmapTitle string `json:"roadmap_title"`
}

func toResourceJSON(rec store.Resource) resourceJSON {
	return resourceJSON{ID: rec.UID, URL: rec.URL, ResourceType: rec.Type}
}

func toStepJSON(step store.StepDetail) stepJSON {
	out := stepJSON{
		ID:           step.UID,
		Number:       step.Number,
		Title:        step.Title,
		Description:  step.Description,
		IsBookmarked: step.IsBookmarked,
		HasGuide:     step.Guide != "",
		SubRoadmapID: step.SubRoadmapUID,
		Tags:         make([]string, 0, len(step.Tags)),
		Resources:    make([]resourceJSON, 0, len(step.Resources)),
	}
	for _, tag := range step.Tags {
		out.Tags = append(out.Tags, tag.Name)
	}
	for _, rec := range step.Resources {
		out.Resources = append(out.Resources, toResourceJSON(rec))
	}
	return out
}

// domainError translates service and store sentinels into HTTP statuses.
func (s *Server) domainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.respondError(w, http.StatusNotFound, err)
	case errors.Is(err, store.ErrForbidden):
		s.respondError(w, http.StatusForbidden, err)
	case errors.Is(err, store.ErrSubRoadmapExists), errors.Is(err, store.ErrGuideExists):
		s.respondError(w, http.StatusConflict, err)
	case errors.Is(err, roadmap.ErrInvalidInput):
		s.respondError(w, http.StatusBadRequest, err)
	case errors.Is(err, roadmap.ErrGeneration):
		s.respondError(w, http.StatusBadGateway, err)
	default:
		s.respondError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) handleListRoadmaps(w http.ResponseWriter, r *http.Request) {
	info := sessionFromContext(r.Context())
	list, err := s.service.Roadmaps(r.Context(), info.user)
	if err != nil {
		s.domainError(w, err)
		return
	}
	items := make([]roadmapJSON, 0, len(list))
	for _, rm := range list {
		items = append(items, roadmapJSON{ID: rm.UID, Title: rm.Title, CreatedAt: rm.CreatedAt})
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"roadmaps": items})
}

func (s *Server) handleCreateRoadmap(w http.ResponseWriter, r *http.Request) {
	info := sessionFromContext(r.Context())
	var req struct {
		TargetJob string `json:"target_job"`
		Instruct  string `json:"instruct"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	rm, err := s.service.CreateRoadmap(r.Context(), info.user, req.TargetJob, req.Instruct)
	if err != nil {
		s.domainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"id": rm.UID})
}

func (s *Server) handleBookmarks(w http.ResponseWriter, r *http.Request) {
	info := sessionFromContext(r.Context())
	steps, err := s.service.BookmarkedSteps(r.Context(), info.user)
	if err != nil {
		s.domainError(w, err)
		return
	}
	items := make([]bookmarkJSON, 0, len(steps))
	for _, step := range steps {
		items = append(items, bookmarkJSON{
			ID:           step.UID,
			Title:        step.Title,
			RoadmapID:    step.RoadmapUID,
			RoadmapTitle: step.RoadmapTitle,
		})
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"steps": items})
}

func (s *Server) handleRoadmapDetail(w http.ResponseWriter, r *http.Request) {
	info := sessionFromContext(r.Context())
	detail, err := s.service.Detail(r.Context(), info.user, chi.URLParam(r, "uid"))
	if err != nil {
		s.domainError(w, err)
		return
	}
	steps := make([]stepJSON, 0, len(detail.Steps))
	for _, step := range detail.Steps {
		steps = append(steps, toStepJSON(step))
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"id":         detail.UID,
		"title":      detail.Title,
		"created_at": detail.CreatedAt,
		"steps":      steps,
	})
}

func (s *Server) handleCreateSubroadmap(w http.ResponseWriter, r *http.Request) {
	info := sessionFromContext(r.Context())
	rm, err := s.service.CreateSubroadmap(r.Context(), info.user, chi.URLParam(r, "uid"))
	if err != nil {
		s.domainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"id": rm.UID})
}

func (s *Server) handleListResources(w http.ResponseWriter, r *http.Request) {
	info := sessionFromContext(r.Context())
	recs, err := s.service.RecommendResources(r.Context(), info.user, chi.URLParam(r, "uid"))
	if err != nil {
		s.domainError(w, err)
		return
	}
	items := make([]resourceJSON, 0, len(recs))
	for _, rec := range recs {
		items = append(items, toResourceJSON(rec))
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"resources": items})
}

func (s *Server) handleAddResource(w http.ResponseWriter, r *http.Request) {
	info := sessionFromContext(r.Context())
	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	rec, err := s.service.AddResource(r.Context(), info.user, chi.URLParam(r, "uid"), req.URL)
	if err != nil {
		s.domainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, toResourceJSON(*rec))
}

func (s *Server) handleDeleteResource(w http.ResponseWriter, r *http.Request) {
	info := sessionFromContext(r.Context())
	if err := s.service.RemoveResource(r.Context(), info.user, chi.URLParam(r, "uid")); err != nil {
		s.domainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleToggleBookmark(w http.ResponseWriter, r *http.Request) {
	info := sessionFromContext(r.Context())
	state, err := s.service.ToggleBookmark(r.Context(), info.user, chi.URLParam(r, "uid"))
	if err != nil {
		s.domainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"is_bookmarked": state})
}
