package httpserver

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/waymark-labs/waymark/internal/stream"
)

// jsonString renders s as a JSON string literal without HTML escaping.
func jsonString(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return `""`
	}
	return strings.TrimRight(buf.String(), "\n")
}

// tokenFrame builds one SSE unit. The space after "data:" and after the JSON
// colon is part of the wire contract consumed by the frontend parser.
func tokenFrame(token string) string {
	return "data: {\"token\": " + jsonString(token) + "}\n\n"
}

func errorFrame(message string) string {
	return "data: {\"error\": " + jsonString(message) + "}\n\n"
}

func (s *Server) streamEvents(w http.ResponseWriter, events <-chan stream.Event) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range events {
		frame := tokenFrame(ev.Token)
		if ev.Err != nil {
			frame = errorFrame(ev.Err.Error())
		}
		if _, err := io.WriteString(w, frame); err != nil {
			// client went away; request context cancellation stops the producer
			return
		}
		flusher.Flush()
	}
}

func (s *Server) handleStepGuide(w http.ResponseWriter, r *http.Request) {
	info := sessionFromContext(r.Context())
	events, err := s.service.StepGuide(r.Context(), info.user, chi.URLParam(r, "uid"))
	if err != nil {
		s.domainError(w, err)
		return
	}
	s.streamEvents(w, events)
}

func (s *Server) handleAssistant(w http.ResponseWriter, r *http.Request) {
	info := sessionFromContext(r.Context())
	var req struct {
		UserInput string `json:"user_input"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	events, err := s.service.Assistant(r.Context(), info.user, chi.URLParam(r, "uid"), req.UserInput)
	if err != nil {
		s.domainError(w, err)
		return
	}
	s.streamEvents(w, events)
}
