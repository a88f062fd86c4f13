// Package httpserver exposes the waymark REST and streaming endpoints.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/waymark-labs/waymark/internal/auth"
	"github.com/waymark-labs/waymark/internal/health"
	"github.com/waymark-labs/waymark/internal/kakao"
	"github.com/waymark-labs/waymark/internal/metrics"
	"github.com/waymark-labs/waymark/internal/roadmap"
	"github.com/waymark-labs/waymark/internal/store"
	"github.com/waymark-labs/waymark/internal/usage"
	"github.com/waymark-labs/waymark/internal/version"
)

// Config carries the dependencies of the HTTP layer.
type Config struct {
	Service *roadmap.Service
	Store   store.Store
	Usage   usage.Store
	Auth    *auth.Manager
	Kakao   *kakao.Client
	Health  *health.Checker
	Metrics *metrics.Collector

	CookieName          string
	CookieSecure        bool
	DefaultProfileImage string

	Logger   *log.Logger
	LogLevel string
}

// Server exposes REST and SSE endpoints for waymark.
type Server struct {
	service *roadmap.Service
	store   store.Store
	usage   usage.Store
	auth    *auth.Manager
	kakao   *kakao.Client
	health  *health.Checker
	metrics *metrics.Collector

	cookieName          string
	cookieSecure        bool
	defaultProfileImage string

	logger   *log.Logger
	logLevel string
}

// New constructs a Server with the required dependencies.
func New(cfg Config) *Server {
	if cfg.CookieName == "" {
		cfg.CookieName = "waymark_session"
	}
	return &Server{
		service:             cfg.Service,
		store:               cfg.Store,
		usage:               cfg.Usage,
		auth:                cfg.Auth,
		kakao:               cfg.Kakao,
		health:              cfg.Health,
		metrics:             cfg.Metrics,
		cookieName:          cfg.CookieName,
		cookieSecure:        cfg.CookieSecure,
		defaultProfileImage: cfg.DefaultProfileImage,
		logger:              cfg.Logger,
		logLevel:            cfg.LogLevel,
	}
}

// Router returns a configured chi router for embedding in HTTP servers.
func (s *Server) Router() http.Handler {
	r := s.newBaseRouter()

	r.Get("/healthz", s.handleHealthz)
	r.Get("/metrics", s.handleMetrics)

	r.Get("/oauth/kakao/login", s.handleKakaoLogin)
	r.Get("/oauth/kakao/callback", s.handleKakaoCallback)

	r.Group(func(private chi.Router) {
		private.Use(s.sessionMiddleware)

		private.Get("/oauth/me", s.handleMe)
		private.Get("/oauth/me/profile", s.handleGetProfile)
		private.Put("/oauth/me/profile", s.handlePutProfile)

		private.Get("/roadmap", s.handleListRoadmaps)
		private.Post("/roadmap", s.handleCreateRoadmap)
		private.Get("/roadmap/bookmarks", s.handleBookmarks)
		private.Get("/roadmap/{uid}", s.handleRoadmapDetail)
		private.Post("/roadmap/{uid}/assistant", s.handleAssistant)

		private.Post("/roadmap/step/{uid}/subroadmap", s.handleCreateSubroadmap)
		private.Get("/roadmap/step/{uid}/resources", s.handleListResources)
		private.Post("/roadmap/step/{uid}/resources", s.handleAddResource)
		private.Delete("/roadmap/step/resources/{uid}", s.handleDeleteResource)
		private.Post("/roadmap/step/{uid}/bookmark", s.handleToggleBookmark)
		private.Get("/roadmap/step/{uid}/guide", s.handleStepGuide)

		private.Get("/usage/summary", s.handleUsageSummary)
		private.Get("/usage/logs", s.handleUsageLogs)
	})

	return r
}

func (s *Server) newBaseRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(s.metricsMiddleware)
	return r
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		s.metrics.RecordRequestStart(r.Method)
		defer s.metrics.RecordRequestEnd(r.Method)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		endpoint := r.Method + " " + routePattern(r)
		s.metrics.RecordRequest(endpoint, time.Since(start))
		if ww.Status() >= http.StatusBadRequest {
			s.metrics.RecordError(endpoint)
		}
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

type sessionContextKey struct{}

type sessionInfo struct {
	user   *store.User
	claims *auth.Claims
}

func (s *Server) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, err := s.authenticateRequest(r)
		if err != nil {
			s.respondError(w, http.StatusUnauthorized, err)
			return
		}
		ctx := context.WithValue(r.Context(), sessionContextKey{}, info)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) authenticateRequest(r *http.Request) (*sessionInfo, error) {
	if s.auth == nil {
		return nil, errors.New("session auth unavailable")
	}

	token := bearerToken(r.Header.Get("Authorization"))
	if token == "" {
		cookie, err := r.Cookie(s.cookieName)
		if err != nil || cookie.Value == "" {
			return nil, errors.New("missing session")
		}
		token = cookie.Value
	}

	claims, err := s.auth.ValidateToken(token)
	if err != nil {
		return nil, err
	}
	user, err := s.store.UserByUID(r.Context(), claims.UserUID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errors.New("user not found")
		}
		return nil, err
	}
	return &sessionInfo{user: user, claims: claims}, nil
}

func sessionFromContext(ctx context.Context) *sessionInfo {
	info, _ := ctx.Value(sessionContextKey{}).(*sessionInfo)
	return info
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"status":  "ok",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": version.Version,
	}
	status := http.StatusOK
	if s.health != nil {
		hs := s.health.Check(r.Context())
		payload["status"] = string(hs.Status)
		payload["components"] = hs.Components
		if hs.Status == health.StatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
	}
	s.respondJSON(w, status, payload)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		http.Error(w, "metrics disabled", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	_, _ = w.Write([]byte(metrics.FormatPrometheus(s.metrics.GetSnapshot())))
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	if payload == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.debugf("[http] encode response: %v", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	s.respondJSON(w, status, map[string]any{"error": err.Error()})
}

func (s *Server) isDebug() bool { return s.logLevel == "debug" }

func (s *Server) debugf(format string, args ...any) {
	if !s.isDebug() {
		return
	}
	if s.logger != nil {
		s.logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}
