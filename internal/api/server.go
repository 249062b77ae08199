// Package api provides the HTTP decode service for imsgtext.
package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/wesm/imsgtext/internal/attrbody"
	"github.com/wesm/imsgtext/internal/config"
	"github.com/wesm/imsgtext/internal/scheduler"
	"github.com/wesm/imsgtext/internal/store"
)

// TextStore defines the store operations the API needs.
type TextStore interface {
	GetStats() (*store.Stats, error)
	RecentMessageTexts(limit int) ([]store.MessageText, error)
}

// ImportScheduler defines the scheduler operations the API needs.
type ImportScheduler interface {
	IsScheduled(chatDB string) bool
	TriggerImport(chatDB string) error
	Status() []DatabaseStatus
	IsRunning() bool
}

// DatabaseStatus is an alias for scheduler.DatabaseStatus.
type DatabaseStatus = scheduler.DatabaseStatus

// Server serves the decode API over HTTP.
type Server struct {
	cfg         *config.Config
	resolver    *attrbody.Resolver
	store       TextStore       // nil when no database is open
	scheduler   ImportScheduler // nil when imports are not scheduled
	logger      *slog.Logger
	router      chi.Router
	server      *http.Server
	rateLimiter *RateLimiter
}

// NewServer creates a new API server. st and sched may be nil, in which
// case the endpoints depending on them answer 503.
func NewServer(cfg *config.Config, resolver *attrbody.Resolver, st TextStore, sched ImportScheduler, logger *slog.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		resolver:  resolver,
		store:     st,
		scheduler: sched,
		logger:    logger,
	}
	s.router = s.setupRouter()
	return s
}

// setupRouter mounts /health unauthenticated and everything else under
// /api/v1 behind the API key.
func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID, s.loggerMiddleware, chimw.Recoverer, chimw.Timeout(30*time.Second))
	r.Use(CORSMiddleware(CORSConfig{
		AllowedOrigins: s.cfg.Server.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		MaxAge:         86400,
	}))

	s.rateLimiter = NewRateLimiter(20, 40)
	r.Use(RateLimitMiddleware(s.rateLimiter))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Post("/resolve", s.handleResolve)
		r.Post("/detect", s.handleDetect)

		r.Get("/stats", s.handleStats)
		r.Get("/texts/recent", s.handleRecentTexts)

		r.Get("/imports", s.handleImportStatus)
		r.Post("/imports/trigger", s.handleTriggerImport)
	})

	return r
}

// Start begins listening for HTTP requests. It refuses to start when the
// security posture is invalid and returns nil after Shutdown.
func (s *Server) Start() error {
	if err := s.cfg.Server.ValidateSecure(); err != nil {
		return err
	}

	addr := s.cfg.Server.Addr()
	if s.cfg.Server.APIKey == "" {
		s.logger.Warn("API server running without authentication; set [server] api_key in config.toml")
	}

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("starting API server", "addr", addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.rateLimiter != nil {
		s.rateLimiter.Close()
	}
	if s.server == nil {
		return nil
	}
	s.logger.Info("shutting down API server")
	return s.server.Shutdown(ctx)
}

// Router exposes the handler tree so tests can drive it without a listener.
func (s *Server) Router() chi.Router {
	return s.router
}

// loggerMiddleware writes one log line per request once it completes.
func (s *Server) loggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.logger.LogAttrs(r.Context(), slog.LevelInfo, "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", chimw.GetReqID(r.Context())),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

// requestAPIKey reads the key from Authorization, with or without a
// Bearer prefix, falling back to X-API-Key.
func requestAPIKey(r *http.Request) string {
	key := r.Header.Get("Authorization")
	if key == "" {
		key = r.Header.Get("X-API-Key")
	}
	return strings.TrimPrefix(key, "Bearer ")
}

// authMiddleware rejects requests without the configured API key. With
// no key configured every request passes.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	want := []byte(s.cfg.Server.APIKey)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(want) > 0 && subtle.ConstantTimeCompare([]byte(requestAPIKey(r)), want) != 1 {
			s.logger.Warn("unauthorized API request", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
			writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid or missing API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
