// Package api is the hub's HTTP front: the REST surface, the frame and
// MJPEG stream endpoints, the single WebSocket upgrade at the root path,
// and the static admin console files.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/lookout-fleet/lookout/internal/audit"
	"github.com/lookout-fleet/lookout/internal/auth"
	"github.com/lookout-fleet/lookout/internal/config"
	"github.com/lookout-fleet/lookout/internal/metrics"
	"github.com/lookout-fleet/lookout/internal/store"
	"github.com/lookout-fleet/lookout/internal/stream"
	"github.com/lookout-fleet/lookout/internal/tenant"
)

// Server is the HTTP API server.
type Server struct {
	store      *store.Store
	provider   auth.Provider
	login      auth.LoginProvider
	policy     *tenant.Policy
	frames     *stream.FrameStore
	gate       *stream.ViewerGate
	ws         http.HandlerFunc
	metrics    *metrics.Metrics
	audit      *audit.Recorder
	auditStore audit.Store
	logger     *slog.Logger
	mux        *chi.Mux

	staticDir    string
	maxBodyBytes int64
	viewerTick   time.Duration
	startTime    time.Time
	loginRL      *rateLimiter
	rl           *rateLimiter
}

// NewServer wires the REST routes, stream endpoints, WebSocket mount, and
// static file fallback. ws handles the root-path WebSocket upgrade.
func NewServer(s *store.Store, ap auth.Provider, lp auth.LoginProvider, policy *tenant.Policy, frames *stream.FrameStore, gate *stream.ViewerGate, ws http.HandlerFunc, m *metrics.Metrics, rec *audit.Recorder, auditStore audit.Store, cfg *config.Config, logger *slog.Logger) *Server {
	srv := &Server{
		store:        s,
		provider:     ap,
		login:        lp,
		policy:       policy,
		frames:       frames,
		gate:         gate,
		ws:           ws,
		metrics:      m,
		audit:        rec,
		auditStore:   auditStore,
		logger:       logger.With("component", "api"),
		staticDir:    cfg.Server.StaticDir,
		maxBodyBytes: cfg.Server.MaxBodyBytes,
		viewerTick:   cfg.Stream.ViewerTick.Duration,
		startTime:    time.Now(),
	}
	if srv.viewerTick <= 0 {
		srv.viewerTick = 250 * time.Millisecond
	}

	mux := chi.NewRouter()
	mux.Use(chimw.Recoverer)
	mux.Use(chimw.RealIP)
	mux.Use(securityHeadersMiddleware)
	mux.Use(makeCORSMiddleware(cfg.Server.AllowedOrigins))

	// The root path hosts both the WebSocket upgrade and the console
	// shell; everything else non-/api falls through to the SPA handler.
	mux.Get("/", srv.handleRoot)

	mux.Get("/metrics", m.Handler().ServeHTTP)

	srv.loginRL = newRateLimiter(float64(cfg.RateLimit.LoginPerMinute)/60, cfg.RateLimit.LoginPerMinute)
	srv.rl = newRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)

	mux.Route("/api", func(r chi.Router) {
		r.Use(noStoreMiddleware)

		r.Get("/health", srv.handleHealth)
		r.With(loginIPRateLimitMiddleware(srv.loginRL)).Post("/login", srv.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(srv.authMiddleware)
			r.Use(rateLimitMiddleware(srv.rl))

			r.Get("/devices", srv.handleListDevices)
			r.Get("/devices/{deviceID}/frame", srv.handleFrame)
			r.Get("/devices/{deviceID}/mjpeg", srv.handleMJPEG)
			r.Get("/logs", srv.handleListLogs)
			r.Get("/device-aliases", srv.handleListAliases)
			r.Put("/device-aliases/{deviceID}", srv.handlePutAlias)
			r.Get("/compliance/events", srv.handleListCompliance)
			r.Get("/audit/events", srv.handleListAuditEvents)
		})
	})

	mux.NotFound(srv.handleNotFound)

	srv.mux = mux
	return srv
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// StartBackgroundTasks starts periodic cleanup of stale rate limit buckets.
func (s *Server) StartBackgroundTasks(ctx context.Context) {
	s.loginRL.StartCleanup(ctx, 5*time.Minute, 10*time.Minute)
	s.rl.StartCleanup(ctx, 5*time.Minute, 10*time.Minute)
}

// handleRoot serves the WebSocket upgrade when the request asks for one and
// the console index otherwise.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		s.ws(w, r)
		return
	}
	s.serveStatic(w, r)
}

// handleNotFound keeps the API surface JSON-only: unknown /api paths get a
// 404 object, never the SPA shell. Everything else falls back to index.html
// so client-side routes survive a reload.
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/api") {
		w.Header().Set("Cache-Control", "no-store")
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error":  "API route not found",
			"method": r.Method,
			"path":   r.URL.Path,
		})
		return
	}
	s.serveStatic(w, r)
}

func (s *Server) serveStatic(w http.ResponseWriter, r *http.Request) {
	if s.staticDir == "" {
		http.NotFound(w, r)
		return
	}

	path := filepath.Join(s.staticDir, filepath.Clean("/"+r.URL.Path))
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		http.ServeFile(w, r, path)
		return
	}
	http.ServeFile(w, r, filepath.Join(s.staticDir, "index.html"))
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
