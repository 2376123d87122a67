// Package hub is the composition root that wires the store, auth, router,
// stream, audit, and HTTP edge together and runs them as one process.
package hub

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/lookout-fleet/lookout/internal/api"
	"github.com/lookout-fleet/lookout/internal/audit"
	"github.com/lookout-fleet/lookout/internal/auth"
	"github.com/lookout-fleet/lookout/internal/config"
	"github.com/lookout-fleet/lookout/internal/metrics"
	"github.com/lookout-fleet/lookout/internal/router"
	"github.com/lookout-fleet/lookout/internal/store"
	"github.com/lookout-fleet/lookout/internal/stream"
	"github.com/lookout-fleet/lookout/internal/tenant"
)

// Hub is the assembled hub process.
type Hub struct {
	cfg        *config.Config
	store      *store.Store
	auditStore audit.Store
	router     *router.Router
	api        *api.Server
	logger     *slog.Logger
}

// New builds a hub from configuration. ring receives the operational log
// entries served by GET /api/logs; the caller owns the logger wiring.
func New(cfg *config.Config, ring *store.LogRing, logger *slog.Logger) (*Hub, error) {
	st, err := store.New(cfg.Storage.DataDir, ring, logger.With("component", "store"))
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	auditStore, err := audit.NewStore(cfg.Storage.Audit)
	if err != nil {
		return nil, fmt.Errorf("init audit store: %w", err)
	}
	recorder := audit.NewRecorder(auditStore, logger.With("component", "audit"))

	svc, err := auth.NewService(cfg.Auth)
	if err != nil {
		_ = auditStore.Close()
		return nil, fmt.Errorf("init auth service: %w", err)
	}
	provider, err := auth.NewProvider(cfg.Auth, svc)
	if err != nil {
		_ = auditStore.Close()
		return nil, fmt.Errorf("init auth provider: %w", err)
	}

	// Login stays with the builtin service even when token verification is
	// delegated to an external issuer.
	var login auth.LoginProvider = svc

	policy := tenant.NewPolicy(cfg.Tenancy.Tenants)
	m := metrics.New()
	frames := stream.NewFrameStore(cfg.Stream.MinFrameInterval.Duration)

	rt := router.New(st, provider, svc, policy, frames, m, recorder, cfg, logger)
	gate := stream.NewViewerGate(rt)

	apiSrv := api.NewServer(st, provider, login, policy, frames, gate, rt.HandleWS, m, recorder, auditStore, cfg, logger)

	h := &Hub{
		cfg:        cfg,
		store:      st,
		auditStore: auditStore,
		router:     rt,
		api:        apiSrv,
		logger:     logger.With("component", "hub"),
	}

	if cfg.Auth.EphemeralSecret {
		logger.Warn("JWT secret generated for this run only; admin tokens will not survive a restart")
	}
	if !policy.Known(cfg.Tenancy.DefaultTenant) {
		logger.Warn("default tenant is not in the configured tenant set", "tenant", cfg.Tenancy.DefaultTenant)
	}
	for _, origin := range cfg.Server.AllowedOrigins {
		if origin == "*" {
			logger.Warn("CORS allowed_origins contains wildcard '*'; restrict to specific origins in production")
			break
		}
	}
	if cfg.Server.StaticDir != "" {
		if _, err := os.Stat(cfg.Server.StaticDir); os.IsNotExist(err) {
			logger.Warn("static directory does not exist", "path", cfg.Server.StaticDir)
		}
	}

	return h, nil
}

// Run starts the HTTP server and background tasks and blocks until the
// context is canceled or the listener fails.
func (h *Hub) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    h.cfg.Server.Addr,
		Handler: h.api.Handler(),
		// MJPEG viewers hang off request contexts; binding them to the
		// run context makes shutdown unwind every open stream.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	h.router.StartPresenceMonitor(ctx)
	h.api.StartBackgroundTasks(ctx)
	if h.cfg.Storage.Audit.Retention.Duration > 0 {
		go h.runRetentionPurger(ctx, h.cfg.Storage.Audit.Retention.Duration)
	}

	errCh := make(chan error, 1)
	go func() {
		h.logger.Info("hub listening", "addr", h.cfg.Server.Addr)
		if h.cfg.Server.TLSCert != "" && h.cfg.Server.TLSKey != "" {
			errCh <- srv.ListenAndServeTLS(h.cfg.Server.TLSCert, h.cfg.Server.TLSKey)
		} else {
			h.logger.Warn("TLS not configured, running without encryption (development only)")
			errCh <- srv.ListenAndServe()
		}
	}()

	select {
	case <-ctx.Done():
		h.logger.Info("shutting down hub gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			h.logger.Warn("graceful shutdown failed, forcing close", "error", err)
			_ = srv.Close()
		}

		// Shutdown does not wait for hijacked WebSockets.
		h.router.Shutdown()

		_ = h.auditStore.Close()
		h.logger.Info("shutdown complete")
		return ctx.Err()

	case err := <-errCh:
		_ = h.auditStore.Close()
		return err
	}
}

func (h *Hub) runRetentionPurger(ctx context.Context, retention time.Duration) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-retention)
			if n, err := h.auditStore.Purge(ctx, cutoff); err != nil {
				h.logger.Warn("audit retention purge failed", "error", err)
			} else if n > 0 {
				h.logger.Info("audit retention purge", "deleted", n)
			}
		}
	}
}
