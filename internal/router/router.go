// Package router manages WebSocket sessions for both desktop agents and
// admin consoles, and routes messages between them: presence broadcasts,
// consent round-trips, stream control signals, and compliance notices.
package router

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lookout-fleet/lookout/internal/audit"
	"github.com/lookout-fleet/lookout/internal/auth"
	"github.com/lookout-fleet/lookout/internal/config"
	"github.com/lookout-fleet/lookout/internal/metrics"
	"github.com/lookout-fleet/lookout/internal/store"
	"github.com/lookout-fleet/lookout/internal/stream"
	"github.com/lookout-fleet/lookout/internal/tenant"
	"github.com/lookout-fleet/lookout/pkg/protocol"
)

const closeReasonSupplanted = "supplanted"

// makeUpgrader creates a WebSocket upgrader with origin checking.
func makeUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*")
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true // non-browser clients
			}
			return originSet[origin]
		},
	}
}

// session is the connection machinery shared by agents and admins: the
// socket, its outbound mailbox, and the single writer goroutine draining it.
// Producers never touch the socket directly.
type session struct {
	conn        *websocket.Conn
	outbox      chan []byte
	closing     chan struct{}
	closeOnce   sync.Once
	closeCode   int
	closeReason string
	sendTimeout time.Duration
}

func newSession(conn *websocket.Conn, mailbox int, sendTimeout time.Duration) session {
	return session{
		conn:        conn,
		outbox:      make(chan []byte, mailbox),
		closing:     make(chan struct{}),
		sendTimeout: sendTimeout,
	}
}

// enqueue queues data for the socket writer. A session whose mailbox stays
// full past the send timeout is closed; the failed send is fatal for that
// session only.
func (s *session) enqueue(data []byte) bool {
	select {
	case s.outbox <- data:
		return true
	case <-s.closing:
		return false
	default:
	}

	t := time.NewTimer(s.sendTimeout)
	defer t.Stop()
	select {
	case s.outbox <- data:
		return true
	case <-s.closing:
		return false
	case <-t.C:
		s.close(websocket.ClosePolicyViolation, "send timeout")
		return false
	}
}

// close requests teardown. The first caller wins; its code and reason go
// into the close frame and stay readable after any later close call.
func (s *session) close(code int, reason string) {
	s.closeOnce.Do(func() {
		s.closeCode = code
		s.closeReason = reason
		close(s.closing)
	})
}

// writePump is the session's only socket writer. It exits when the session
// closes or a write fails, and closes the underlying connection so the read
// loop unblocks.
func (s *session) writePump() {
	defer func() { _ = s.conn.Close() }()
	for {
		select {
		case data := <-s.outbox:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.sendTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.close(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-s.closing:
			msg := websocket.FormatCloseMessage(s.closeCode, s.closeReason)
			_ = s.conn.SetWriteDeadline(time.Now().Add(time.Second))
			_ = s.conn.WriteMessage(websocket.CloseMessage, msg)
			return
		}
	}
}

type agentSession struct {
	session
	deviceID string
	tenant   string
	version  string
}

type adminSession struct {
	session
	id       string
	username string
	tenants  []string

	mu        sync.Mutex
	msgTokens float64
	msgLast   time.Time
}

// Router owns the session registry and all hub-side message routing.
type Router struct {
	store     *store.Store
	provider  auth.Provider
	agentAuth auth.AgentAuthenticator
	policy    *tenant.Policy
	frames    *stream.FrameStore
	metrics   *metrics.Metrics
	audit     *audit.Recorder
	logger    *slog.Logger
	upgrader  websocket.Upgrader

	defaultTenant   string
	sendTimeout     time.Duration
	mailboxSize     int
	maxMessageBytes int64
	presenceTTL     time.Duration
	sweepInterval   time.Duration

	mu     sync.RWMutex
	agents map[string]*agentSession // deviceId -> session
	admins map[string]*adminSession // session id -> session
}

// New creates a Router wired to the store, auth, frame store, and audit log.
func New(s *store.Store, ap auth.Provider, aa auth.AgentAuthenticator, policy *tenant.Policy, frames *stream.FrameStore, m *metrics.Metrics, rec *audit.Recorder, cfg *config.Config, logger *slog.Logger) *Router {
	sendTimeout := cfg.Session.SendTimeout.Duration
	if sendTimeout == 0 {
		sendTimeout = 5 * time.Second
	}
	mailbox := cfg.Session.MailboxSize
	if mailbox == 0 {
		mailbox = 64
	}
	maxMessage := cfg.Session.MaxMessageBytes
	if maxMessage == 0 {
		maxMessage = 8 * 1024 * 1024 // base64 frames run large
	}

	return &Router{
		store:           s,
		provider:        ap,
		agentAuth:       aa,
		policy:          policy,
		frames:          frames,
		metrics:         m,
		audit:           rec,
		logger:          logger.With("component", "router"),
		upgrader:        makeUpgrader(cfg.Server.AllowedOrigins),
		defaultTenant:   cfg.Tenancy.DefaultTenant,
		sendTimeout:     sendTimeout,
		mailboxSize:     mailbox,
		maxMessageBytes: maxMessage,
		presenceTTL:     cfg.Presence.TTL.Duration,
		sweepInterval:   cfg.Presence.SweepInterval.Duration,
		agents:          make(map[string]*agentSession),
		admins:          make(map[string]*adminSession),
	}
}

// HandleWS upgrades the root-path WebSocket and dispatches on the role
// query parameter.
func (r *Router) HandleWS(w http.ResponseWriter, req *http.Request) {
	switch req.URL.Query().Get("role") {
	case "agent":
		r.handleAgentWS(w, req)
	case "admin":
		r.handleAdminWS(w, req)
	default:
		http.Error(w, "unknown role", http.StatusBadRequest)
	}
}

// reject closes a just-upgraded connection with a policy violation frame.
// Admission failures happen after the upgrade so the client sees the close
// code instead of an HTTP error.
func (r *Router) reject(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = conn.WriteMessage(websocket.CloseMessage, msg)
	_ = conn.Close()
}

// AgentActive reports whether a live agent session exists for the device.
func (r *Router) AgentActive(deviceID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.agents[deviceID]
	return ok
}

// sendJSON marshals msg and queues it on the session's mailbox.
func (r *Router) sendJSON(s *session, msg any) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		r.logger.Warn("marshal outbound message failed", "error", err)
		return false
	}
	return s.enqueue(data)
}

// sendToAgent queues msg for the device's agent session, if one is active.
func (r *Router) sendToAgent(deviceID string, msg any) bool {
	r.mu.RLock()
	ag, ok := r.agents[deviceID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return r.sendJSON(&ag.session, msg)
}

// broadcastToAdmins sends msg to every admin whose grants cover the
// device's tenant. Targets are collected under the read lock and written
// after it is released.
func (r *Router) broadcastToAdmins(deviceTenant string, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		r.logger.Warn("marshal broadcast failed", "error", err)
		return
	}

	r.mu.RLock()
	targets := make([]*adminSession, 0, len(r.admins))
	for _, ad := range r.admins {
		if r.policy.CanAccess(ad.tenants, deviceTenant) {
			targets = append(targets, ad)
		}
	}
	r.mu.RUnlock()

	for _, ad := range targets {
		ad.enqueue(data)
	}
}

// broadcastPresence announces a device presence transition to all admins
// covering its tenant.
func (r *Router) broadcastPresence(dev store.Device, online bool) {
	msg := protocol.DevicePresence{
		Type:         protocol.TypeDevicePresence,
		DeviceID:     dev.DeviceID,
		Online:       online,
		AgentVersion: dev.AgentVersion,
	}
	if !dev.LastSeen.IsZero() {
		ms := dev.LastSeen.UnixMilli()
		msg.LastSeen = &ms
	}
	r.broadcastToAdmins(dev.Tenant, msg)
}

// StreamEnable implements stream.Signaller. Both spellings of the control
// verb are sent; older agents only understand the underscore form.
func (r *Router) StreamEnable(deviceID string) {
	for _, sig := range protocol.StreamEnableSignals() {
		if !r.sendToAgent(deviceID, sig) {
			return
		}
	}
	r.logger.Debug("stream enabled", "deviceId", deviceID)
}

// StreamDisable implements stream.Signaller.
func (r *Router) StreamDisable(deviceID string) {
	for _, sig := range protocol.StreamDisableSignals() {
		if !r.sendToAgent(deviceID, sig) {
			return
		}
	}
	r.logger.Debug("stream disabled", "deviceId", deviceID)
}

// Shutdown closes every live session. http.Server.Shutdown does not wait
// for hijacked WebSocket connections, so the hub closes them here.
func (r *Router) Shutdown() {
	r.mu.RLock()
	sessions := make([]*session, 0, len(r.agents)+len(r.admins))
	for _, ag := range r.agents {
		sessions = append(sessions, &ag.session)
	}
	for _, ad := range r.admins {
		sessions = append(sessions, &ad.session)
	}
	r.mu.RUnlock()

	for _, s := range sessions {
		s.close(websocket.CloseGoingAway, "server shutting down")
	}
}
