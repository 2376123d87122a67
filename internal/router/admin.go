package router

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lookout-fleet/lookout/internal/audit"
	"github.com/lookout-fleet/lookout/pkg/protocol"
)

// handleAdminWS admits an admin console. The token rides the query string
// because browsers cannot set headers on a WebSocket handshake; a Bearer
// header works too for non-browser clients.
func (r *Router) handleAdminWS(w http.ResponseWriter, req *http.Request) {
	tokenStr := req.URL.Query().Get("token")
	if tokenStr == "" {
		tokenStr = req.Header.Get("Authorization")
		if len(tokenStr) > 7 && tokenStr[:7] == "Bearer " {
			tokenStr = tokenStr[7:]
		}
	}

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("admin websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	conn.SetReadLimit(r.maxMessageBytes)

	identity, err := r.provider.ValidateToken(req.Context(), tokenStr)
	if err != nil {
		r.logger.Warn("admin token rejected", "error", err)
		r.reject(conn, "invalid token")
		return
	}

	ad := &adminSession{
		session:  newSession(conn, r.mailboxSize, r.sendTimeout),
		id:       uuid.NewString(),
		username: identity.Username,
		tenants:  identity.Tenants,
	}

	r.mu.Lock()
	r.admins[ad.id] = ad
	r.mu.Unlock()

	go ad.writePump()

	r.metrics.AdminsConnected.Inc()
	r.logger.Info("admin connected", "user", ad.username, "tenants", strings.Join(ad.tenants, ","))

	defer func() {
		ad.close(websocket.CloseNormalClosure, "connection closed")
		r.mu.Lock()
		delete(r.admins, ad.id)
		r.mu.Unlock()
		r.metrics.AdminsConnected.Dec()
		r.logger.Info("admin disconnected", "user", ad.username)
	}()

	// Snapshot first so the console renders before any live broadcast.
	r.sendJSON(&ad.session, protocol.DevicesSnapshot{
		Type: protocol.TypeDevicesSnapshot,
		Devices: r.store.DeviceSummaries(func(t string) bool {
			return r.policy.CanAccess(ad.tenants, t)
		}),
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			r.logger.Debug("admin read error", "user", ad.username, "error", err)
			return
		}
		if !ad.allowMessage() {
			r.logger.Warn("admin message rate limited", "user", ad.username)
			continue
		}
		r.handleAdminMessage(ad, msg)
	}
}

func (r *Router) handleAdminMessage(ad *adminSession, raw []byte) {
	msgType, err := protocol.TypeOf(raw)
	if err != nil {
		r.logger.Warn("invalid message from admin", "user", ad.username, "error", err)
		return
	}

	switch msgType {
	case protocol.TypeRequestRemoteAccess:
		var req protocol.RemoteAccessRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			r.logger.Warn("invalid remote access request", "user", ad.username, "error", err)
			return
		}
		r.handleRemoteAccess(ad, req.DeviceID)

	default:
		r.logger.Warn("unknown admin message type", "type", msgType, "user", ad.username)
	}
}

// handleRemoteAccess runs the consent flow for one admin request. The agent
// answers asynchronously; its consent_response is broadcast from the agent
// read loop, not here.
func (r *Router) handleRemoteAccess(ad *adminSession, deviceID string) {
	if deviceID == "" {
		r.sendJSON(&ad.session, protocol.ErrorMessage{Type: protocol.TypeError, Message: "missing deviceId"})
		return
	}

	dev, ok := r.store.Device(deviceID)
	if !ok || !r.policy.CanAccess(ad.tenants, dev.Tenant) {
		r.sendJSON(&ad.session, protocol.ErrorMessage{Type: protocol.TypeError, Message: "forbidden"})
		return
	}

	sent := r.sendToAgent(deviceID, protocol.ConsentRequest{
		Type:  protocol.TypeConsentRequest,
		Admin: ad.username,
	})
	if !sent {
		r.sendJSON(&ad.session, protocol.ConsentResult{
			Type:     protocol.TypeConsentResponse,
			DeviceID: deviceID,
			Accepted: false,
			Reason:   "agent_offline",
		})
		return
	}

	r.metrics.ConsentRequests.Inc()
	r.audit.Record(context.Background(), audit.ActionConsentRequest, ad.username, deviceID, dev.Tenant, nil)
	r.sendJSON(&ad.session, protocol.ConsentStatus{
		Type:     protocol.TypeConsentStatus,
		DeviceID: deviceID,
		Status:   protocol.ConsentStatusSentToAgent,
	})
	r.logger.Info("consent requested", "user", ad.username, "deviceId", deviceID)
}

func (ad *adminSession) allowMessage() bool {
	const rate = 30.0  // messages per second
	const burst = 50.0 // max burst

	now := time.Now()
	ad.mu.Lock()
	defer ad.mu.Unlock()

	if ad.msgLast.IsZero() {
		ad.msgTokens = burst
		ad.msgLast = now
	}

	elapsed := now.Sub(ad.msgLast).Seconds()
	ad.msgTokens += elapsed * rate
	if ad.msgTokens > burst {
		ad.msgTokens = burst
	}
	ad.msgLast = now

	if ad.msgTokens < 1 {
		return false
	}
	ad.msgTokens--
	return true
}
