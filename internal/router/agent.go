package router

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"

	"github.com/lookout-fleet/lookout/internal/audit"
	"github.com/lookout-fleet/lookout/internal/store"
	"github.com/lookout-fleet/lookout/pkg/protocol"
)

// handleAgentWS admits a desktop agent. Admission failures close the socket
// with 1008 after the upgrade; a second connection for the same deviceId
// supplants the first.
func (r *Router) handleAgentWS(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	deviceID := q.Get("deviceId")
	tenantParam := q.Get("tenant")
	version := q.Get("v")
	token := q.Get("token")

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("agent websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	conn.SetReadLimit(r.maxMessageBytes)

	if r.agentAuth != nil && !r.agentAuth.VerifyAgentKey(token) {
		r.logger.Warn("agent presented invalid key", "deviceId", deviceID)
		r.reject(conn, "invalid agent credentials")
		return
	}
	if deviceID == "" {
		r.logger.Warn("agent connect without deviceId")
		r.reject(conn, "missing deviceId")
		return
	}
	tenantName := tenantParam
	if tenantName == "" {
		// No claim: keep an existing binding, default only for a device
		// the hub has never seen bound.
		if known, ok := r.store.Device(deviceID); ok && known.Tenant != "" {
			tenantName = known.Tenant
		} else {
			tenantName = r.defaultTenant
		}
	} else if !r.policy.Known(tenantName) {
		r.logger.Warn("agent claimed unknown tenant", "deviceId", deviceID, "tenant", tenantName)
		r.reject(conn, "unknown tenant")
		return
	}

	// Validate and pin the tenant before supplanting anything, so a
	// refused connect leaves an existing session untouched.
	if _, err := r.store.UpsertDevice(deviceID, tenantName); err != nil {
		r.logger.Warn("agent refused", "deviceId", deviceID, "error", err)
		r.reject(conn, "tenant mismatch")
		return
	}

	ag := &agentSession{
		session:  newSession(conn, r.mailboxSize, r.sendTimeout),
		deviceID: deviceID,
		tenant:   tenantName,
		version:  version,
	}

	// Registry takeover and store connect happen under one lock so a
	// predecessor closing naturally cannot interleave its disconnect with
	// this connect: its cleanup runs either wholly before (we reconnect
	// after) or wholly after (its ownership check fails).
	r.mu.Lock()
	old := r.agents[deviceID]
	if old != nil {
		old.close(websocket.ClosePolicyViolation, closeReasonSupplanted)
	}
	dev, err := r.store.Connect(deviceID, tenantName, version)
	if err != nil {
		r.mu.Unlock()
		r.logger.Warn("agent refused", "deviceId", deviceID, "error", err)
		r.reject(conn, "tenant mismatch")
		return
	}
	r.agents[deviceID] = ag
	r.mu.Unlock()

	ctx := context.Background()
	if old != nil {
		r.logger.Warn("agent reconnect: supplanting previous session", "deviceId", deviceID)
		r.metrics.AgentSupplants.Inc()
		r.audit.Record(ctx, audit.ActionAgentSupplant, "", deviceID, ag.tenant, nil)
	}

	go ag.writePump()

	r.metrics.AgentsConnected.Inc()
	r.broadcastPresence(dev, true)
	r.audit.Record(ctx, audit.ActionAgentConnect, "", deviceID, ag.tenant, map[string]string{"agentVersion": version})
	r.logger.Info("agent connected", "deviceId", deviceID, "tenant", ag.tenant, "version", version)

	defer func() {
		ag.close(websocket.CloseNormalClosure, "connection closed")
		r.metrics.AgentsConnected.Dec()

		// A supplanted session must not disturb the replacement: the new
		// session owns the registry entry and the presence bit.
		if ag.closeReason == closeReasonSupplanted {
			r.logger.Info("agent session supplanted", "deviceId", deviceID)
			return
		}
		// Ownership check and store disconnect share the lock with the
		// connect path, so a supplanting connect cannot slip between
		// them. The offline broadcast still precedes registry removal so
		// admins never see an offline device with a live session behind
		// it.
		r.mu.Lock()
		current := r.agents[deviceID] == ag
		var gone store.Device
		var was bool
		if current {
			gone, was = r.store.Disconnect(deviceID)
		}
		r.mu.Unlock()
		if !current {
			return
		}
		if was {
			r.broadcastPresence(gone, false)
		}
		r.mu.Lock()
		if r.agents[deviceID] == ag {
			delete(r.agents, deviceID)
		}
		r.mu.Unlock()

		r.audit.Record(context.Background(), audit.ActionAgentDisconnect, "", deviceID, ag.tenant, nil)
		r.logger.Info("agent disconnected", "deviceId", deviceID)
	}()

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			r.logger.Debug("agent read error", "deviceId", deviceID, "error", err)
			return
		}
		if msgType == websocket.BinaryMessage {
			r.ingestFrame(ag, msg, "image/jpeg", "binary")
			continue
		}
		r.handleAgentMessage(ag, msg)
	}
}

func (r *Router) handleAgentMessage(ag *agentSession, raw []byte) {
	msgType, err := protocol.TypeOf(raw)
	if err != nil {
		r.logger.Warn("invalid message from agent", "deviceId", ag.deviceID, "error", err)
		return
	}

	switch msgType {
	case protocol.TypePing:
		r.touchDevice(ag.deviceID)
		r.sendJSON(&ag.session, protocol.Pong{Type: protocol.TypePong})

	case protocol.TypeFrame, protocol.TypeScreenFrame:
		var frame protocol.JSONFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			r.logger.Warn("invalid frame message", "deviceId", ag.deviceID, "error", err)
			return
		}
		data, mime, err := frame.Image()
		if err != nil {
			r.logger.Warn("frame decode failed", "deviceId", ag.deviceID, "error", err)
			return
		}
		r.ingestFrame(ag, data, mime, "json")

	case protocol.TypeConsentResponse:
		var resp protocol.ConsentResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			r.logger.Warn("invalid consent response", "deviceId", ag.deviceID, "error", err)
			return
		}
		r.metrics.ConsentResponses.WithLabelValues(strconv.FormatBool(resp.Accepted)).Inc()
		r.audit.Record(context.Background(), audit.ActionConsentResponse, "", ag.deviceID, ag.tenant, map[string]any{"accepted": resp.Accepted})
		r.broadcastToAdmins(ag.tenant, protocol.ConsentResult{
			Type:     protocol.TypeConsentResponse,
			DeviceID: ag.deviceID,
			Accepted: resp.Accepted,
			Reason:   resp.Reason,
		})
		r.logger.Info("consent response", "deviceId", ag.deviceID, "accepted", resp.Accepted)

	case protocol.TypeComplianceEvent:
		var report protocol.ComplianceReport
		if err := json.Unmarshal(raw, &report); err != nil {
			r.logger.Warn("invalid compliance event", "deviceId", ag.deviceID, "error", err)
			return
		}
		evt, err := r.store.AppendCompliance(store.ComplianceEvent{
			DeviceID:   ag.deviceID,
			Author:     report.Author,
			Context:    report.Context,
			Content:    report.Content,
			Matches:    report.Matches,
			Severity:   report.Severity,
			Suspicious: report.Suspicious,
			Timestamp:  report.Timestamp,
		})
		if err != nil {
			r.logger.Error("compliance append failed", "deviceId", ag.deviceID, "error", err)
			return
		}
		r.metrics.ComplianceEvents.Inc()
		agg := r.store.Aggregate(ag.deviceID)
		r.broadcastToAdmins(ag.tenant, protocol.ComplianceNotice{
			Type:     protocol.TypeComplianceEvent,
			DeviceID: ag.deviceID,
			Count:    agg.Count,
			Severity: agg.LastSeverity,
			TS:       evt.Timestamp,
		})
		r.logger.Warn("compliance event recorded", "deviceId", ag.deviceID, "severity", evt.Severity, "suspicious", evt.Suspicious)

	default:
		r.logger.Warn("unknown agent message type", "type", msgType, "deviceId", ag.deviceID)
	}
}

// ingestFrame stores a decoded frame and counts it. Every arrival bumps the
// device's lastSeen whether or not the throttle kept the frame.
func (r *Router) ingestFrame(ag *agentSession, data []byte, mime, encoding string) {
	if r.frames.Ingest(ag.deviceID, data, mime) {
		r.metrics.FramesReceived.WithLabelValues(encoding).Inc()
	} else {
		r.metrics.FramesDropped.Inc()
	}
	r.touchDevice(ag.deviceID)
}

// touchDevice bumps lastSeen and re-announces the device when traffic
// arrives after the presence sweep had marked it offline.
func (r *Router) touchDevice(deviceID string) {
	dev, revived := r.store.Touch(deviceID)
	if revived {
		r.broadcastPresence(dev, true)
	}
}
