package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lookout-fleet/lookout/internal/audit"
	"github.com/lookout-fleet/lookout/internal/auth"
	"github.com/lookout-fleet/lookout/internal/store"
	"github.com/lookout-fleet/lookout/internal/tenant"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"ts": time.Now().UnixMilli(),
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.login == nil {
		writeError(w, http.StatusNotFound, "login not available with external auth")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || len(req.Username) > 64 || req.Password == "" || len(req.Password) > 128 {
		writeError(w, http.StatusBadRequest, "invalid username or password")
		return
	}

	token, identity, err := s.login.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		s.audit.Record(r.Context(), audit.ActionLoginFailed, req.Username, "", "", nil)
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	s.audit.Record(r.Context(), audit.ActionLoginSuccess, identity.Username, "", "", nil)

	writeJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"user": map[string]any{
			"id":             identity.ID,
			"username":       identity.Username,
			"allowedTenants": identity.Tenants,
		},
	})
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	identity := getIdentityFromContext(r.Context())
	rows := s.store.DeviceSummaries(func(t string) bool {
		return s.policy.CanAccess(identity.Tenants, t)
	})
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Logs())
}

func (s *Server) handleListAliases(w http.ResponseWriter, r *http.Request) {
	identity := getIdentityFromContext(r.Context())

	out := make(map[string]store.Alias)
	for id, alias := range s.store.ListAliases() {
		if !s.deviceVisible(identity, id) {
			continue
		}
		out[id] = alias
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePutAlias(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	identity := getIdentityFromContext(r.Context())

	if !s.deviceVisible(identity, deviceID) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var req struct {
		Label *string `json:"label"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Label == nil {
		writeError(w, http.StatusBadRequest, "label is required (empty string deletes)")
		return
	}

	alias, err := s.store.PutAlias(deviceID, *req.Label)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to persist alias")
		return
	}

	action := audit.ActionAliasUpdate
	if *req.Label == "" {
		action = audit.ActionAliasDelete
	}
	dev, _ := s.store.Device(deviceID)
	s.audit.Record(r.Context(), action, identity.Username, deviceID, dev.Tenant, map[string]string{"label": *req.Label})

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"deviceId":  deviceID,
		"label":     alias.Label,
		"updatedAt": alias.UpdatedAt,
	})
}

func (s *Server) handleListCompliance(w http.ResponseWriter, r *http.Request) {
	identity := getIdentityFromContext(r.Context())
	deviceID := r.URL.Query().Get("deviceId")

	if deviceID != "" {
		if !s.deviceVisible(identity, deviceID) {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		writeJSON(w, http.StatusOK, s.store.ListCompliance(deviceID))
		return
	}

	events := s.store.ListCompliance("")
	out := make([]store.ComplianceEvent, 0, len(events))
	for _, evt := range events {
		if s.deviceVisible(identity, evt.DeviceID) {
			out = append(out, evt)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListAuditEvents(w http.ResponseWriter, r *http.Request) {
	identity := getIdentityFromContext(r.Context())
	if !tenant.HasWildcard(identity.Tenants) {
		writeError(w, http.StatusForbidden, "audit access requires the master scope")
		return
	}

	filter := audit.Filter{
		Action:   r.URL.Query().Get("action"),
		Actor:    r.URL.Query().Get("actor"),
		DeviceID: r.URL.Query().Get("deviceId"),
		Limit:    50,
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Limit = n
		}
	}
	if filter.Limit > 500 {
		filter.Limit = 500
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			filter.Offset = n
		}
	}

	events, err := s.auditStore.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("audit list failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list audit events")
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// deviceVisible reports whether the admin may see the device at all. A
// device with no pinned tenant yet is invisible to everyone.
func (s *Server) deviceVisible(identity *auth.Identity, deviceID string) bool {
	dev, ok := s.store.Device(deviceID)
	if !ok {
		return false
	}
	return s.policy.CanAccess(identity.Tenants, dev.Tenant)
}
