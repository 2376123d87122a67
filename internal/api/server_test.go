package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lookout-fleet/lookout/internal/audit"
	"github.com/lookout-fleet/lookout/internal/auth"
	"github.com/lookout-fleet/lookout/internal/config"
	"github.com/lookout-fleet/lookout/internal/metrics"
	"github.com/lookout-fleet/lookout/internal/store"
	"github.com/lookout-fleet/lookout/internal/stream"
	"github.com/lookout-fleet/lookout/internal/tenant"
	"github.com/lookout-fleet/lookout/pkg/protocol"
)

// recordingSignaller captures viewer gate transitions instead of talking to
// a live agent session.
type recordingSignaller struct {
	mu       sync.Mutex
	enables  []string
	disables []string
}

func (r *recordingSignaller) StreamEnable(deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enables = append(r.enables, deviceID)
}

func (r *recordingSignaller) StreamDisable(deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disables = append(r.disables, deviceID)
}

type apiFixture struct {
	srv    *Server
	store  *store.Store
	auth   *auth.Service
	frames *stream.FrameStore
	gate   *stream.ViewerGate
	signal *recordingSignaller
	http   *httptest.Server
}

func newTestServer(t *testing.T) *apiFixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.New(t.TempDir(), store.NewLogRing(64), logger)
	if err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{
		Server: config.ServerConfig{
			AllowedOrigins: []string{"*"},
			MaxBodyBytes:   1024 * 1024,
		},
		Auth: config.AuthConfig{
			JWTSecret: "api-test-secret-at-least-32-chars-ok",
			JWTExpiry: config.Duration{Duration: time.Hour},
		},
		Tenancy: config.TenancyConfig{
			Tenants:       tenant.DefaultTenants(),
			DefaultTenant: "CLA1",
		},
		Stream: config.StreamConfig{
			ViewerTick: config.Duration{Duration: 10 * time.Millisecond},
		},
		RateLimit: config.RateLimitConfig{
			RequestsPerSecond: 1000,
			Burst:             1000,
			LoginPerMinute:    1000,
		},
	}

	svc, err := auth.NewService(cfg.Auth)
	if err != nil {
		t.Fatal(err)
	}
	auditStore, err := audit.NewStore(config.AuditConfig{Driver: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = auditStore.Close() })

	frames := stream.NewFrameStore(0)
	sig := &recordingSignaller{}
	gate := stream.NewViewerGate(sig)

	srv := NewServer(st, svc, svc, tenant.NewPolicy(cfg.Tenancy.Tenants), frames, gate,
		func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNotImplemented) },
		metrics.New(), audit.NewRecorder(auditStore, logger), auditStore, cfg, logger)

	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)

	return &apiFixture{srv: srv, store: st, auth: svc, frames: frames, gate: gate, signal: sig, http: hs}
}

func (f *apiFixture) loginToken(t *testing.T, username, password string) string {
	t.Helper()
	body := fmt.Sprintf(`{"username":%q,"password":%q}`, username, password)
	resp, err := http.Post(f.http.URL+"/api/login", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d, want 200", resp.StatusCode)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return out.Token
}

func (f *apiFixture) get(t *testing.T, path, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, f.http.URL+path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatal(err)
	}
	return v
}

func TestLoginAndTenantScopedDevices(t *testing.T) {
	f := newTestServer(t)

	if _, err := f.store.Connect("dev-42", "CLA1", "1.0.5"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.store.Connect("dev-99", "DLA2", "2.0.0"); err != nil {
		t.Fatal(err)
	}

	body := `{"username":"adminCLA","password":"@ims1234!"}`
	resp, err := http.Post(f.http.URL+"/api/login", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	login := decodeBody[struct {
		Token string `json:"token"`
		User  struct {
			Username       string   `json:"username"`
			AllowedTenants []string `json:"allowedTenants"`
		} `json:"user"`
	}](t, resp)

	if login.Token == "" {
		t.Fatal("login returned no token")
	}
	if login.User.Username != "adminCLA" {
		t.Errorf("user.username = %q, want adminCLA", login.User.Username)
	}
	if len(login.User.AllowedTenants) != 2 || login.User.AllowedTenants[0] != "CLA1" {
		t.Errorf("allowedTenants = %v, want [CLA1 CLA2]", login.User.AllowedTenants)
	}

	devResp := f.get(t, "/api/devices", login.Token)
	if devResp.StatusCode != http.StatusOK {
		t.Fatalf("devices status = %d, want 200", devResp.StatusCode)
	}
	devices := decodeBody[[]protocol.DeviceSummary](t, devResp)
	if len(devices) != 1 {
		t.Fatalf("devices = %d rows, want 1 (tenant filtered)", len(devices))
	}
	if devices[0].DeviceID != "dev-42" || !devices[0].Connected {
		t.Errorf("row = %+v, want connected dev-42", devices[0])
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	f := newTestServer(t)

	resp, err := http.Post(f.http.URL+"/api/login", "application/json",
		strings.NewReader(`{"username":"adminCLA","password":"wrong"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestMasterAdminSeesEverything(t *testing.T) {
	f := newTestServer(t)

	for _, d := range []struct{ id, tenant string }{
		{"dev-1", "CLA1"}, {"dev-2", "CLA2"}, {"dev-3", "DLA1"}, {"dev-4", "DLA2"},
	} {
		if _, err := f.store.Connect(d.id, d.tenant, ""); err != nil {
			t.Fatal(err)
		}
	}

	token := f.loginToken(t, "admin", "@ims1234!")
	devices := decodeBody[[]protocol.DeviceSummary](t, f.get(t, "/api/devices", token))
	if len(devices) != 4 {
		t.Fatalf("master admin sees %d devices, want 4", len(devices))
	}
}

func TestUnknownAPIRouteReturnsJSON404(t *testing.T) {
	f := newTestServer(t)

	resp, err := http.Get(f.http.URL + "/api/nope/nothing")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("content type = %q, want JSON", ct)
	}
	body := decodeBody[map[string]string](t, resp)
	if body["error"] != "API route not found" {
		t.Errorf("error = %q, want %q", body["error"], "API route not found")
	}
	if body["path"] != "/api/nope/nothing" || body["method"] != http.MethodGet {
		t.Errorf("body = %v, want method and path echoed", body)
	}
}

func TestHealthUnauthenticated(t *testing.T) {
	f := newTestServer(t)

	resp, err := http.Get(f.http.URL + "/api/health")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody[map[string]any](t, resp)
	if body["ok"] != true {
		t.Errorf("ok = %v, want true", body["ok"])
	}
	if resp.Header.Get("Cache-Control") != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", resp.Header.Get("Cache-Control"))
	}
}

func TestAliasLifecycle(t *testing.T) {
	f := newTestServer(t)

	if _, err := f.store.Connect("dev-42", "CLA1", ""); err != nil {
		t.Fatal(err)
	}
	token := f.loginToken(t, "adminCLA", "@ims1234!")

	put := func(body string) *http.Response {
		req, err := http.NewRequest(http.MethodPut, f.http.URL+"/api/device-aliases/dev-42", bytes.NewReader([]byte(body)))
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		return resp
	}

	// Missing label field is a bad request.
	resp := put(`{}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing label status = %d, want 400", resp.StatusCode)
	}

	resp = put(`{"label":"Front Register"}`)
	out := decodeBody[map[string]any](t, resp)
	if out["ok"] != true || out["label"] != "Front Register" {
		t.Fatalf("put response = %v", out)
	}

	aliases := decodeBody[map[string]store.Alias](t, f.get(t, "/api/device-aliases", token))
	if aliases["dev-42"].Label != "Front Register" {
		t.Fatalf("aliases = %v, want dev-42 labelled", aliases)
	}

	// Empty label deletes the entry.
	resp = put(`{"label":""}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d, want 200", resp.StatusCode)
	}
	aliases = decodeBody[map[string]store.Alias](t, f.get(t, "/api/device-aliases", token))
	if _, ok := aliases["dev-42"]; ok {
		t.Fatal("alias survived an empty-label put")
	}
}

func TestAliasForbiddenOutOfTenant(t *testing.T) {
	f := newTestServer(t)

	if _, err := f.store.Connect("dev-42", "CLA1", ""); err != nil {
		t.Fatal(err)
	}
	token := f.loginToken(t, "adminDLA", "@ims1234!")

	req, err := http.NewRequest(http.MethodPut, f.http.URL+"/api/device-aliases/dev-42",
		strings.NewReader(`{"label":"nope"}`))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
}

func TestComplianceListTenantFiltered(t *testing.T) {
	f := newTestServer(t)

	if _, err := f.store.Connect("dev-42", "CLA1", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := f.store.Connect("dev-99", "DLA2", ""); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"dev-42", "dev-99"} {
		if _, err := f.store.AppendCompliance(store.ComplianceEvent{DeviceID: id, Severity: "high"}); err != nil {
			t.Fatal(err)
		}
	}

	token := f.loginToken(t, "adminCLA", "@ims1234!")

	events := decodeBody[[]store.ComplianceEvent](t, f.get(t, "/api/compliance/events", token))
	if len(events) != 1 || events[0].DeviceID != "dev-42" {
		t.Fatalf("events = %v, want only dev-42", events)
	}

	// Filtering by a device of another tenant is forbidden outright.
	resp := f.get(t, "/api/compliance/events?deviceId=dev-99", token)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
}

func TestFrameEndpoint(t *testing.T) {
	f := newTestServer(t)

	if _, err := f.store.Connect("dev-42", "CLA1", ""); err != nil {
		t.Fatal(err)
	}
	token := f.loginToken(t, "adminCLA", "@ims1234!")

	resp := f.get(t, "/api/devices/dev-42/frame", token)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("no-frame status = %d, want 404", resp.StatusCode)
	}

	jpeg := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x01, 0x02, 0xFF, 0xD9}
	f.frames.Ingest("dev-42", jpeg, "image/jpeg")

	resp = f.get(t, "/api/devices/dev-42/frame", token)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("frame status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("content type = %q, want image/jpeg", ct)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(body, jpeg) {
		t.Error("frame body differs from the ingested bytes")
	}
}

func TestTokenInQueryAuthorizesStreams(t *testing.T) {
	f := newTestServer(t)

	if _, err := f.store.Connect("dev-42", "CLA1", ""); err != nil {
		t.Fatal(err)
	}
	f.frames.Ingest("dev-42", []byte{0xFF, 0xD8}, "image/jpeg")
	token := f.loginToken(t, "adminCLA", "@ims1234!")

	resp, err := http.Get(f.http.URL + "/api/devices/dev-42/frame?token=" + token)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("query-token status = %d, want 200", resp.StatusCode)
	}

	resp, err = http.Get(f.http.URL + "/api/devices/dev-42/frame")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no-token status = %d, want 401", resp.StatusCode)
	}
}

func TestMJPEGStreamsAndGates(t *testing.T) {
	f := newTestServer(t)

	if _, err := f.store.Connect("dev-42", "CLA1", ""); err != nil {
		t.Fatal(err)
	}
	jpeg := []byte{0xFF, 0xD8, 0xFF, 0xD9}
	f.frames.Ingest("dev-42", jpeg, "image/jpeg")
	token := f.loginToken(t, "adminCLA", "@ims1234!")

	resp, err := http.Get(f.http.URL + "/api/devices/dev-42/mjpeg?token=" + token)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "multipart/x-mixed-replace") {
		t.Fatalf("content type = %q, want multipart/x-mixed-replace", ct)
	}

	// Read one part, then hang up; the gate must return to zero.
	buf := make([]byte, 256)
	n, err := resp.Body.Read(buf)
	if err != nil && n == 0 {
		t.Fatal(err)
	}
	if !strings.Contains(string(buf[:n]), "--frame") {
		t.Fatalf("first chunk = %q, want a --frame boundary", buf[:n])
	}
	resp.Body.Close()

	deadline := time.After(2 * time.Second)
	for f.gate.Count("dev-42") != 0 {
		select {
		case <-deadline:
			t.Fatal("viewer gate did not release after the client disconnected")
		case <-time.After(10 * time.Millisecond):
		}
	}

	f.signal.mu.Lock()
	defer f.signal.mu.Unlock()
	if len(f.signal.enables) != 1 || len(f.signal.disables) != 1 {
		t.Fatalf("signals = %d enables / %d disables, want 1 / 1", len(f.signal.enables), len(f.signal.disables))
	}
}

func TestMJPEGForbiddenOutOfTenant(t *testing.T) {
	f := newTestServer(t)

	if _, err := f.store.Connect("dev-42", "CLA1", ""); err != nil {
		t.Fatal(err)
	}
	token := f.loginToken(t, "adminDLA", "@ims1234!")

	resp, err := http.Get(f.http.URL + "/api/devices/dev-42/mjpeg?token=" + token)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
	if f.gate.Count("dev-42") != 0 {
		t.Fatal("forbidden viewer changed the gate count")
	}
	f.signal.mu.Lock()
	defer f.signal.mu.Unlock()
	if len(f.signal.enables) != 0 {
		t.Fatal("forbidden viewer signalled the agent")
	}
}

func TestAuditEventsRequireMasterScope(t *testing.T) {
	f := newTestServer(t)

	scoped := f.loginToken(t, "adminCLA", "@ims1234!")
	resp := f.get(t, "/api/audit/events", scoped)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("scoped admin status = %d, want 403", resp.StatusCode)
	}

	master := f.loginToken(t, "admin", "@ims1234!")
	resp = f.get(t, "/api/audit/events", master)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("master status = %d, want 200", resp.StatusCode)
	}
	events := decodeBody[[]audit.Event](t, resp)
	// The two logins above were audited.
	if len(events) < 2 {
		t.Fatalf("audit events = %d, want at least the two logins", len(events))
	}
}

func TestLogsEndpoint(t *testing.T) {
	f := newTestServer(t)

	f.store.AppendLog("INFO", "agent connected", map[string]any{"deviceId": "dev-42"})
	token := f.loginToken(t, "admin", "@ims1234!")

	logs := decodeBody[[]store.LogEntry](t, f.get(t, "/api/logs", token))
	if len(logs) != 1 || logs[0].Msg != "agent connected" {
		t.Fatalf("logs = %v, want the appended entry", logs)
	}
}
