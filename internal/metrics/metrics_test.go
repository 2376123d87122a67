package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMetricsExposition(t *testing.T) {
	m := New()

	m.AgentsConnected.Inc()
	m.AdminsConnected.Inc()
	m.AdminsConnected.Inc()
	m.FramesReceived.WithLabelValues("binary").Inc()
	m.FramesDropped.Inc()
	m.ConsentResponses.WithLabelValues("true").Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	text := string(body)

	for _, want := range []string{
		"lookout_agents_connected 1",
		"lookout_admins_connected 2",
		`lookout_frames_received_total{encoding="binary"} 1`,
		"lookout_frames_dropped_total 1",
		`lookout_consent_responses_total{accepted="true"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestMetricsIndependentRegistries(t *testing.T) {
	a := New()
	b := New()

	a.AgentsConnected.Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, req)

	if strings.Contains(rec.Body.String(), "lookout_agents_connected 1") {
		t.Error("registries should not share state")
	}
}
