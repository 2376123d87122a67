// Package metrics exposes hub counters and gauges on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the hub's instruments on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	AgentsConnected  prometheus.Gauge
	AdminsConnected  prometheus.Gauge
	ViewersActive    prometheus.Gauge
	FramesReceived   *prometheus.CounterVec
	FramesDropped    prometheus.Counter
	ConsentRequests  prometheus.Counter
	ConsentResponses *prometheus.CounterVec
	PresenceTimeouts prometheus.Counter
	AgentSupplants   prometheus.Counter
	ComplianceEvents prometheus.Counter
}

// New builds the registry and registers all instruments.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{registry: reg}

	m.AgentsConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lookout_agents_connected",
		Help: "Agent sessions currently registered",
	})
	reg.MustRegister(m.AgentsConnected)

	m.AdminsConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lookout_admins_connected",
		Help: "Admin sessions currently registered",
	})
	reg.MustRegister(m.AdminsConnected)

	m.ViewersActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lookout_viewers_active",
		Help: "Open MJPEG viewer attachments",
	})
	reg.MustRegister(m.ViewersActive)

	m.FramesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lookout_frames_received_total",
		Help: "Frames accepted from agents",
	}, []string{"encoding"})
	reg.MustRegister(m.FramesReceived)

	m.FramesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lookout_frames_dropped_total",
		Help: "Frames rejected by the ingest throttle",
	})
	reg.MustRegister(m.FramesDropped)

	m.ConsentRequests = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lookout_consent_requests_total",
		Help: "Remote access requests forwarded to agents",
	})
	reg.MustRegister(m.ConsentRequests)

	m.ConsentResponses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lookout_consent_responses_total",
		Help: "Consent responses by outcome",
	}, []string{"accepted"})
	reg.MustRegister(m.ConsentResponses)

	m.PresenceTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lookout_presence_timeouts_total",
		Help: "Devices marked offline by the presence sweep",
	})
	reg.MustRegister(m.PresenceTimeouts)

	m.AgentSupplants = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lookout_agent_supplants_total",
		Help: "Agent sessions displaced by a newer connection for the same device",
	})
	reg.MustRegister(m.AgentSupplants)

	m.ComplianceEvents = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lookout_compliance_events_total",
		Help: "Compliance events ingested from agents",
	})
	reg.MustRegister(m.ComplianceEvents)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
