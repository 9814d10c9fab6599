package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the assistant.
type Metrics struct {
	registry *prometheus.Registry

	ModeTransitions  *prometheus.CounterVec
	AuthOutcomes     *prometheus.CounterVec
	PlaybackRequests *prometheus.CounterVec
	SessionsActive   prometheus.Gauge
	CallsActive      prometheus.Gauge
}

// New creates a Metrics instance with every collector registered on a private registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "jarvis"
	}
	registry := prometheus.NewRegistry()

	modeTransitions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mode_transitions_total",
			Help:      "Interaction mode transitions",
		},
		[]string{"from", "to"},
	)
	authOutcomes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authorization_outcomes_total",
			Help:      "Resolved authorization sessions by outcome",
		},
		[]string{"outcome"},
	)
	playbackRequests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_requests_total",
			Help:      "Playback control requests by action and result",
		},
		[]string{"action", "result"},
	)
	sessionsActive := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Open websocket sessions",
	})
	callsActive := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "calls_active",
		Help:      "Phone calls with a live conversation",
	})

	registry.MustRegister(modeTransitions, authOutcomes, playbackRequests, sessionsActive, callsActive)

	return &Metrics{
		registry:         registry,
		ModeTransitions:  modeTransitions,
		AuthOutcomes:     authOutcomes,
		PlaybackRequests: playbackRequests,
		SessionsActive:   sessionsActive,
		CallsActive:      callsActive,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordMode records an interaction mode change. Nil receivers are ignored.
func (m *Metrics) RecordMode(from, to string) {
	if m == nil || from == to {
		return
	}
	m.ModeTransitions.WithLabelValues(from, to).Inc()
}

// RecordAuth records how an authorization session resolved.
func (m *Metrics) RecordAuth(outcome string) {
	if m == nil {
		return
	}
	m.AuthOutcomes.WithLabelValues(outcome).Inc()
}

// RecordPlayback records a playback control request.
func (m *Metrics) RecordPlayback(action, result string) {
	if m == nil {
		return
	}
	m.PlaybackRequests.WithLabelValues(action, result).Inc()
}

// SessionOpened and SessionClosed track websocket sessions.
func (m *Metrics) SessionOpened() {
	if m != nil {
		m.SessionsActive.Inc()
	}
}

func (m *Metrics) SessionClosed() {
	if m != nil {
		m.SessionsActive.Dec()
	}
}

// CallStarted and CallEnded track phone conversations.
func (m *Metrics) CallStarted() {
	if m != nil {
		m.CallsActive.Inc()
	}
}

func (m *Metrics) CallEnded() {
	if m != nil {
		m.CallsActive.Dec()
	}
}
