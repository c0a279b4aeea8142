// Package metrics exposes prometheus instrumentation for the event loop
// and its subsystems. Metrics are an ambient observability concern, not a
// spec'd operation: nothing in internal/ reads its own counters back, so
// this package stays a thin, injectable side-channel rather than a
// dependency the core logic reasons about.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every counter/gauge the engine and its subsystems update.
type Metrics struct {
	EventsDispatched *prometheus.CounterVec
	BackSessions     *prometheus.GaugeVec
	FrontSessions    prometheus.Gauge
	ForwardInFlight  prometheus.Gauge
	TimerFires       prometheus.Counter
	TasksCompleted   prometheus.Counter
}

// New registers every series against a fresh registry and returns both.
func New() (*Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		EventsDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meshnode_events_dispatched_total",
			Help: "Events drained from the loop queue and dispatched, by origin.",
		}, []string{"origin"}),
		BackSessions: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "meshnode_back_sessions",
			Help: "Back-plane sessions currently tracked, by authorization state.",
		}, []string{"state"}),
		FrontSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "meshnode_front_sessions",
			Help: "Front-plane client sessions currently connected.",
		}),
		ForwardInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "meshnode_forward_inflight",
			Help: "RPC forward requests awaiting a back-plane response.",
		}),
		TimerFires: factory.NewCounter(prometheus.CounterOpts{
			Name: "meshnode_timer_fires_total",
			Help: "Timer wheel entries that fired.",
		}),
		TasksCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "meshnode_task_completed_total",
			Help: "Off-loop tasks the TaskManager observed as finished.",
		}),
	}
	return m, reg
}

// Handler returns the /metrics HTTP handler for reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
