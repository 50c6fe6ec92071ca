package listener

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors of a Server, registered on their
// own registry so several servers can coexist in one test binary.
type Metrics struct {
	registry *prometheus.Registry

	Requests  *prometheus.CounterVec
	Duration  *prometheus.HistogramVec
	InFlight  *prometheus.GaugeVec
	Suspended *prometheus.GaugeVec
}

// NewMetrics creates the listener collectors on a new registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "apptest",
				Subsystem: "listener",
				Name:      "requests_total",
				Help:      "Total number of exchanges completed, by status code",
			},
			[]string{"listener", "code"},
		),
		Duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "apptest",
				Subsystem: "listener",
				Name:      "request_duration_seconds",
				Help:      "Exchange duration in seconds, including suspension",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"listener"},
		),
		InFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "apptest",
				Subsystem: "listener",
				Name:      "in_flight",
				Help:      "Exchanges currently being served",
			},
			[]string{"listener"},
		),
		Suspended: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "apptest",
				Subsystem: "listener",
				Name:      "suspended",
				Help:      "Exchanges currently suspended",
			},
			[]string{"listener"},
		),
	}
	m.registry.MustRegister(m.Requests, m.Duration, m.InFlight, m.Suspended)
	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) begin(listener string) {
	if m == nil {
		return
	}
	m.InFlight.WithLabelValues(listener).Inc()
}

func (m *Metrics) end(listener string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.InFlight.WithLabelValues(listener).Dec()
	m.Requests.WithLabelValues(listener, strconv.Itoa(status)).Inc()
	m.Duration.WithLabelValues(listener).Observe(elapsed.Seconds())
}

func (m *Metrics) suspend(listener string, delta float64) {
	if m == nil {
		return
	}
	m.Suspended.WithLabelValues(listener).Add(delta)
}
