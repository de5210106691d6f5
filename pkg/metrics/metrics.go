// Package metrics defines the Prometheus collectors for relay traffic.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "scout"

// Search result labels.
const (
	ResultHit   = "hit"
	ResultEmpty = "empty"
	ResultError = "error"
)

// Relay holds the collectors updated by the relay. A nil *Relay is valid
// and records nothing.
type Relay struct {
	Invocations       *prometheus.CounterVec
	Active            prometheus.Gauge
	TimeToFirstToken  prometheus.Histogram
	Tokens            prometheus.Counter
	Searches          *prometheus.CounterVec
	ClientDisconnects prometheus.Counter
}

// NewRelay registers the relay collectors on reg.
func NewRelay(reg prometheus.Registerer) *Relay {
	f := promauto.With(reg)
	return &Relay{
		Invocations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "invocations_total",
			Help:      "Relay invocations by terminal outcome (done, error, cancelled).",
		}, []string{"outcome"}),
		Active: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "active",
			Help:      "Relay invocations currently streaming.",
		}),
		TimeToFirstToken: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "time_to_first_token_seconds",
			Help:      "Latency from invocation start to the first forwarded token.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		Tokens: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "tokens_total",
			Help:      "Token events forwarded to callers.",
		}),
		Searches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "company_searches_total",
			Help:      "Company searches by trigger source and result.",
		}, []string{"source", "result"}),
		ClientDisconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "client_disconnects_total",
			Help:      "Invocations abandoned by the caller before the terminal event.",
		}),
	}
}

func (m *Relay) Started() {
	if m == nil {
		return
	}
	m.Active.Inc()
}

// Finished records the outcome and releases the active slot.
func (m *Relay) Finished(outcome string) {
	if m == nil {
		return
	}
	m.Active.Dec()
	m.Invocations.WithLabelValues(outcome).Inc()
	if outcome == "cancelled" {
		m.ClientDisconnects.Inc()
	}
}

func (m *Relay) FirstToken(since time.Duration) {
	if m == nil {
		return
	}
	m.TimeToFirstToken.Observe(since.Seconds())
}

func (m *Relay) Token() {
	if m == nil {
		return
	}
	m.Tokens.Inc()
}

func (m *Relay) Search(source, result string) {
	if m == nil {
		return
	}
	m.Searches.WithLabelValues(source, result).Inc()
}
