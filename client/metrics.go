package client

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for one client. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry prometheus.Gatherer

	responses     *prometheus.CounterVec
	exchanges     *prometheus.CounterVec
	exchangeTime  prometheus.Histogram
	invalidations prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg gets a private registry, available through Gatherer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		responses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "shopauth",
				Subsystem: "gateway",
				Name:      "responses_total",
				Help:      "Gateway responses by outcome kind.",
			},
			[]string{"kind"},
		),
		exchanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "shopauth",
				Subsystem: "token",
				Name:      "exchanges_total",
				Help:      "Token endpoint exchanges by result.",
			},
			[]string{"result"},
		),
		exchangeTime: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "shopauth",
				Subsystem: "token",
				Name:      "exchange_duration_seconds",
				Help:      "Duration of token endpoint exchanges.",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
			},
		),
		invalidations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "shopauth",
				Subsystem: "session",
				Name:      "invalidations_total",
				Help:      "User sessions invalidated after confirmed expiry.",
			},
		),
	}

	if reg == nil {
		r := prometheus.NewRegistry()
		reg = r
		m.registry = r
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		m.registry = g
	}
	reg.MustRegister(m.responses, m.exchanges, m.exchangeTime, m.invalidations)
	return m
}

// Gatherer returns the registry the collectors were registered with, when it can gather
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) observeResponse(kind string) {
	if m == nil {
		return
	}
	m.responses.WithLabelValues(kind).Inc()
}

func (m *Metrics) observeExchange(result string, started time.Time) {
	if m == nil {
		return
	}
	m.exchanges.WithLabelValues(result).Inc()
	m.exchangeTime.Observe(time.Since(started).Seconds())
}

func (m *Metrics) observeInvalidation() {
	if m == nil {
		return
	}
	m.invalidations.Inc()
}
