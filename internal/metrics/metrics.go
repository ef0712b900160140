// Package metrics is the metrics surface (C8): the gateway's operational
// counters and gauges, registered against a private prometheus.Registry
// and exposed at /metrics in the scraper's text format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every counter and gauge the gateway exports.
type Metrics struct {
	registry *prometheus.Registry

	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec
	APICalls    *prometheus.CounterVec
	Coalesced   *prometheus.CounterVec

	BreakerState prometheus.Gauge
	RateUsed     prometheus.Gauge
	RateRemain   prometheus.Gauge
}

// New builds the metrics surface and registers every collector.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_cache_hits_total",
			Help: "Total cache hits, per endpoint.",
		}, []string{"endpoint"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_cache_misses_total",
			Help: "Total cache misses, per endpoint.",
		}, []string{"endpoint"}),
		APICalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_api_calls_total",
			Help: "Total upstream API calls, per endpoint and status.",
		}, []string{"endpoint", "status"}),
		Coalesced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_coalesced_requests_total",
			Help: "Requests that joined an in-flight upstream call instead of starting a new one, per endpoint.",
		}, []string{"endpoint"}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_circuit_breaker_state",
			Help: "Circuit breaker state: 0=closed, 1=half_open, 2=open.",
		}),
		RateUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_rate_limit_used",
			Help: "API calls used this month.",
		}),
		RateRemain: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_rate_limit_remaining",
			Help: "API calls remaining this month.",
		}),
	}

	reg.MustRegister(m.CacheHits, m.CacheMisses, m.APICalls, m.Coalesced, m.BreakerState, m.RateUsed, m.RateRemain)

	return m
}

// Handler returns the /metrics HTTP handler exposing every registered
// collector in Prometheus text-exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SetBreakerState records the current breaker state as a gauge value.
func (m *Metrics) SetBreakerState(state int) {
	m.BreakerState.Set(float64(state))
}

// SetRateLimit records the current quota snapshot as gauge values,
// updated after each reservation or on any /health, /stats, /usage
// request.
func (m *Metrics) SetRateLimit(used, remaining int64) {
	m.RateUsed.Set(float64(used))
	m.RateRemain.Set(float64(remaining))
}
