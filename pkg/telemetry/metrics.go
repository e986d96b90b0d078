// Package telemetry exposes the broker's Prometheus metrics.
//
// All collectors are registered on a private registry so tests can
// construct independent instances without global registration conflicts.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Circuit state gauge values.
const (
	CircuitStateClosed   = 0
	CircuitStateHalfOpen = 1
	CircuitStateOpen     = 2
)

// Metrics holds every collector emitted by the broker.
type Metrics struct {
	registry *prometheus.Registry

	tokenAcquired     *prometheus.CounterVec
	cacheOperation    *prometheus.CounterVec
	httpRequest       *prometheus.CounterVec
	rateLimitRejected *prometheus.CounterVec
	circuitTransition *prometheus.CounterVec

	acquireDuration  *prometheus.HistogramVec
	upstreamDuration *prometheus.HistogramVec

	tokenExpiresIn *prometheus.GaugeVec
	circuitState   *prometheus.GaugeVec
}

// NewMetrics creates all collectors on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto{registry}

	return &Metrics{
		registry: registry,
		tokenAcquired: factory.counterVec(
			"oauth_token_acquired_total",
			"Token acquisition attempts by result.",
			[]string{"server", "provider", "result"},
		),
		cacheOperation: factory.counterVec(
			"oauth_token_cache_operation_total",
			"Token cache hits and misses.",
			[]string{"server", "op"},
		),
		httpRequest: factory.counterVec(
			"oauth_http_request_total",
			"Proxied upstream requests by status class.",
			[]string{"server", "method", "status_class"},
		),
		rateLimitRejected: factory.counterVec(
			"oauth_rate_limit_rejected_total",
			"Requests rejected by the rate limiter.",
			[]string{"key_kind"},
		),
		circuitTransition: factory.counterVec(
			"oauth_circuit_transition_total",
			"Circuit breaker state transitions.",
			[]string{"server", "from", "to"},
		),
		acquireDuration: factory.histogramVec(
			"oauth_token_acquire_duration_seconds",
			"Duration of token acquisition calls.",
			[]string{"server", "provider", "result"},
		),
		upstreamDuration: factory.histogramVec(
			"oauth_upstream_request_duration_seconds",
			"Duration of proxied upstream requests.",
			[]string{"server", "method", "status_class"},
		),
		tokenExpiresIn: factory.gaugeVec(
			"oauth_token_expires_in_seconds",
			"Seconds until the cached token expires.",
			[]string{"server"},
		),
		circuitState: factory.gaugeVec(
			"oauth_circuit_state",
			"Circuit breaker state (0=Closed, 1=HalfOpen, 2=Open).",
			[]string{"server"},
		),
	}
}

// promauto is a thin helper that registers collectors on the private registry.
type promauto struct {
	registry *prometheus.Registry
}

func (f promauto) counterVec(name, help string, labels []string) *prometheus.CounterVec {
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
	f.registry.MustRegister(vec)
	return vec
}

func (f promauto) histogramVec(name, help string, labels []string) *prometheus.HistogramVec {
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    name,
		Help:    help,
		Buckets: prometheus.DefBuckets,
	}, labels)
	f.registry.MustRegister(vec)
	return vec
}

func (f promauto) gaugeVec(name, help string, labels []string) *prometheus.GaugeVec {
	vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, labels)
	f.registry.MustRegister(vec)
	return vec
}

// Handler returns the /metrics endpoint handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for test assertions.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordTokenAcquired counts one acquisition attempt and its duration.
func (m *Metrics) RecordTokenAcquired(server, provider, result string, seconds float64) {
	m.tokenAcquired.WithLabelValues(server, provider, result).Inc()
	m.acquireDuration.WithLabelValues(server, provider, result).Observe(seconds)
}

// RecordCacheOperation counts a cache hit or miss for a server.
func (m *Metrics) RecordCacheOperation(server, op string) {
	m.cacheOperation.WithLabelValues(server, op).Inc()
}

// RecordUpstreamRequest counts a proxied request and its duration.
func (m *Metrics) RecordUpstreamRequest(server, method, statusClass string, seconds float64) {
	m.httpRequest.WithLabelValues(server, method, statusClass).Inc()
	m.upstreamDuration.WithLabelValues(server, method, statusClass).Observe(seconds)
}

// RecordRateLimitRejected counts a rejected request by key kind.
func (m *Metrics) RecordRateLimitRejected(keyKind string) {
	m.rateLimitRejected.WithLabelValues(keyKind).Inc()
}

// RecordCircuitTransition counts a breaker transition and updates the state gauge.
func (m *Metrics) RecordCircuitTransition(server, from, to string, state float64) {
	m.circuitTransition.WithLabelValues(server, from, to).Inc()
	m.circuitState.WithLabelValues(server).Set(state)
}

// SetTokenExpiresIn updates the expiry gauge after a refresh.
func (m *Metrics) SetTokenExpiresIn(server string, seconds float64) {
	m.tokenExpiresIn.WithLabelValues(server).Set(seconds)
}
