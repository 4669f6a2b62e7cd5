// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the service's collectors around a private registry.
type Metrics struct {
	registry *prometheus.Registry

	AuthzDecisions   *prometheus.CounterVec
	CatalogRefreshes *prometheus.CounterVec
	ContextCache     *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		AuthzDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portal",
			Name:      "authz_decisions_total",
			Help:      "Authorization decisions by outcome (allowed, denied, unavailable).",
		}, []string{"outcome"}),
		CatalogRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portal",
			Name:      "role_catalog_refreshes_total",
			Help:      "Role catalog reloads by result.",
		}, []string{"result"}),
		ContextCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portal",
			Name:      "permission_context_cache_total",
			Help:      "Permission context cache lookups by result (hit, miss).",
		}, []string{"result"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portal",
			Name:      "http_requests_total",
			Help:      "HTTP requests by method and status code.",
		}, []string{"method", "code"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.AuthzDecisions,
		m.CatalogRefreshes,
		m.ContextCache,
		m.HTTPRequests,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
