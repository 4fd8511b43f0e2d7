package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics holds the service's Prometheus collectors. Registered against a
// dedicated registry so two services in one process do not collide.
type metrics struct {
	registry *prometheus.Registry

	decisions      *prometheus.CounterVec
	releases       *prometheus.CounterVec
	policyReloads  *prometheus.CounterVec
	unwrapFailures prometheus.Counter
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &metrics{
		registry: reg,
		decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dive_authorization_decisions_total",
			Help: "Authorization decisions by effect and reason.",
		}, []string{"effect", "reason"}),
		releases: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dive_key_releases_total",
			Help: "Key-release requests by terminal state.",
		}, []string{"state"}),
		policyReloads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dive_policy_reloads_total",
			Help: "Policy data reloads by source file and outcome.",
		}, []string{"source", "outcome"}),
		unwrapFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "dive_key_unwrap_failures_total",
			Help: "Key unwrap failures after an authorization grant.",
		}),
	}
}
