// Package metrics holds the Prometheus collectors for the enroll core.
//
// Collectors are constructed against an injected registerer so tests and
// multi-instance setups never share module-level state.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the core's Prometheus collectors.
type Metrics struct {
	CacheHits       *prometheus.CounterVec
	CacheMisses     *prometheus.CounterVec
	RemoteRetries   *prometheus.CounterVec
	RemoteFailures  *prometheus.CounterVec
	Assignments     prometheus.Counter
	Registrations   *prometheus.CounterVec
	SessionsEvicted prometheus.Counter
}

// New creates and registers the collectors with the given registerer.
// A nil registerer yields collectors that count but are never scraped,
// which keeps instrumented code free of nil checks.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	factory := promauto.With(registry)

	return &Metrics{
		CacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "enroll_tablestore_cache_hits_total",
			Help: "Total number of table fetches served from the in-memory snapshot",
		}, []string{"table"}),
		CacheMisses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "enroll_tablestore_cache_misses_total",
			Help: "Total number of table fetches that required a remote read",
		}, []string{"table"}),
		RemoteRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "enroll_tablestore_remote_retries_total",
			Help: "Total number of retried remote spreadsheet calls",
		}, []string{"table"}),
		RemoteFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "enroll_tablestore_remote_failures_total",
			Help: "Total number of remote spreadsheet calls that exhausted retries",
		}, []string{"table"}),
		Assignments: factory.NewCounter(prometheus.CounterOpts{
			Name: "enroll_position_assignments_total",
			Help: "Total number of committed position assignments",
		}),
		Registrations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "enroll_registrations_total",
			Help: "Total number of completed registration flows",
		}, []string{"flow"}),
		SessionsEvicted: factory.NewCounter(prometheus.CounterOpts{
			Name: "enroll_sessions_evicted_total",
			Help: "Total number of idle sessions removed by the TTL sweeper",
		}),
	}
}
