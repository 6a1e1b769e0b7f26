// Package metrics exposes the proxy's Prometheus counters and gauges,
// registered through promauto exactly as local-agent/internal/metrics does
// for the BMC agent.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsTotal counts completed session-handler runs by outcome:
	// "established", "client_auth_failed", "protocol_mismatch",
	// "upstream_dial_failed", "upstream_protocol_mismatch",
	// "upstream_security_unsupported", "registry_error", and "io_error"
	// for a client read or write that fails before hand-off.
	SessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vncproxy_sessions_total",
			Help: "Total number of client sessions handled, by outcome.",
		},
		[]string{"outcome"},
	)

	// LiveSessions is the current count of established forwarding pairs.
	LiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vncproxy_live_sessions",
			Help: "Number of currently established forwarding pairs.",
		},
	)

	// SessionsEvicted counts sessions torn down by the mapping-removal
	// cleanup task.
	SessionsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vncproxy_sessions_evicted_total",
			Help: "Total number of sessions shut down by the cleanup task after their mapping was removed.",
		},
	)

	// RegistryMutationsTotal counts registry mutations by verb and result,
	// whether they came from the admin CLI or from the daemon's seed-file
	// loader at startup.
	RegistryMutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vncproxy_registry_mutations_total",
			Help: "Total registry mutations performed, by verb and result.",
		},
		[]string{"verb", "result"},
	)

	// RingBufferReallocationsTotal counts ring-buffer grow/shrink
	// reallocations, useful for spotting pathological churn.
	RingBufferReallocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vncproxy_ringbuffer_reallocations_total",
			Help: "Total ring buffer backing-store reallocations, by direction.",
		},
		[]string{"direction"},
	)
)
