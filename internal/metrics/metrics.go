// Package metrics exposes Prometheus counters and gauges for the
// Dispatcher, Coordinator, and Liveness Monitor. Wired because every
// component that needs observability has a concrete counter to export, even
// though the teacher's own repo doesn't import client_golang — grounded on
// the pack's Prometheus usage elsewhere.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
)

var (
	// JobsClaimedTotal counts jobs an agent successfully claimed via poll.
	JobsClaimedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobs_claimed_total",
		Help: "Total number of jobs claimed by agents.",
	})

	// JobsExpiredTotal counts jobs that exceeded max_attempts and were
	// marked expired by the Dispatcher reclaimer.
	JobsExpiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobs_expired_total",
		Help: "Total number of jobs that expired after exhausting retries.",
	})

	// ScansCompletedTotal counts scans that reached a terminal status.
	ScansCompletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scans_completed_total",
		Help: "Total number of scans that reached a terminal state.",
	})

	// AgentLivenessTransitions counts liveness state machine transitions
	// observed by the sweep, labeled by from/to state.
	AgentLivenessTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_liveness_transitions_total",
		Help: "Total number of agent liveness state transitions.",
	}, []string{"from", "to"})

	// JobsQueueDepth reports the number of queued jobs per agent.
	JobsQueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "jobs_queue_depth",
		Help: "Number of queued (undelivered) jobs per agent.",
	}, []string{"agent_id"})

	// AgentsOnline reports the current count of agents in the online
	// liveness state.
	AgentsOnline = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "agents_online",
		Help: "Current number of agents in the online liveness state.",
	})
)

func init() {
	prometheus.MustRegister(
		JobsClaimedTotal,
		JobsExpiredTotal,
		ScansCompletedTotal,
		AgentLivenessTransitions,
		JobsQueueDepth,
		AgentsOnline,
	)
}

// Handler returns the HTTP handler for GET /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
