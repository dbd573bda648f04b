// Package metrics exposes Prometheus collectors for the orchestrator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsStarted counts jobs handed to the scheduler.
	JobsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netman_jobs_started_total",
		Help: "Automation jobs started.",
	})

	// JobsFinished counts jobs by terminal status.
	JobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "netman_jobs_finished_total",
		Help: "Automation jobs finished, by terminal status.",
	}, []string{"status"})

	// CommandsExecuted counts command executions by outcome.
	CommandsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "netman_commands_executed_total",
		Help: "Device commands executed, by outcome.",
	}, []string{"status"})

	// ConnectionFailures counts failed session establishment attempts.
	ConnectionFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netman_connection_failures_total",
		Help: "Failed device connection attempts.",
	})

	// LiveSessions tracks currently open device sessions. Bounded by the
	// job batch size at all times.
	LiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "netman_live_sessions",
		Help: "Currently open device sessions.",
	})

	// ProgressEventsDropped counts events dropped past a slow subscriber's
	// replay window.
	ProgressEventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netman_progress_events_dropped_total",
		Help: "Progress events dropped for lagging subscribers.",
	})
)
