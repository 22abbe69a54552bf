// Package metrics exposes Prometheus instrumentation for the orchestrator.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TasksExecuted counts task executions by role and terminal result.
	TasksExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codeframe_tasks_executed_total",
		Help: "Task executions by agent role and result.",
	}, []string{"role", "result"})

	// TaskRetries counts re-queued failed attempts.
	TaskRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codeframe_task_retries_total",
		Help: "Failed task attempts that were re-queued.",
	})

	// EventsPublished counts persisted events by kind.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codeframe_events_published_total",
		Help: "Events appended to the log, by kind.",
	}, []string{"kind"})

	// SubscriberFramesDropped counts frames dropped on slow subscribers.
	SubscriberFramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codeframe_subscriber_frames_dropped_total",
		Help: "Telemetry frames dropped due to full subscriber queues.",
	})

	// SubscriberEvictions counts subscribers dropped for falling behind.
	SubscriberEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codeframe_subscriber_evictions_total",
		Help: "Subscribers evicted after repeated queue overflows.",
	})

	// CompletionTokens counts LLM tokens by model and direction (in/out).
	CompletionTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codeframe_completion_tokens_total",
		Help: "LLM tokens consumed, by model and direction.",
	}, []string{"model", "direction"})

	// CompletionCostCents accumulates billed cost by model.
	CompletionCostCents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codeframe_completion_cost_cents_total",
		Help: "Billed LLM cost in cents, by model.",
	}, []string{"model"})

	// GateFailures counts quality gate failures by gate.
	GateFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codeframe_gate_failures_total",
		Help: "Quality gate failures, by gate.",
	}, []string{"gate"})

	// ActiveAgents tracks agents currently marked busy.
	ActiveAgents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "codeframe_active_agents",
		Help: "Agents currently executing a task.",
	})
)

// Handler returns the /metrics scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
