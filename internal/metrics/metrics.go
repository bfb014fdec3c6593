package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Query metrics
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsagent_queries_total",
			Help: "Total number of queries by dispatcher branch",
		},
		[]string{"branch"},
	)

	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "opsagent_query_duration_seconds",
			Help:    "End-to-end query duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"branch"},
	)

	PlanningErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "opsagent_planning_errors_total",
			Help: "Total number of planner outputs that could not be used",
		},
	)

	// Task metrics
	TaskInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsagent_task_invocations_total",
			Help: "Total number of capability invocations by outcome",
		},
		[]string{"capability", "status"},
	)

	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "opsagent_task_duration_seconds",
			Help:    "Capability invocation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"capability"},
	)

	StepsExecuted = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "opsagent_steps_per_run",
			Help:    "Number of step groups executed per scheduler run",
			Buckets: []float64{1, 2, 3, 4, 5, 8},
		},
	)

	ToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsagent_tool_calls_total",
			Help: "Total number of tool calls made by responders",
		},
		[]string{"tool", "status"},
	)

	// Review metrics
	ReviewRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsagent_review_retries_total",
			Help: "Review loop outcomes (complete, review_error, rejected, empty_plan, retried)",
		},
		[]string{"outcome"},
	)

	// Streaming metrics
	StreamNotices = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsagent_stream_notices_total",
			Help: "Total number of notices delivered to a session conduit",
		},
		[]string{"type"},
	)

	StreamNoticesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "opsagent_stream_notices_dropped_total",
			Help: "Notices dropped because the session backlog was full",
		},
	)

	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "opsagent_active_streams",
			Help: "Number of sessions with an attached consumer",
		},
	)

	// Conversation store metrics
	ConversationCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "opsagent_conversation_cache_hits_total",
			Help: "Conversation lookups served from the local cache",
		},
	)

	ConversationCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "opsagent_conversation_cache_misses_total",
			Help: "Conversation lookups that went to the backing store",
		},
	)

	ConversationAppendConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "opsagent_conversation_append_conflicts_total",
			Help: "Appends retried because another writer changed the conversation first",
		},
	)

	// Catalog metrics
	CatalogReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsagent_catalog_reloads_total",
			Help: "Responder catalog reloads applied from the watched file",
		},
		[]string{"action"},
	)

	// HTTP API metrics
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsagent_http_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"route", "status"},
	)
)

// RecordTaskMetrics records metrics for one capability invocation
func RecordTaskMetrics(capability string, failed bool, durationSeconds float64) {
	status := "success"
	if failed {
		status = "error"
	}
	TaskInvocations.WithLabelValues(capability, status).Inc()
	TaskDuration.WithLabelValues(capability).Observe(durationSeconds)
}

// RecordQueryMetrics records metrics for a finished query
func RecordQueryMetrics(branch string, durationSeconds float64) {
	QueriesTotal.WithLabelValues(branch).Inc()
	QueryDuration.WithLabelValues(branch).Observe(durationSeconds)
}
