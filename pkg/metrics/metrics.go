package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 分诊结果计数
	TriageOutcomeCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_outcome_count",
			Help: "Total number of triaged emails by outcome status",
		},
		[]string{"status"}, // status: replied, skipped, no_template, failed
	)

	// Embedding 调用延迟（毫秒）
	EmbeddingCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "embedding_call_latency_ms",
			Help:    "Embedding provider call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"status"},
	)

	// Graph API 调用延迟（毫秒）
	GraphCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "graph_call_latency_ms",
			Help:    "Microsoft Graph call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		},
		[]string{"endpoint", "status"},
	)

	// 数据库查询延迟（秒）
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation", "table"},
	)

	// HTTP 请求延迟（秒）
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"method", "path", "status"},
	)

	// MQ 消费延迟（毫秒）
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		},
		[]string{"routing_key", "queue"},
	)

	// 慢查询计数
	SlowQueryCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "db_slow_query_count",
			Help: "Total number of queries exceeding the slow query threshold",
		},
	)
)

// IncrementTriageOutcome 增加分诊结果计数
func IncrementTriageOutcome(status string) {
	TriageOutcomeCount.WithLabelValues(status).Inc()
}

// RecordEmbeddingCallLatency 记录 embedding 调用延迟
func RecordEmbeddingCallLatency(status string, duration time.Duration) {
	EmbeddingCallLatency.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}

// RecordGraphCallLatency 记录 Graph 调用延迟
func RecordGraphCallLatency(endpoint, status string, duration time.Duration) {
	GraphCallLatency.WithLabelValues(endpoint, status).Observe(float64(duration.Milliseconds()))
}

// RecordDBQueryDuration 记录数据库查询延迟
func RecordDBQueryDuration(operation, table string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordMQConsumeLatency 记录 MQ 消费延迟
func RecordMQConsumeLatency(routingKey, queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}

// IncrementSlowQuery 慢查询计数
func IncrementSlowQuery() {
	SlowQueryCount.Inc()
}
