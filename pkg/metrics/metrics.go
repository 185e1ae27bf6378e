package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 后端 API 调用延迟（秒）
	BackendCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backend_call_duration_seconds",
			Help:    "Project backend API call duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
		[]string{"operation", "outcome"},
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

	// 慢查询计数
	SlowQueryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_slow_query_count",
			Help: "Total number of queries slower than the configured threshold",
		},
		[]string{"statement"},
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

	// 状态变更计数
	StatusTransitionCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timeline_status_transition_count",
			Help: "Total number of module status transitions by sync outcome",
		},
		[]string{"status", "outcome"}, // outcome: local, committed, queued, failed, stale
	)

	// 时间线缓存命中
	TimelineCacheCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timeline_cache_count",
			Help: "Timeline loader cache lookups",
		},
		[]string{"result"}, // hit, miss, error
	)

	// Outbox 事件处理计数
	OutboxEventCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_event_count",
			Help: "Outbox events processed by the dispatcher",
		},
		[]string{"routing_key", "result"}, // sent, retry, failed
	)

	// 熔断器状态（0 closed, 1 open, 2 half-open）
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Current circuit breaker state",
		},
		[]string{"name"},
	)
)

// RecordBackendCall 记录后端调用延迟
func RecordBackendCall(operation, outcome string, duration time.Duration) {
	BackendCallDuration.WithLabelValues(operation, outcome).Observe(duration.Seconds())
}

// RecordDBQueryDuration 记录数据库查询延迟
func RecordDBQueryDuration(operation, table string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// IncrementSlowQuery 增加慢查询计数
func IncrementSlowQuery(statement string, _ time.Duration) {
	SlowQueryCount.WithLabelValues(statement).Inc()
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// IncrementStatusTransition 增加状态变更计数
func IncrementStatusTransition(status, outcome string) {
	StatusTransitionCount.WithLabelValues(status, outcome).Inc()
}

// IncrementTimelineCache 记录缓存查询结果
func IncrementTimelineCache(result string) {
	TimelineCacheCount.WithLabelValues(result).Inc()
}

// IncrementOutboxEvent 记录 outbox 事件处理结果
func IncrementOutboxEvent(routingKey, result string) {
	OutboxEventCount.WithLabelValues(routingKey, result).Inc()
}

// SetCircuitBreakerState 设置熔断器状态
func SetCircuitBreakerState(name string, state int) {
	CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}
