package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MQ 消费延迟（毫秒）
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"routing_key", "queue"},
	)

	// 文本生成调用延迟（毫秒）
	GeneratorCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "generator_call_latency_ms",
			Help:    "Text generation backend call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(100, 2, 10), // 100ms to ~100s
		},
		[]string{"provider", "status"},
	)

	// 慢查询计数
	SlowQueryCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "db_slow_query_count",
			Help: "Total number of database queries above the slow threshold",
		},
	)

	// 慢查询耗时（秒）
	SlowQueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "db_slow_query_duration_seconds",
			Help:    "Duration of slow database queries in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 8), // 100ms to ~12s
		},
	)

	// HTTP 请求延迟（秒）
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)

	// Agent 任务终态计数
	AgentTaskCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_task_count",
			Help: "Total number of agent tasks by task type and status",
		},
		[]string{"task_type", "status"},
	)

	// 工作流步骤计数
	WorkflowStepCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_step_count",
			Help: "Total number of workflow steps by outcome",
		},
		[]string{"status"},
	)

	// 习惯打卡计数
	HabitCompletionCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "habit_completion_count",
			Help: "Total number of habit completion changes",
		},
		[]string{"action"}, // action: complete, uncomplete
	)
)

// RecordMQConsumeLatency 记录 MQ 消费延迟
func RecordMQConsumeLatency(routingKey, queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}

// RecordGeneratorCallLatency 记录文本生成调用延迟
func RecordGeneratorCallLatency(provider, status string, duration time.Duration) {
	GeneratorCallLatency.WithLabelValues(provider, status).Observe(float64(duration.Milliseconds()))
}

// RecordSlowQuery 记录慢查询
func RecordSlowQuery(duration time.Duration) {
	SlowQueryCount.Inc()
	SlowQueryDuration.Observe(duration.Seconds())
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// IncrementAgentTask 增加任务终态计数
func IncrementAgentTask(taskType, status string) {
	AgentTaskCount.WithLabelValues(taskType, status).Inc()
}

// IncrementWorkflowStep 增加工作流步骤计数
func IncrementWorkflowStep(status string) {
	WorkflowStepCount.WithLabelValues(status).Inc()
}

// IncrementHabitCompletion 增加习惯打卡计数
func IncrementHabitCompletion(action string) {
	HabitCompletionCount.WithLabelValues(action).Inc()
}
