package executor

import (
	"github.com/kru5ty7/browser-agent-project/pkg/tasks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for monitoring task processing. They are registered
// once per process and shared by every Executor.
var (
	// tasksProcessed counts terminal results.
	// Labels:
	//   - status: "completed", "failed" or "cancelled"
	//   - kind: task kind (e.g. "scrape", "navigate")
	tasksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "browser_agent_tasks_processed_total",
		Help: "The total number of tasks that reached a terminal status",
	}, []string{"status", "kind"})

	// taskRetries counts attempts beyond the first.
	taskRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "browser_agent_task_retries_total",
		Help: "The total number of task retries",
	}, []string{"kind"})

	// taskDuration tracks dispatch time, retries and backoff included.
	taskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "browser_agent_task_duration_seconds",
		Help:    "Duration of task execution",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	// queueLatency tracks the time a task spends queued before dispatch.
	// It is calculated as dispatch time - task.CreatedAt().
	queueLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "browser_agent_queue_latency_seconds",
		Help:    "Time spent in queue before dispatch",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	// queueDepth is refreshed by the scheduling loop on every tick.
	// Labels:
	//   - priority: "critical", "high", "medium" or "low"
	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "browser_agent_queue_depth",
		Help: "Number of queued tasks per priority",
	}, []string{"priority"})

	activeTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "browser_agent_active_tasks",
		Help: "Number of tasks currently bound to a worker",
	})
)

func recordDepths(depths map[tasks.Priority]int) {
	for p, n := range depths {
		queueDepth.WithLabelValues(p.String()).Set(float64(n))
	}
}
