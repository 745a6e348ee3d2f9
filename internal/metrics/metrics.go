// Package metrics is the process-local instrumentation layer: an
// in-memory atomic collector for fast reads, plus a Prometheus
// registration wrapping the same numbers for cmd/worker's "/metrics"
// endpoint.
//
// This is distinct from internal/stats, which tracks durable
// cross-process counters (stat:processed, stat:failed, ...) in Redis.
// internal/metrics tracks this process's own view: how many jobs it has
// run, how long they took, how deep its queues look right now, in an
// atomic-counter style with a Prometheus exposition layered on top.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector tracks this process's own job-processing activity in memory
// and mirrors it onto Prometheus collectors.
type Collector struct {
	totalJobsProcessed atomic.Int64
	totalJobsCompleted atomic.Int64
	totalJobsFailed    atomic.Int64

	mu             sync.RWMutex
	jobsByClass    map[string]int64
	queueDepths    map[string]int64
	totalDuration  time.Duration
	operationCount int64
	startTime      time.Time
	activeWorkers  int64
	totalWorkers   int64
	errorCount     int64

	jobsProcessed *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	queueDepth    *prometheus.GaugeVec
	workerActive  prometheus.Gauge
	workerTotal   prometheus.Gauge
}

// Snapshot is a point-in-time read of the in-memory metrics.
type Snapshot struct {
	TotalJobsProcessed int64            `json:"total_jobs_processed"`
	TotalJobsCompleted int64            `json:"total_jobs_completed"`
	TotalJobsFailed    int64            `json:"total_jobs_failed"`
	JobsByClass        map[string]int64 `json:"jobs_by_class"`
	QueueDepths        map[string]int64 `json:"queue_depths"`
	AvgJobDuration     time.Duration    `json:"avg_job_duration"`
	WorkerUtilization  float64          `json:"worker_utilization"`
	ErrorRate          float64          `json:"error_rate"`
	Uptime             time.Duration    `json:"uptime"`
}

// NewCollector builds a Collector and registers its Prometheus
// collectors against reg. Passing prometheus.NewRegistry() keeps tests
// isolated from the global default registry; cmd/worker passes
// prometheus.DefaultRegisterer in production.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		jobsByClass: make(map[string]int64),
		queueDepths: make(map[string]int64),
		startTime:   time.Now(),

		jobsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "jobyard_jobs_processed_total",
			Help: "Total number of jobs this process has run, by class and outcome.",
		}, []string{"class", "outcome"}),

		jobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "jobyard_job_duration_seconds",
			Help:    "Job Perform duration in seconds, by class.",
			Buckets: prometheus.DefBuckets,
		}, []string{"class"}),

		queueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "jobyard_queue_depth",
			Help: "Number of jobs currently waiting in a queue.",
		}, []string{"queue"}),

		workerActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "jobyard_workers_active",
			Help: "Number of workers currently processing a job.",
		}),

		workerTotal: factory.NewGauge(prometheus.GaugeOpts{
			Name: "jobyard_workers_total",
			Help: "Number of workers running in this process.",
		}),
	}
}

// RecordJobStarted marks the start of a Perform call for class.
func (c *Collector) RecordJobStarted(class string) {
	c.totalJobsProcessed.Add(1)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobsByClass[class]++
}

// RecordJobCompleted records a successful Perform call.
func (c *Collector) RecordJobCompleted(class string, duration time.Duration) {
	c.totalJobsCompleted.Add(1)
	c.jobsProcessed.WithLabelValues(class, "completed").Inc()
	c.jobDuration.WithLabelValues(class).Observe(duration.Seconds())

	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalDuration += duration
	c.operationCount++
}

// RecordJobFailed records a failed Perform call, the handler returning
// an error or the child exiting dirty.
func (c *Collector) RecordJobFailed(class string, duration time.Duration) {
	c.totalJobsFailed.Add(1)
	c.jobsProcessed.WithLabelValues(class, "failed").Inc()
	c.jobDuration.WithLabelValues(class).Observe(duration.Seconds())

	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalDuration += duration
	c.operationCount++
	c.errorCount++
}

// RecordQueueDepth updates the current depth for queue.
func (c *Collector) RecordQueueDepth(queue string, depth int64) {
	c.queueDepth.WithLabelValues(queue).Set(float64(depth))

	c.mu.Lock()
	defer c.mu.Unlock()
	c.queueDepths[queue] = depth
}

// RecordWorkerActivity updates the active/total worker gauges.
func (c *Collector) RecordWorkerActivity(active, total int64) {
	c.workerActive.Set(float64(active))
	c.workerTotal.Set(float64(total))

	c.mu.Lock()
	defer c.mu.Unlock()
	c.activeWorkers = active
	c.totalWorkers = total
}

// Snapshot returns a point-in-time read of the in-memory metrics,
// independent of whatever Prometheus has scraped so far.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	jobsByClass := make(map[string]int64, len(c.jobsByClass))
	for k, v := range c.jobsByClass {
		jobsByClass[k] = v
	}
	queueDepths := make(map[string]int64, len(c.queueDepths))
	for k, v := range c.queueDepths {
		queueDepths[k] = v
	}

	var avgDuration time.Duration
	if c.operationCount > 0 {
		avgDuration = c.totalDuration / time.Duration(c.operationCount)
	}

	var utilization float64
	if c.totalWorkers > 0 {
		utilization = float64(c.activeWorkers) / float64(c.totalWorkers) * 100
	}

	var errorRate float64
	if c.operationCount > 0 {
		errorRate = float64(c.errorCount) / float64(c.operationCount) * 100
	}

	return Snapshot{
		TotalJobsProcessed: c.totalJobsProcessed.Load(),
		TotalJobsCompleted: c.totalJobsCompleted.Load(),
		TotalJobsFailed:    c.totalJobsFailed.Load(),
		JobsByClass:        jobsByClass,
		QueueDepths:        queueDepths,
		AvgJobDuration:     avgDuration,
		WorkerUtilization:  utilization,
		ErrorRate:          errorRate,
		Uptime:             time.Since(c.startTime),
	}
}
