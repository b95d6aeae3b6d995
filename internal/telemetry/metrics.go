package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/shaiso/autonet/internal/domain"
	"github.com/shaiso/autonet/internal/engine"
)

// Metrics — Prometheus-метрики выполнения графов.
//
// Metrics реализует engine.Observer: движок сообщает о каждом job'е.
type Metrics struct {
	jobsStarted   *prometheus.CounterVec
	jobsFinished  *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	runsFinished  *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	effortMinutes *prometheus.CounterVec
	activeRuns    prometheus.Gauge
}

// NewMetrics регистрирует метрики в reg.
// nil означает prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		jobsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autonet",
			Name:      "jobs_started_total",
			Help:      "Jobs started by the engine.",
		}, []string{"graph", "type"}),
		jobsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autonet",
			Name:      "jobs_finished_total",
			Help:      "Jobs finished by the engine, by outcome.",
		}, []string{"graph", "type", "outcome"}),
		jobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "autonet",
			Name:      "job_duration_seconds",
			Help:      "Job execution time.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"graph", "type"}),
		runsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autonet",
			Name:      "runs_finished_total",
			Help:      "Top-level runs finished, by status.",
		}, []string{"graph", "status"}),
		runDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "autonet",
			Name:      "run_duration_seconds",
			Help:      "Top-level run execution time.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 8),
		}, []string{"graph"}),
		effortMinutes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autonet",
			Name:      "effort_minutes_total",
			Help:      "Man-minutes saved by successful runs.",
		}, []string{"graph"}),
		activeRuns: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "autonet",
			Name:      "active_runs",
			Help:      "Runs currently executing.",
		}),
	}
}

// JobStarted реализует engine.Observer.
func (m *Metrics) JobStarted(inv *engine.Invocation) {
	m.jobsStarted.WithLabelValues(inv.Graph.Name, jobType(inv.Job)).Inc()
}

// JobFinished реализует engine.Observer.
func (m *Metrics) JobFinished(inv *engine.Invocation, res *domain.Result, elapsed time.Duration) {
	typ := jobType(inv.Job)
	m.jobsFinished.WithLabelValues(inv.Graph.Name, typ, string(res.Outcome())).Inc()
	m.jobDuration.WithLabelValues(inv.Graph.Name, typ).Observe(elapsed.Seconds())
}

// RunStarted отмечает начало run.
func (m *Metrics) RunStarted() {
	m.activeRuns.Inc()
}

// RunFinished отмечает завершение run.
func (m *Metrics) RunFinished(run *domain.Run) {
	m.activeRuns.Dec()
	m.runsFinished.WithLabelValues(run.GraphName, string(run.Status)).Inc()
	if d := run.Duration(); d > 0 {
		m.runDuration.WithLabelValues(run.GraphName).Observe(d.Seconds())
	}
	if run.EffortMinutes > 0 {
		m.effortMinutes.WithLabelValues(run.GraphName).Add(float64(run.EffortMinutes))
	}
}

func jobType(job *domain.Job) string {
	if job.IsWorkflow() {
		return domain.JobTypeWorkflow
	}
	return job.Type
}
