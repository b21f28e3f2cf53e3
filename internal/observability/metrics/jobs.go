package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

// JobMetrics exposes prometheus instruments for background jobs.
type JobMetrics struct {
	jobRuns        *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	jobTimeouts    *prometheus.CounterVec
	jobErrors      *prometheus.CounterVec
	itemsProcessed *prometheus.CounterVec
	runLoopLag     prometheus.Histogram
}

var (
	jobsOnce sync.Once
	jobsInst *JobMetrics
	jobsReg  prometheus.Registerer = prometheus.DefaultRegisterer
)

// Jobs returns the job metrics singleton.
func Jobs() *JobMetrics {
	return JobsWithConfig(Config{})
}

// JobsWithConfig returns the singleton, initializing const labels on first use.
func JobsWithConfig(cfg Config) *JobMetrics {
	jobsOnce.Do(func() {
		jobsInst = newJobMetrics(jobsReg, cfg)
	})
	return jobsInst
}

// ResetJobMetricsForTest discards the singleton and isolates future registrations.
func ResetJobMetricsForTest() {
	jobsOnce = sync.Once{}
	jobsInst = nil
	jobsReg = prometheus.NewRegistry()
}

func newJobMetrics(reg prometheus.Registerer, cfg Config) *JobMetrics {
	constLabels := prometheus.Labels{}
	if name := strings.TrimSpace(cfg.ServiceName); name != "" {
		constLabels["service"] = name
	}
	if env := strings.TrimSpace(cfg.Environment); env != "" {
		constLabels["environment"] = env
	}

	m := &JobMetrics{
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "reelay_job_runs_total",
			Help:        "Background job runs by job name.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "reelay_job_duration_seconds",
			Help:        "Background job duration by job name.",
			Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "reelay_job_timeouts_total",
			Help:        "Background job runs ended by their deadline.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "reelay_job_errors_total",
			Help:        "Background job failures by job name and reason.",
			ConstLabels: constLabels,
		}, []string{"job", "reason"}),
		itemsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "reelay_job_items_processed_total",
			Help:        "Items handled by background jobs, by outcome.",
			ConstLabels: constLabels,
		}, []string{"job", "outcome"}),
		runLoopLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "reelay_job_run_loop_lag_seconds",
			Help:        "Delay between the scheduled and actual start of a run loop tick.",
			Buckets:     []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 60},
			ConstLabels: constLabels,
		}),
	}

	reg.MustRegister(
		m.jobRuns,
		m.jobDuration,
		m.jobTimeouts,
		m.jobErrors,
		m.itemsProcessed,
		m.runLoopLag,
	)

	return m
}

// IncJobRun counts one run of the named job.
func (m *JobMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

// ObserveJobDuration records how long a job run took.
func (m *JobMetrics) ObserveJobDuration(job string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

// IncJobTimeout counts a run that hit its deadline.
func (m *JobMetrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

// IncJobError counts a failed run with a classified reason.
func (m *JobMetrics) IncJobError(job string, err error) {
	if m == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ErrorReason(err)).Inc()
}

// AddItemsProcessed counts items a job handled, by outcome.
func (m *JobMetrics) AddItemsProcessed(job, outcome string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.itemsProcessed.WithLabelValues(job, outcome).Add(float64(count))
}

// ObserveRunLoopLag records scheduling delay of the run loop.
func (m *JobMetrics) ObserveRunLoopLag(lag time.Duration) {
	if m == nil || lag < 0 {
		return
	}
	m.runLoopLag.Observe(lag.Seconds())
}

// ErrorReason maps an error to a low-cardinality reason label.
func ErrorReason(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return "duplicate"
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "not_found"
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return "duplicate"
		case "55P03":
			return "lock_timeout"
		case "40001":
			return "serialization"
		}
	}
	return "error"
}
