package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CronJobMetrics tracks each cron job's runtime and its success and failure counts.
type CronJobMetrics struct {
	duration *prometheus.HistogramVec
	runs     *prometheus.CounterVec
}

func NewCronJobMetrics(reg prometheus.Registerer) *CronJobMetrics {
	if reg == nil {
		return &CronJobMetrics{}
	}
	m := &CronJobMetrics{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "topup_cron_job_duration_seconds",
			Help:    "Wall time of a single cron job run.",
			Buckets: []float64{.05, .1, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"job"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "topup_cron_job_runs_total",
			Help: "Cron job runs by result.",
		}, []string{"job", "result"}),
	}
	reg.MustRegister(m.duration, m.runs)
	return m
}

// Observe records one finished run of job. A non-nil err counts as a failure.
func (c *CronJobMetrics) Observe(job string, took time.Duration, err error) {
	if c == nil || c.runs == nil {
		return
	}
	job = normalizeLabel(job)
	result := "success"
	if err != nil {
		result = "failure"
	}
	c.duration.WithLabelValues(job).Observe(took.Seconds())
	c.runs.WithLabelValues(job, result).Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
