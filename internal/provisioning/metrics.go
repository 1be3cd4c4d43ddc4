package provisioning

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the workflow's Prometheus collectors. A nil *Metrics is a
// valid no-op recorder.
type Metrics struct {
	StagesTotal *prometheus.CounterVec
	RunsTotal   *prometheus.CounterVec
	RunDuration prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		StagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provisioner_stage_results_total",
				Help: "Provisioning stage outcomes by stage and status",
			},
			[]string{"stage", "status"},
		),
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provisioner_runs_total",
				Help: "Provisioning runs by result (complete, partial, rejected, auth_failed)",
			},
			[]string{"result"},
		),
		RunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "provisioner_run_duration_seconds",
				Help:    "Duration of provisioning runs",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.StagesTotal, m.RunsTotal, m.RunDuration)
	}
	return m
}

// Run results.
const (
	RunComplete   = "complete"
	RunPartial    = "partial"
	RunRejected   = "rejected"
	RunAuthFailed = "auth_failed"
)

func (m *Metrics) observeStage(stage string, status Status) {
	if m == nil {
		return
	}
	m.StagesTotal.WithLabelValues(stage, string(status)).Inc()
}

func (m *Metrics) observeRun(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(result).Inc()
	m.RunDuration.Observe(elapsed.Seconds())
}
