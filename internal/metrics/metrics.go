package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry creates a private Prometheus registry with the standard collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler returns the prometheus exposition HTTP handler.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// AppMetrics holds the orchestration engine's business metrics.
type AppMetrics struct {
	RolloutJobsTotal     *prometheus.CounterVec // labels: status=completed|cancelled
	RolloutRoutersTotal  *prometheus.CounterVec // labels: result=success|failed
	ScanRoutersTotal     *prometheus.CounterVec // labels: result
	SSHCommandDuration   *prometheus.HistogramVec
	SSHCommandFailures   *prometheus.CounterVec // labels: kind
	RolloutActiveGauge   prometheus.Gauge
	BatchWaitRemaining   prometheus.Gauge
}

// NewAppMetrics registers and returns the business metrics.
func NewAppMetrics(reg *prometheus.Registry) *AppMetrics {
	m := &AppMetrics{
		RolloutJobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rollout_jobs_total",
			Help: "Total rollout jobs by terminal status.",
		}, []string{"status"}),
		RolloutRoutersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rollout_routers_total",
			Help: "Total per-router rollout attempts by result.",
		}, []string{"result"}),
		ScanRoutersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scan_routers_total",
			Help: "Total scanned routers by result.",
		}, []string{"result"}),
		SSHCommandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ssh_command_duration_seconds",
			Help:    "Remote shell command duration by command name.",
			Buckets: prometheus.DefBuckets,
		}, []string{"command"}),
		SSHCommandFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ssh_command_failures_total",
			Help: "Remote shell command failures by error kind.",
		}, []string{"kind"}),
		RolloutActiveGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rollout_active_gauge",
			Help: "1 while a rollout job is pending or running, 0 otherwise.",
		}),
		BatchWaitRemaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "batch_wait_seconds_remaining",
			Help: "Seconds remaining in the current inter-batch pause, 0 when not waiting.",
		}),
	}
	reg.MustRegister(
		m.RolloutJobsTotal, m.RolloutRoutersTotal, m.ScanRoutersTotal,
		m.SSHCommandDuration, m.SSHCommandFailures, m.RolloutActiveGauge, m.BatchWaitRemaining,
	)
	return m
}
