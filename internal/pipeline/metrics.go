package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are written to a node_exporter textfile at the end of each run,
// since the process exits right after.
type Metrics struct {
	registry    *prometheus.Registry
	runs        *prometheus.CounterVec
	jobs        *prometheus.CounterVec
	duration    prometheus.Gauge
	lastSuccess prometheus.Gauge
	lastStamp   *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "history_extracts",
			Name:      "runs_total",
			Help:      "Runs by outcome.",
		}, []string{"outcome"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "history_extracts",
			Name:      "config_jobs_total",
			Help:      "Splitter invocations by status.",
		}, []string{"status"}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "history_extracts",
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last run.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "history_extracts",
			Name:      "last_publish_timestamp_seconds",
			Help:      "Unix time of the last published run.",
		}),
		lastStamp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "history_extracts",
			Name:      "published_stamp_info",
			Help:      "Stamp of the last published run.",
		}, []string{"stamp"}),
	}
	m.registry.MustRegister(m.runs, m.jobs, m.duration, m.lastSuccess, m.lastStamp)
	return m
}

// Registry exposes the collectors, e.g. for a /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) observeRun(outcome string, took time.Duration) {
	m.runs.WithLabelValues(outcome).Inc()
	m.duration.Set(took.Seconds())
}

func (m *Metrics) observeJobs(run *ExtractionRun) {
	for _, j := range run.Jobs {
		m.jobs.WithLabelValues(string(j.Status)).Inc()
	}
}

func (m *Metrics) observePublish(stamp string, at time.Time) {
	m.lastSuccess.Set(float64(at.Unix()))
	m.lastStamp.Reset()
	m.lastStamp.WithLabelValues(stamp).Set(1)
}

// WriteTextfile writes the registry in text exposition format. An empty path
// is a no-op.
func (m *Metrics) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
