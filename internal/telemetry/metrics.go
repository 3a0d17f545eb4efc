package telemetry

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Run outcomes used as the "outcome" label.
const (
	OutcomeOK        = "ok"
	OutcomeRemoteErr = "remote_exception"
	OutcomeError     = "error"
)

// Metrics records script runs. It satisfies client.Observer and
// client.TempObserver.
type Metrics struct {
	reg       *prometheus.Registry
	runs      *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	tempFiles prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ijscript",
			Name:      "runs_total",
			Help:      "Script runs by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ijscript",
			Name:      "run_duration_seconds",
			Help:      "Wall time of script runs including image transfer.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"outcome"}),
		tempFiles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ijscript",
			Name:      "temp_files_total",
			Help:      "Temporary image files created for runs.",
		}),
	}
	m.reg.MustRegister(m.runs, m.duration, m.tempFiles)
	return m
}

func (m *Metrics) ObserveRun(outcome string, d time.Duration) {
	m.runs.WithLabelValues(outcome).Inc()
	m.duration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *Metrics) ObserveTempFiles(n int) {
	m.tempFiles.Add(float64(n))
}

// Gatherer exposes the private registry.
func (m *Metrics) Gatherer() prometheus.Gatherer { return m.reg }

// Push sends the current values to a Pushgateway. One-shot commands have no
// scrape window, so this is their only way out.
func (m *Metrics) Push(url, job string) error {
	if err := push.New(url, job).Gatherer(m.reg).Push(); err != nil {
		return fmt.Errorf("telemetry: push %s: %w", url, err)
	}
	return nil
}
