// Package metrics exports discovery events as Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nao1215/chainscan/internal/discovery"
)

// Namespace prefixes every metric name.
const Namespace = "chainscan"

// DiscoveryMetrics implements discovery.Observer on Prometheus collectors.
// All collectors are safe for concurrent use.
type DiscoveryMetrics struct {
	Analyses            *prometheus.CounterVec
	AnalysisDuration    prometheus.Histogram
	AnalysesInFlight    prometheus.Gauge
	Retries             prometheus.Counter
	RetryWait           prometheus.Histogram
	Runs                *prometheus.CounterVec
	RunDuration         prometheus.Histogram
	RunsActive          prometheus.Gauge
	AddressesDiscovered *prometheus.CounterVec
}

var _ discovery.Observer = (*DiscoveryMetrics)(nil)

// NewDiscoveryMetrics creates the collectors without registering them.
func NewDiscoveryMetrics() *DiscoveryMetrics {
	return &DiscoveryMetrics{
		Analyses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "analyses_total",
			Help:      "Total number of analyzer calls by outcome",
		}, []string{"outcome"}),
		AnalysisDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "analysis_duration_seconds",
			Help:      "Time taken by a single analyzer call in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		AnalysesInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "analyses_in_flight",
			Help:      "Current number of analyzer calls in progress",
		}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "analysis_retries_total",
			Help:      "Total number of retries scheduled after transient failures",
		}),
		RetryWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "analysis_retry_wait_seconds",
			Help:      "Backoff delay before a retry in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "runs_total",
			Help:      "Total number of finished discovery runs by terminal state",
		}, []string{"state"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of a discovery run in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		RunsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "runs_active",
			Help:      "Current number of running discovery runs",
		}),
		AddressesDiscovered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "addresses_discovered_total",
			Help:      "Total number of addresses enqueued for analysis per project",
		}, []string{"project"}),
	}
}

// Collectors returns every collector, for registration.
func (m *DiscoveryMetrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Analyses,
		m.AnalysisDuration,
		m.AnalysesInFlight,
		m.Retries,
		m.RetryWait,
		m.Runs,
		m.RunDuration,
		m.RunsActive,
		m.AddressesDiscovered,
	}
}

// Register registers every collector on reg. It fails if any name is taken.
func (m *DiscoveryMetrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// RunStarted implements discovery.Observer.
func (m *DiscoveryMetrics) RunStarted(string) {
	m.RunsActive.Inc()
}

// RunFinished implements discovery.Observer.
func (m *DiscoveryMetrics) RunFinished(_ string, state discovery.State, elapsed time.Duration) {
	m.RunsActive.Dec()
	m.Runs.WithLabelValues(state.String()).Inc()
	m.RunDuration.Observe(elapsed.Seconds())
}

// AddressDiscovered implements discovery.Observer.
func (m *DiscoveryMetrics) AddressDiscovered(project string) {
	m.AddressesDiscovered.WithLabelValues(project).Inc()
}

// AnalysisStarted implements discovery.Observer.
func (m *DiscoveryMetrics) AnalysisStarted() {
	m.AnalysesInFlight.Inc()
}

// AnalysisFinished implements discovery.Observer.
func (m *DiscoveryMetrics) AnalysisFinished(outcome string, elapsed time.Duration) {
	m.AnalysesInFlight.Dec()
	m.Analyses.WithLabelValues(outcome).Inc()
	m.AnalysisDuration.Observe(elapsed.Seconds())
}

// RetryScheduled implements discovery.Observer.
func (m *DiscoveryMetrics) RetryScheduled(wait time.Duration) {
	m.Retries.Inc()
	m.RetryWait.Observe(wait.Seconds())
}
