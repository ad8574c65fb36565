package coordinator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records coordinator activity. A nil *Metrics is valid and records nothing.
type Metrics struct {
	fetches         *prometheus.CounterVec
	fetchDuration   *prometheus.HistogramVec
	refreshCycles   *prometheus.CounterVec
	pollAttempts    *prometheus.CounterVec
	commandAttempts *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grohe_sync_fetches_total",
			Help: "Device detail fetches by appliance kind and result.",
		}, []string{"kind", "result"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "grohe_sync_fetch_duration_seconds",
			Help:    "Histogram of device fetch durations by appliance kind.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		refreshCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grohe_sync_refresh_cycles_total",
			Help: "Completed refresh-and-verify cycles by appliance kind and outcome.",
		}, []string{"kind", "outcome"}),
		pollAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grohe_sync_refresh_poll_attempts_total",
			Help: "Polls performed while waiting for a fresh measurement.",
		}, []string{"kind"}),
		commandAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grohe_sync_refresh_command_attempts_total",
			Help: "Attempts to send the take-measurement command by result.",
		}, []string{"kind", "result"}),
	}

	reg.MustRegister(
		m.fetches,
		m.fetchDuration,
		m.refreshCycles,
		m.pollAttempts,
		m.commandAttempts,
	)
	return m
}

func (m *Metrics) fetch(kind string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.fetchDuration.WithLabelValues(kind).Observe(duration.Seconds())
	m.fetches.WithLabelValues(kind, resultLabel(err)).Inc()
}

func (m *Metrics) cycle(kind string, outcome Outcome) {
	if m == nil {
		return
	}
	m.refreshCycles.WithLabelValues(kind, string(outcome)).Inc()
}

func (m *Metrics) poll(kind string) {
	if m == nil {
		return
	}
	m.pollAttempts.WithLabelValues(kind).Inc()
}

func (m *Metrics) command(kind string, err error) {
	if m == nil {
		return
	}
	m.commandAttempts.WithLabelValues(kind, resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsTimeout(err):
		return "timeout"
	default:
		return "error"
	}
}
