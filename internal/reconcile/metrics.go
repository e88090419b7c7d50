package reconcile

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeSucceeded = "succeeded"
	outcomeFailed    = "failed"
	outcomeSkipped   = "skipped"
	outcomeLeaseHeld = "lease_held"
)

// Metrics exports tick and item counters for the reconciliation jobs.
// A nil *Metrics records nothing.
type Metrics struct {
	ticks        *prometheus.CounterVec
	items        *prometheus.CounterVec
	tickDuration *prometheus.HistogramVec
	lastSuccess  *prometheus.GaugeVec
}

// NewMetrics registers the collectors on registerer. A nil registerer
// creates unregistered collectors.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		ticks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tourledger",
			Subsystem: "reconcile",
			Name:      "ticks_total",
			Help:      "Reconciliation ticks by job and outcome.",
		}, []string{"job", "outcome"}),
		items: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tourledger",
			Subsystem: "reconcile",
			Name:      "items_total",
			Help:      "Items processed by reconciliation jobs, by outcome.",
		}, []string{"job", "outcome"}),
		tickDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tourledger",
			Subsystem: "reconcile",
			Name:      "tick_duration_seconds",
			Help:      "Duration of reconciliation ticks.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),
		lastSuccess: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tourledger",
			Subsystem: "reconcile",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful tick.",
		}, []string{"job"}),
	}
}

func (metrics *Metrics) observeItem(job string, outcome string) {
	if metrics == nil {
		return
	}
	metrics.items.WithLabelValues(job, outcome).Inc()
}

func (metrics *Metrics) observeTick(job string, outcome string, duration time.Duration, finishedAt time.Time) {
	if metrics == nil {
		return
	}
	metrics.ticks.WithLabelValues(job, outcome).Inc()
	if outcome == outcomeLeaseHeld {
		return
	}
	metrics.tickDuration.WithLabelValues(job).Observe(duration.Seconds())
	if outcome == outcomeSucceeded {
		metrics.lastSuccess.WithLabelValues(job).Set(float64(finishedAt.Unix()))
	}
}
