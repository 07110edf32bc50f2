// Package observability contains Prometheus metrics for the recompute
// pipeline and the pricing snapshot.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains Prometheus metrics for the pricing pipeline.
type Metrics struct {
	// Recompute cycles
	recomputeCycles   *prometheus.CounterVec
	recomputeDuration prometheus.Histogram

	// Ingest
	ingestFailures     prometheus.Counter
	observationsStored prometheus.Counter

	// Estimation
	estimationFallbacks *prometheus.CounterVec
	theta               *prometheus.GaugeVec
	sigma               *prometheus.GaugeVec

	// Events
	eventsEmitted *prometheus.CounterVec

	// Snapshot freshness
	snapshotAge prometheus.Gauge
}

// NewMetrics creates a new Metrics instance registered on reg.
// Pass prometheus.DefaultRegisterer in production.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		recomputeCycles: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricefeed_recompute_cycles_total",
				Help: "Total number of recompute cycles by result",
			},
			[]string{"result"},
		),

		recomputeDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pricefeed_recompute_duration_seconds",
				Help:    "Duration of recompute cycles in seconds",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
			},
		),

		ingestFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "pricefeed_ingest_failures_total",
				Help: "Total number of failed price feed fetches",
			},
		),

		observationsStored: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "pricefeed_observations_stored_total",
				Help: "Total number of price observations persisted",
			},
		),

		estimationFallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricefeed_estimation_fallbacks_total",
				Help: "Total number of extrinsic estimations that used family defaults",
			},
			[]string{"family"},
		),

		theta: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pricefeed_theta",
				Help: "Latest estimated price decay rate per family (per month)",
			},
			[]string{"family"},
		),

		sigma: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pricefeed_sigma",
				Help: "Latest realized price volatility per family (per month)",
			},
			[]string{"family"},
		),

		eventsEmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricefeed_price_events_total",
				Help: "Total number of price change events detected",
			},
			[]string{"model", "direction"},
		),

		snapshotAge: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "pricefeed_snapshot_age_seconds",
				Help: "Age of the currently served pricing snapshot in seconds",
			},
		),
	}
}

// RecordRecompute records a completed recompute cycle.
func (m *Metrics) RecordRecompute(err error, duration time.Duration) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.recomputeCycles.WithLabelValues(result).Inc()
	m.recomputeDuration.Observe(duration.Seconds())
}

// RecordIngestFailure records a failed feed fetch.
func (m *Metrics) RecordIngestFailure() {
	m.ingestFailures.Inc()
}

// RecordObservationsStored records n newly persisted observations.
func (m *Metrics) RecordObservationsStored(n int) {
	m.observationsStored.Add(float64(n))
}

// RecordEstimate records the outcome of one family estimation.
func (m *Metrics) RecordEstimate(family string, theta, sigma float64, defaulted bool) {
	if defaulted {
		m.estimationFallbacks.WithLabelValues(family).Inc()
	}
	m.theta.WithLabelValues(family).Set(theta)
	m.sigma.WithLabelValues(family).Set(sigma)
}

// RecordEvent records a detected price change event.
func (m *Metrics) RecordEvent(model string, pctChange float64) {
	direction := "increase"
	if pctChange < 0 {
		direction = "decrease"
	}
	m.eventsEmitted.WithLabelValues(model, direction).Inc()
}

// UpdateSnapshotAge updates the age of the currently served snapshot.
func (m *Metrics) UpdateSnapshotAge(computedAt, now time.Time) {
	if computedAt.IsZero() {
		return
	}
	m.snapshotAge.Set(now.Sub(computedAt).Seconds())
}
