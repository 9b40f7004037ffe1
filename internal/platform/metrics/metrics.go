package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	eventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "elisfeed_events_total",
			Help: "Feed events handled, by outcome",
		},
		[]string{"outcome"},
	)

	failedEventRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "elisfeed_failed_event_retries_total",
			Help: "Retries of parked events, by outcome",
		},
		[]string{"outcome"},
	)

	observationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "elisfeed_observations_total",
			Help: "Observations written, by change",
		},
		[]string{"change"},
	)

	encountersCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "elisfeed_result_encounters_created_total",
			Help: "Result encounters created",
		},
	)

	warningsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "elisfeed_reconcile_warnings_total",
			Help: "Results skipped during reconciliation, by kind",
		},
		[]string{"kind"},
	)

	fetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "elisfeed_fetch_duration_seconds",
			Help:    "Duration of requests to the LIS",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"status"},
	)
)

// Event outcomes.
const (
	OutcomeProcessed = "processed"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
	OutcomeParked    = "parked"
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordEvent records the outcome of handling one feed event.
func RecordEvent(outcome string) {
	eventsTotal.WithLabelValues(outcome).Inc()
}

// RecordFailedEventRetry records a retry of a parked event.
func RecordFailedEventRetry(succeeded bool) {
	outcome := OutcomeFailed
	if succeeded {
		outcome = OutcomeProcessed
	}
	failedEventRetries.WithLabelValues(outcome).Inc()
}

// RecordReconciliation records what one accession changed.
func RecordReconciliation(created, voided, encounters int) {
	observationsTotal.WithLabelValues("created").Add(float64(created))
	observationsTotal.WithLabelValues("voided").Add(float64(voided))
	encountersCreated.Add(float64(encounters))
}

// RecordWarning records a skipped result.
func RecordWarning(kind string) {
	warningsTotal.WithLabelValues(kind).Inc()
}

// RecordFetch records a request to the LIS.
func RecordFetch(err error, duration time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	fetchDuration.WithLabelValues(status).Observe(duration.Seconds())
}
