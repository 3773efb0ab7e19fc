// Package observability holds the Prometheus metrics of the settlement engine.
package observability

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/warp/trip-settlements/ledger"
)

// Result label values.
const (
	ResultSuccess  = "success"
	ResultRejected = "rejected" // client error: bad state, validation, forbidden
	ResultConflict = "conflict" // lost compare-and-set
	ResultError    = "error"
)

var (
	// Booking state machine
	bookingTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_transitions_total",
		Help: "Booking transitions attempted, by axis, event and result",
	}, []string{
		"axis",  // payment, refund
		"event", // request, approve, reject, process, admin_reject, balance_paid, cancel, create
		"result",
	})

	// Payout workflow
	payoutTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payout_transitions_total",
		Help: "Payout transitions attempted, by target status and result",
	}, []string{
		"to", // processing, paid
		"result",
	})

	// Settlement aggregation
	aggregationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "settlement_aggregation_duration_seconds",
		Help:    "Time to aggregate settlements from one store snapshot",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	settlementsVisible = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "settlements_visible",
		Help: "Settlements produced by the last aggregation",
	})

	settlementsSuppressed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "settlements_suppressed",
		Help: "Completed batches hidden by an open refund dispute in the last aggregation",
	})

	settlementCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_cache_requests_total",
		Help: "Settlement cache lookups by outcome",
	}, []string{"outcome"}) // hit, miss
)

func RecordBookingTransition(axis, event, result string) {
	bookingTransitionsTotal.WithLabelValues(axis, event, result).Inc()
}

func RecordPayoutTransition(to, result string) {
	payoutTransitionsTotal.WithLabelValues(to, result).Inc()
}

// RecordAggregation observes one aggregation pass.
func RecordAggregation(seconds float64, visible, suppressed int) {
	aggregationDuration.Observe(seconds)
	settlementsVisible.Set(float64(visible))
	settlementsSuppressed.Set(float64(suppressed))
}

func RecordCacheLookup(hit bool) {
	if hit {
		settlementCacheTotal.WithLabelValues("hit").Inc()
		return
	}
	settlementCacheTotal.WithLabelValues("miss").Inc()
}

// ResultOf maps an operation error to a result label.
func ResultOf(err error) string {
	switch {
	case err == nil:
		return ResultSuccess
	case errors.Is(err, ledger.ErrConcurrentModification):
		return ResultConflict
	case ledger.IsClientError(err), ledger.IsNotFound(err):
		return ResultRejected
	default:
		return ResultError
	}
}
