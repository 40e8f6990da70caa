package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bess_dispatch_run_total",
			Help: "Total number of dispatch runs by method and outcome",
		},
		[]string{"country", "method", "outcome"},
	)

	runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bess_dispatch_run_duration_seconds",
			Help:    "Dispatch run duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		},
		[]string{"method"},
	)

	solveTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bess_dispatch_solve_total",
			Help: "Total number of co-optimization solves by status",
		},
		[]string{"status"},
	)

	solveNodes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bess_dispatch_solve_nodes",
			Help:    "Branch-and-bound nodes explored per solve",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
	)

	sweepPairs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bess_dispatch_sweep_pairs_total",
			Help: "Sweep (country, configuration) pairs by outcome",
		},
		[]string{"outcome"},
	)

	sweepInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bess_dispatch_sweep_pairs_in_flight",
			Help: "Sweep pairs currently being evaluated",
		},
	)

	annualizedRevenue = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bess_dispatch_annualized_revenue_eur",
			Help: "Annualized revenue of the latest run per country and method",
		},
		[]string{"country", "method"},
	)
)

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordRun counts one finished run and its duration.
func RecordRun(country, method string, d time.Duration, annualized float64, err error) {
	runTotal.WithLabelValues(country, method, outcome(err)).Inc()
	runDuration.WithLabelValues(method).Observe(d.Seconds())
	if err == nil {
		annualizedRevenue.WithLabelValues(country, method).Set(annualized)
	}
}

func RecordSolve(status string, nodes int) {
	solveTotal.WithLabelValues(status).Inc()
	solveNodes.Observe(float64(nodes))
}

// PairStarted marks a sweep pair in flight; the returned func records its outcome.
func PairStarted() func(err error) {
	sweepInFlight.Inc()
	return func(err error) {
		sweepInFlight.Dec()
		sweepPairs.WithLabelValues(outcome(err)).Inc()
	}
}
