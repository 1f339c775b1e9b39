package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GridCallsTotal tracks grid store calls per operation
	GridCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genegrid_grid_calls_total",
			Help: "Total number of grid store calls",
		},
		[]string{"op"},
	)

	// GridErrorsTotal tracks failed grid store attempts per operation
	GridErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genegrid_grid_errors_total",
			Help: "Total number of failed grid store attempts",
		},
		[]string{"op"},
	)

	// GridRetriesTotal tracks retried grid store attempts per operation
	GridRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genegrid_grid_retries_total",
			Help: "Total number of grid store retries",
		},
		[]string{"op"},
	)

	// GridLatency tracks grid call latency, including retries
	GridLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "genegrid_grid_latency_seconds",
			Help:    "Grid call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// ClaimsTotal tracks claim attempts by outcome (claimed, busy, empty, lost)
	ClaimsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genegrid_claims_total",
			Help: "Total number of claim attempts by outcome",
		},
		[]string{"mode", "outcome"},
	)

	// RowsEvaluated tracks individuals evaluated by this worker
	RowsEvaluated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "genegrid_rows_evaluated_total",
			Help: "Total number of individuals evaluated",
		},
	)

	// Generation is the coordinator's current generation number
	Generation = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "genegrid_generation",
			Help: "Current generation number",
		},
	)

	// GenerationState is 1 for the coordinator's current state and 0 otherwise
	GenerationState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "genegrid_generation_state",
			Help: "Current coordinator state (1 = active)",
		},
		[]string{"state"},
	)

	// GenerationDuration tracks wall time from publish to advance
	GenerationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "genegrid_generation_duration_seconds",
			Help:    "Time taken by one generation",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		},
	)

	// BestFitness is the best fitness harvested in the last generation
	BestFitness = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "genegrid_best_fitness",
			Help: "Best fitness of the last harvested generation",
		},
	)
)
