package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	transactionsScored = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraudsight",
			Name:      "transactions_scored_total",
			Help:      "Transactions scored, by resulting risk level.",
		},
		[]string{"risk_level"},
	)

	factorsTriggered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraudsight",
			Name:      "risk_factors_total",
			Help:      "Risk factors triggered, by kind.",
		},
		[]string{"kind"},
	)

	batchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fraudsight",
			Name:      "batch_duration_seconds",
			Help:      "End-to-end batch scoring duration.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		},
	)

	batchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fraudsight",
			Name:      "batch_size_transactions",
			Help:      "Number of transactions per scored batch.",
			Buckets:   []float64{10, 100, 1000, 10000, 100000},
		},
	)
)

func init() {
	prometheus.MustRegister(transactionsScored, factorsTriggered, batchDuration, batchSize)
}
