package geo

import "github.com/prometheus/client_golang/prometheus"

const (
	resultHit        = "hit"
	resultMiss       = "miss"
	resultUnresolved = "unresolved"
	resultError      = "error"
)

// lookupsTotal counts geo lookups by cache result.
var lookupsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "fraudsight",
		Name:      "geo_lookups_total",
		Help:      "Total geo lookups by result (hit, miss, unresolved, error).",
	},
	[]string{"result"},
)

func init() {
	prometheus.MustRegister(lookupsTotal)
}
