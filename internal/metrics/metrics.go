// Package metrics exposes Prometheus collectors for the crawl pipeline.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetchOutcomesTotal *prometheus.CounterVec
	documentsTotal     *prometheus.CounterVec
	quotaUnitsTotal    prometheus.Counter
	roundsTotal        prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_fetch_outcomes_total",
				Help: "Fetch attempts by source and outcome (fetched, failed, robots, skipped).",
			},
			[]string{"source", "outcome"},
		)

		documentsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_documents_total",
				Help: "Documents by source and disposition (stored, duplicate, rejected).",
			},
			[]string{"source", "disposition"},
		)

		quotaUnitsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_youtube_quota_units_total",
				Help: "Estimated YouTube API quota units consumed by the scheduler.",
			},
		)

		roundsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_autocrawl_rounds_total",
				Help: "Autocrawl rounds executed.",
			},
		)
	})
}

// ObserveFetch counts one fetch attempt outcome for a source.
func ObserveFetch(source, outcome string) {
	if fetchOutcomesTotal != nil {
		fetchOutcomesTotal.WithLabelValues(source, outcome).Inc()
	}
}

// ObserveDocument counts one document disposition for a source.
func ObserveDocument(source, disposition string) {
	if documentsTotal != nil {
		documentsTotal.WithLabelValues(source, disposition).Inc()
	}
}

// AddQuotaUnits records estimated quota units consumed.
func AddQuotaUnits(units int) {
	if quotaUnitsTotal != nil && units > 0 {
		quotaUnitsTotal.Add(float64(units))
	}
}

// ObserveRound counts one completed autocrawl round.
func ObserveRound() {
	if roundsTotal != nil {
		roundsTotal.Inc()
	}
}
