package simplevideo

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	recordsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "simplevideo",
		Name:      "records_processed_total",
		Help:      "Storage change records processed, by event kind and result.",
	}, []string{"event", "result"})

	enrichmentFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "simplevideo",
		Name:      "enrichment_failures_total",
		Help:      "Best-effort enrichment failures, by stage.",
	}, []string{"stage"})

	syncDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "simplevideo",
		Name:      "sync_duration_seconds",
		Help:      "Duration of distribution cycles, by event kind and result.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"event", "result"})
)
