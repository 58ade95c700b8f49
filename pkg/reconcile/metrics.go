package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// cyclesTotal counts evaluated widget messages by decision.
	cyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tdtpexplore_cycles_total",
			Help: "Widget state messages by reconciler decision (initial, adopted, echo, discarded)",
		},
		[]string{"decision"},
	)

	// queryDuration measures count + slice for one recompute.
	queryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tdtpexplore_query_duration_seconds",
			Help:    "Time spent counting and slicing one page",
			Buckets: prometheus.DefBuckets,
		},
	)

	// countCacheTotal counts count-cache lookups by outcome.
	countCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tdtpexplore_count_cache_total",
			Help: "Count cache lookups by result (hit, miss, error, none)",
		},
		[]string{"result"},
	)

	// SessionsActive is maintained by the session registry.
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tdtpexplore_sessions_active",
			Help: "Explorer sessions currently held in memory",
		},
	)
)
