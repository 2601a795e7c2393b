package syncer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// syncRuns counts sync round-trips.
	// Labels: outcome (ok, error, skipped)
	syncRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assessment",
		Subsystem: "sync",
		Name:      "runs_total",
		Help:      "Total sync round-trips by outcome",
	}, []string{"outcome"})

	syncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "assessment",
		Subsystem: "sync",
		Name:      "duration_seconds",
		Help:      "Sync round-trip duration in seconds",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	syncPushed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "assessment",
		Subsystem: "sync",
		Name:      "pushed_total",
		Help:      "Total dirty assessments pushed to the remote",
	})

	syncRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "assessment",
		Subsystem: "sync",
		Name:      "rejected_total",
		Help:      "Total pushed assessments rejected by the remote",
	})

	syncPulled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "assessment",
		Subsystem: "sync",
		Name:      "pulled_total",
		Help:      "Total server updates written locally",
	})

	syncConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "assessment",
		Subsystem: "sync",
		Name:      "conflicts_total",
		Help:      "Total local versions archived as conflicts",
	})
)
