package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	syncRequests = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "assessment",
		Subsystem: "server",
		Name:      "sync_requests_total",
		Help:      "Sync round-trips received.",
	})

	syncChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assessment",
		Subsystem: "server",
		Name:      "sync_changes_total",
		Help:      "Pushed changes by outcome.",
	}, []string{"outcome"})

	authFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assessment",
		Subsystem: "server",
		Name:      "auth_failures_total",
		Help:      "Rejected authentications by reason.",
	}, []string{"reason"})

	feedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "assessment",
		Subsystem: "server",
		Name:      "feed_clients",
		Help:      "Connected update feed clients.",
	})
)
