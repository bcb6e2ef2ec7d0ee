package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "finsentinel",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "finsentinel",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	scoringRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "finsentinel",
			Subsystem: "api",
			Name:      "scoring_requests_total",
			Help:      "On-demand scoring requests by source and outcome.",
		},
		[]string{"source", "outcome"},
	)

	streamClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "finsentinel",
		Subsystem: "api",
		Name:      "stream_clients",
		Help:      "Connected result stream clients.",
	})
)
