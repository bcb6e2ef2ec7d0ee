package feed

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Tick outcomes.
const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

var (
	ticksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "finsentinel",
			Subsystem: "feed",
			Name:      "ticks_total",
			Help:      "Completed feed ticks by outcome",
		},
		[]string{"source", "outcome"},
	)

	ticksSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "finsentinel",
			Subsystem: "feed",
			Name:      "ticks_skipped_total",
			Help:      "Ticks skipped because an earlier tick was still in flight",
		},
	)

	resultsSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "finsentinel",
			Subsystem: "feed",
			Name:      "results_suppressed_total",
			Help:      "Scoring replies discarded because the session had ended",
		},
	)

	scoringLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "finsentinel",
			Subsystem: "feed",
			Name:      "scoring_duration_seconds",
			Help:      "Scoring call latency seen by the feed",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
		[]string{"outcome"},
	)

	feedRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "finsentinel",
			Subsystem: "feed",
			Name:      "running",
			Help:      "1 while the automated feed is running",
		},
	)

	feedProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "finsentinel",
			Subsystem: "feed",
			Name:      "progress",
			Help:      "Cosmetic progress indicator of the running feed",
		},
	)
)
