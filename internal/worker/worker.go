// Package worker archives recorded results and raises alerts off the event bus.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/opensource-finance/finsentinel/internal/domain"
)

var alertsRaised = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "finsentinel",
		Subsystem: "worker",
		Name:      "alerts_raised_total",
		Help:      "Alerts raised by rule ID and severity.",
	},
	[]string{"rule_id", "severity"},
)

var resultsArchived = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "finsentinel",
		Subsystem: "worker",
		Name:      "results_processed_total",
		Help:      "Recorded results processed by the worker, by outcome.",
	},
	[]string{"outcome"},
)

// Evaluator matches alert rules against a result.
type Evaluator interface {
	Evaluate(result *domain.ScoringResult) []domain.Alert
}

// Worker consumes recorded results from the EventBus.
type Worker struct {
	bus    domain.EventBus
	repo   domain.ResultRepository
	engine Evaluator

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc

	processed atomic.Int64
	alerts    atomic.Int64
	failures  atomic.Int64
}

// NewWorker creates a worker. repo and engine may be nil to skip archiving
// or alerting.
func NewWorker(bus domain.EventBus, repo domain.ResultRepository, engine Evaluator) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		repo:   repo,
		engine: engine,
		ctx:    ctx,
		cancel: cancel,
	}
}

// QueueGroup is the bus queue group archive workers join, so each result is
// archived once however many replicas run.
const QueueGroup = "finsentinel-archive"

// Start joins QueueGroup on the result topic.
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.subscriptions) > 0 {
		return nil
	}

	sub, err := w.bus.QueueSubscribe(w.ctx, domain.TopicResultRecorded, QueueGroup, w.handleResult)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", domain.TopicResultRecorded, err)
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("worker started", "topic", domain.TopicResultRecorded, "group", QueueGroup)
	return nil
}

// handleResult archives one result and publishes its alerts.
func (w *Worker) handleResult(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var res domain.ScoringResult
	if err := json.Unmarshal(msg.Payload, &res); err != nil {
		w.failures.Add(1)
		resultsArchived.WithLabelValues("invalid").Inc()
		slog.Error("failed to parse result message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	if w.repo != nil {
		if err := w.repo.SaveResult(ctx, &res); err != nil {
			w.failures.Add(1)
			resultsArchived.WithLabelValues("error").Inc()
			slog.Error("failed to save result",
				"result_id", res.ID,
				"error", err,
			)
			return err
		}
	}

	var alerts []domain.Alert
	if w.engine != nil {
		alerts = w.engine.Evaluate(&res)
	}

	for i := range alerts {
		alert := &alerts[i]
		alertsRaised.WithLabelValues(alert.RuleID, alert.Severity).Inc()
		w.alerts.Add(1)

		if w.repo != nil {
			if err := w.repo.SaveAlert(ctx, alert); err != nil {
				slog.Error("failed to save alert",
					"alert_id", alert.ID,
					"rule_id", alert.RuleID,
					"error", err,
				)
			}
		}

		payload, err := json.Marshal(alert)
		if err != nil {
			slog.Error("failed to encode alert", "alert_id", alert.ID, "error", err)
			continue
		}
		if err := w.bus.Publish(ctx, domain.TopicAlert, payload); err != nil {
			slog.Error("failed to publish alert",
				"alert_id", alert.ID,
				"rule_id", alert.RuleID,
				"error", err,
			)
		}
	}

	w.processed.Add(1)
	resultsArchived.WithLabelValues("ok").Inc()

	slog.Debug("result processed",
		"result_id", res.ID,
		"risk_class", res.RiskClass,
		"alerts", len(alerts),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop unsubscribes and cancels in-flight handlers. A stopped worker
// cannot be restarted.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	if len(w.subscriptions) > 0 {
		slog.Info("worker stopped")
	}
	w.subscriptions = nil

	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscription_count"`
	Topics            []string `json:"topics"`
	Processed         int64    `json:"processed"`
	Alerts            int64    `json:"alerts"`
	Failures          int64    `json:"failures"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	w.mu.Unlock()

	return Stats{
		SubscriptionCount: len(topics),
		Topics:            topics,
		Processed:         w.processed.Load(),
		Alerts:            w.alerts.Load(),
		Failures:          w.failures.Load(),
	}
}
