package results

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/opensource-finance/finsentinel/internal/domain"
)

// Fanout forwards each result to several sinks in order.
type Fanout []domain.ResultSink

// Add implements domain.ResultSink.
func (f Fanout) Add(result *domain.ScoringResult) {
	for _, s := range f {
		s.Add(result)
	}
}

// Publisher announces results on the event bus so the archive worker and
// stream subscribers see them.
type Publisher struct {
	bus     domain.EventBus
	timeout time.Duration
}

// NewPublisher creates a publisher on bus.
func NewPublisher(bus domain.EventBus) *Publisher {
	return &Publisher{bus: bus, timeout: 5 * time.Second}
}

// Add publishes result to TopicResultRecorded. Failures are logged;
// the in-memory store remains the source of truth.
func (p *Publisher) Add(result *domain.ScoringResult) {
	payload, err := json.Marshal(result)
	if err != nil {
		slog.Error("failed to marshal result", "error", err, "result_id", result.ID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if err := p.bus.Publish(ctx, domain.TopicResultRecorded, payload); err != nil {
		slog.Warn("failed to publish result", "error", err, "result_id", result.ID)
	}
}
