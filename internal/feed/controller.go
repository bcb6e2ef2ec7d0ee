// Package feed runs the automated transaction feed: a cancellable recurring
// loop that generates a transaction, scores it and records the result.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/finsentinel/internal/domain"
	"github.com/opensource-finance/finsentinel/internal/scoring"
)

// ErrClosed is returned by Start after Close.
var ErrClosed = errors.New("feed controller is closed")

// Generator produces synthetic records.
type Generator interface {
	Generate() *domain.TransactionRecord
}

// Counters track tick outcomes across sessions.
type Counters struct {
	Ticks      int64 `json:"ticks"`
	Failures   int64 `json:"failures"`
	Skipped    int64 `json:"skipped"`
	Suppressed int64 `json:"suppressed"`
}

// Status is a point-in-time snapshot of the feed.
type Status struct {
	Running         bool                    `json:"running"`
	Progress        int                     `json:"progress"`
	LastError       string                  `json:"last_error,omitempty"`
	Source          domain.Source           `json:"source,omitempty"`
	IntervalSeconds float64                 `json:"interval_seconds"`
	History         []*domain.ScoringResult `json:"history"`
	Counters        Counters                `json:"counters"`
}

// Controller owns one feed session at a time.
//
// State is guarded by mu. Neither the scoring call nor the sink runs under
// the lock. Each recorded result waits for the previous one to reach the
// sink, so the sink and the history both see receipt order.
type Controller struct {
	gen       Generator
	scorer    scoring.Scorer
	sink      domain.ResultSink
	scheduler Scheduler
	cfg       domain.FeedConfig
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	running        bool
	closed         bool
	source         domain.Source
	progress       int
	lastErr        string
	history        []*domain.ScoringResult
	inFlight       bool
	generation     uint64
	cancelSchedule func()
	counters       Counters

	// emitted is closed once the latest recorded result has reached the sink.
	emitted chan struct{}
}

// Option configures a Controller.
type Option func(*Controller)

// WithScheduler replaces the ticker-based scheduler.
func WithScheduler(s Scheduler) Option {
	return func(c *Controller) {
		c.scheduler = s
	}
}

// WithClock overrides the receipt timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// NewController creates a stopped controller. Results go to sink.
func NewController(cfg domain.FeedConfig, gen Generator, scorer scoring.Scorer, sink domain.ResultSink, opts ...Option) *Controller {
	if cfg.Interval <= 0 {
		cfg.Interval = 12 * time.Second
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 10
	}
	if cfg.ProgressStep <= 0 {
		cfg.ProgressStep = 20
	}

	ctx, cancel := context.WithCancel(context.Background())
	emitted := make(chan struct{})
	close(emitted)
	c := &Controller{
		gen:       gen,
		scorer:    scorer,
		sink:      sink,
		scheduler: TickerScheduler{},
		cfg:       cfg,
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
		emitted:   emitted,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start begins a session and runs the first tick before returning.
// Starting a running feed does nothing.
func (c *Controller) Start(source domain.Source) error {
	if _, ok := domain.ParseSource(string(source)); !ok {
		return fmt.Errorf("unknown feed source %q", source)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.running {
		c.mu.Unlock()
		return nil
	}

	c.running = true
	c.lastErr = ""
	c.progress = 0
	c.source = source
	c.inFlight = false
	c.generation++
	gen := c.generation
	c.cancelSchedule = c.scheduler.ScheduleRecurring(c.cfg.Interval, func() { c.tick(gen) })

	feedRunning.Set(1)
	feedProgress.Set(0)
	c.mu.Unlock()

	slog.Info("automated feed started",
		"source", source,
		"interval", c.cfg.Interval,
	)

	c.tick(gen)
	return nil
}

// Stop cancels the schedule. History and the last error are kept.
// Replies still in flight are discarded when they arrive. Results recorded
// before Stop have reached the sink when it returns.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.stopLocked()
	source, pending := c.source, c.emitted
	c.mu.Unlock()

	<-pending
	slog.Info("automated feed stopped", "source", source)
}

func (c *Controller) stopLocked() {
	c.running = false
	if c.cancelSchedule != nil {
		c.cancelSchedule()
		c.cancelSchedule = nil
	}
	feedRunning.Set(0)
}

// Close stops the feed and aborts in-flight scoring calls. Safe to call twice.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.stopLocked()
	pending := c.emitted
	c.mu.Unlock()

	c.cancel()
	<-pending
}

// tick runs one generate, score, record cycle for session gen.
func (c *Controller) tick(gen uint64) {
	c.mu.Lock()
	if !c.running || c.generation != gen {
		c.mu.Unlock()
		return
	}
	source := c.source
	if c.inFlight {
		c.counters.Skipped++
		c.mu.Unlock()
		ticksSkipped.Inc()
		slog.Debug("feed tick skipped, previous tick in flight", "source", source)
		return
	}
	c.inFlight = true
	c.mu.Unlock()

	rec := c.gen.Generate()
	start := time.Now()
	resp, err := c.scorer.Score(c.ctx, rec)
	elapsed := time.Since(start)

	c.mu.Lock()
	if c.generation == gen {
		c.inFlight = false
	}
	if !c.running || c.generation != gen {
		c.counters.Suppressed++
		c.mu.Unlock()
		resultsSuppressed.Inc()
		slog.Debug("discarding scoring reply from ended session", "source", source)
		return
	}

	if err != nil {
		c.lastErr = scoring.UserMessage(err)
		c.counters.Failures++
		c.stopLocked()
		c.mu.Unlock()
		ticksTotal.WithLabelValues(string(source), outcomeFailure).Inc()
		scoringLatency.WithLabelValues(outcomeFailure).Observe(elapsed.Seconds())
		slog.Warn("automated feed halted on scoring failure",
			"source", source,
			"error", err,
		)
		return
	}

	result := resp.Result(rec, source, c.now())

	c.history = append([]*domain.ScoringResult{result}, c.history...)
	if len(c.history) > c.cfg.HistorySize {
		c.history = c.history[:c.cfg.HistorySize]
	}
	c.progress = (c.progress + c.cfg.ProgressStep) % 100
	c.counters.Ticks++
	progress := c.progress

	prev, done := c.emitted, make(chan struct{})
	c.emitted = done
	c.mu.Unlock()

	<-prev
	c.sink.Add(result)
	close(done)

	ticksTotal.WithLabelValues(string(source), outcomeSuccess).Inc()
	scoringLatency.WithLabelValues(outcomeSuccess).Observe(elapsed.Seconds())
	feedProgress.Set(float64(progress))

	slog.Debug("feed tick recorded",
		"source", source,
		"result_id", result.ID,
		"overall_risk", result.OverallRisk,
		"risk_class", result.RiskClass,
	)
}

// Status returns a snapshot of the session state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Status{
		Running:         c.running,
		Progress:        c.progress,
		LastError:       c.lastErr,
		Source:          c.source,
		IntervalSeconds: c.cfg.Interval.Seconds(),
		History:         c.historyLocked(),
		Counters:        c.counters,
	}
}

// History returns the recent results, newest first.
func (c *Controller) History() []*domain.ScoringResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.historyLocked()
}

func (c *Controller) historyLocked() []*domain.ScoringResult {
	out := make([]*domain.ScoringResult, len(c.history))
	for i, r := range c.history {
		out[i] = r.Clone()
	}
	return out
}

// Running reports whether a session is active.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}
