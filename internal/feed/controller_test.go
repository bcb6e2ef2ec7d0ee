package feed

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/finsentinel/internal/domain"
	"github.com/opensource-finance/finsentinel/internal/generator"
	"github.com/opensource-finance/finsentinel/internal/results"
	"github.com/opensource-finance/finsentinel/internal/scoring"
)

// manualScheduler fires scheduled functions only when the test says so.
type manualScheduler struct {
	mu        sync.Mutex
	fns       map[int]func()
	next      int
	scheduled int
}

func newManualScheduler() *manualScheduler {
	return &manualScheduler{fns: make(map[int]func())}
}

func (s *manualScheduler) ScheduleRecurring(period time.Duration, fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	s.scheduled++
	s.fns[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.fns, id)
	}
}

// Fire runs every active schedule once, synchronously.
func (s *manualScheduler) Fire() {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.fns))
	for _, fn := range s.fns {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (s *manualScheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fns)
}

// stubScorer answers with score(n) for the n-th call (1-based).
type stubScorer struct {
	calls atomic.Int32
	score func(n int, ctx context.Context) (*scoring.Response, error)
}

func (s *stubScorer) Score(ctx context.Context, rec *domain.TransactionRecord) (*scoring.Response, error) {
	n := int(s.calls.Add(1))
	return s.score(n, ctx)
}

func okScorer() *stubScorer {
	return &stubScorer{score: func(n int, ctx context.Context) (*scoring.Response, error) {
		return &scoring.Response{Fraud: 10, Compliance: 10, BehaviorAnomaly: 10, Overall: float64(n)}, nil
	}}
}

func testConfig() domain.FeedConfig {
	return domain.FeedConfig{Interval: time.Hour, HistorySize: 10, ProgressStep: 20}
}

func newTestController(scorer scoring.Scorer) (*Controller, *results.MemoryStore, *manualScheduler) {
	store := results.NewMemoryStore()
	sched := newManualScheduler()
	c := NewController(testConfig(), generator.New(generator.WithSeed(1)), scorer, store, WithScheduler(sched))
	return c, store, sched
}

func TestController_FirstTickRecordsAtFront(t *testing.T) {
	c, store, _ := newTestController(okScorer())
	defer c.Close()

	if err := c.Start(domain.SourcePlaid); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if store.Len() != 1 {
		t.Fatalf("expected 1 stored result, got %d", store.Len())
	}
	history := c.History()
	if len(history) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(history))
	}
	if history[0].ID != store.List(1)[0].ID {
		t.Error("history and store disagree on the newest result")
	}
	if history[0].APISource != domain.SourcePlaid {
		t.Errorf("api source = %s", history[0].APISource)
	}
	if !c.Status().Running {
		t.Error("expected running")
	}
}

func TestController_HistoryBoundedStoreNot(t *testing.T) {
	c, store, sched := newTestController(okScorer())
	defer c.Close()

	c.Start(domain.SourceStripe)
	for i := 0; i < 10; i++ {
		sched.Fire()
	}

	history := c.History()
	if len(history) != 10 {
		t.Fatalf("expected history of 10, got %d", len(history))
	}
	if store.Len() != 11 {
		t.Fatalf("expected 11 stored results, got %d", store.Len())
	}

	stored := store.List(0)
	for i := range history {
		if history[i].ID != stored[i].ID {
			t.Errorf("position %d: history %s, store %s", i, history[i].ID, stored[i].ID)
		}
		// Call n answers overall=n, so newest first means descending.
		if want := float64(11 - i); history[i].OverallRisk != want {
			t.Errorf("position %d: overall %v, want %v", i, history[i].OverallRisk, want)
		}
	}
	if stored[10].OverallRisk != 1 {
		t.Errorf("oldest stored result should be the first tick, got %v", stored[10].OverallRisk)
	}
}

func TestController_ProgressWraps(t *testing.T) {
	c, _, sched := newTestController(okScorer())
	defer c.Close()

	c.Start(domain.SourceMock)
	got := []int{c.Status().Progress}
	for i := 0; i < 5; i++ {
		sched.Fire()
		got = append(got, c.Status().Progress)
	}

	want := []int{20, 40, 60, 80, 0, 20}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("progress sequence = %v, want %v", got, want)
		}
	}
}

func TestController_StopCancelsTicks(t *testing.T) {
	t.Run("ManualScheduler", func(t *testing.T) {
		scorer := okScorer()
		c, store, sched := newTestController(scorer)
		defer c.Close()

		c.Start(domain.SourcePlaid)
		c.Stop()

		if sched.Active() != 0 {
			t.Errorf("expected no active schedule, got %d", sched.Active())
		}
		sched.Fire()
		if scorer.calls.Load() != 1 {
			t.Errorf("expected no scoring after stop, got %d calls", scorer.calls.Load())
		}
		if store.Len() != 1 || len(c.History()) != 1 {
			t.Error("stop should keep history and store")
		}
		if c.Status().Running {
			t.Error("expected stopped")
		}

		// Stopping again is a no-op.
		c.Stop()
	})

	t.Run("TickerScheduler", func(t *testing.T) {
		scorer := okScorer()
		store := results.NewMemoryStore()
		cfg := testConfig()
		cfg.Interval = 10 * time.Millisecond
		c := NewController(cfg, generator.New(), scorer, store)
		defer c.Close()

		c.Start(domain.SourcePlaid)
		time.Sleep(80 * time.Millisecond)
		c.Stop()

		if scorer.calls.Load() < 2 {
			t.Fatalf("expected ticks while running, got %d calls", scorer.calls.Load())
		}

		time.Sleep(20 * time.Millisecond)
		settled := store.Len()
		time.Sleep(100 * time.Millisecond)
		if store.Len() != settled {
			t.Errorf("results kept arriving after stop: %d then %d", settled, store.Len())
		}
	})
}

func TestController_FailureHaltsAndRestartRecovers(t *testing.T) {
	failOn := 3
	scorer := &stubScorer{score: func(n int, ctx context.Context) (*scoring.Response, error) {
		if n == failOn {
			return nil, &scoring.ServiceError{Status: 500, Message: "Model not loaded"}
		}
		return &scoring.Response{Overall: 0.5}, nil
	}}
	c, store, sched := newTestController(scorer)
	defer c.Close()

	c.Start(domain.SourcePlaid)
	sched.Fire()
	sched.Fire() // fails

	st := c.Status()
	if st.Running {
		t.Error("expected feed to stop on failure")
	}
	if st.LastError != "Model not loaded" {
		t.Errorf("last error = %q", st.LastError)
	}
	if store.Len() != 2 || len(st.History) != 2 {
		t.Errorf("failed tick must not record: store %d, history %d", store.Len(), len(st.History))
	}
	if sched.Active() != 0 {
		t.Error("schedule should be cancelled after failure")
	}
	if st.Counters.Failures != 1 {
		t.Errorf("failures = %d", st.Counters.Failures)
	}

	sched.Fire()
	if scorer.calls.Load() != 3 {
		t.Errorf("no ticks expected after failure, got %d calls", scorer.calls.Load())
	}

	if err := c.Start(domain.SourceStripe); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	st = c.Status()
	if st.LastError != "" {
		t.Errorf("restart should clear error, got %q", st.LastError)
	}
	if st.Progress != 20 {
		t.Errorf("restart should resume progress from 0, got %d after one tick", st.Progress)
	}
	if store.Len() != 3 {
		t.Errorf("expected 3 stored results, got %d", store.Len())
	}
	if st.Source != domain.SourceStripe {
		t.Errorf("source = %s", st.Source)
	}
}

func TestController_GenericErrorMessage(t *testing.T) {
	scorer := &stubScorer{score: func(n int, ctx context.Context) (*scoring.Response, error) {
		return nil, &scoring.ProtocolError{Reason: "missing overall_risk"}
	}}
	c, _, _ := newTestController(scorer)
	defer c.Close()

	c.Start(domain.SourcePlaid)
	if got := c.Status().LastError; got != scoring.GenericMessage {
		t.Errorf("last error = %q, want generic message", got)
	}
}

func TestController_StartIsIdempotent(t *testing.T) {
	scorer := okScorer()
	c, store, sched := newTestController(scorer)
	defer c.Close()

	c.Start(domain.SourcePlaid)
	c.Start(domain.SourcePlaid)
	c.Start(domain.SourceStripe)

	if sched.scheduled != 1 {
		t.Errorf("expected one schedule, got %d", sched.scheduled)
	}
	if scorer.calls.Load() != 1 || store.Len() != 1 {
		t.Errorf("repeat start must not tick: %d calls, %d stored", scorer.calls.Load(), store.Len())
	}
	if c.Status().Source != domain.SourcePlaid {
		t.Error("repeat start must not change source")
	}
}

func TestController_RejectsUnknownSource(t *testing.T) {
	c, _, sched := newTestController(okScorer())
	defer c.Close()

	if err := c.Start("paypal"); err == nil {
		t.Error("expected error for unknown source")
	}
	if sched.scheduled != 0 {
		t.Error("nothing should be scheduled")
	}
}

// blockingScorer holds each call until released.
type blockingScorer struct {
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func newBlockingScorer() *blockingScorer {
	return &blockingScorer{entered: make(chan struct{}, 10), release: make(chan struct{})}
}

func (s *blockingScorer) Score(ctx context.Context, rec *domain.TransactionRecord) (*scoring.Response, error) {
	s.calls.Add(1)
	s.entered <- struct{}{}
	select {
	case <-s.release:
		return &scoring.Response{Overall: 0.4}, nil
	case <-ctx.Done():
		return nil, &scoring.TransportError{Err: ctx.Err()}
	}
}

func waitEntered(t *testing.T, s *blockingScorer) {
	t.Helper()
	select {
	case <-s.entered:
	case <-time.After(time.Second):
		t.Fatal("scorer was never called")
	}
}

func TestController_SkipsTickWhileInFlight(t *testing.T) {
	scorer := newBlockingScorer()
	c, store, sched := newTestController(scorer)
	defer c.Close()

	started := make(chan struct{})
	go func() {
		c.Start(domain.SourcePlaid)
		close(started)
	}()
	waitEntered(t, scorer)

	sched.Fire()
	sched.Fire()

	if scorer.calls.Load() != 1 {
		t.Errorf("overlapping ticks should be skipped, got %d calls", scorer.calls.Load())
	}
	if skipped := c.Status().Counters.Skipped; skipped != 2 {
		t.Errorf("skipped = %d, want 2", skipped)
	}

	close(scorer.release)
	<-started

	if store.Len() != 1 {
		t.Errorf("expected 1 stored result, got %d", store.Len())
	}

	// The session continues once the slow tick lands.
	sched.Fire()
	if scorer.calls.Load() != 2 || store.Len() != 2 {
		t.Errorf("expected next tick to run: %d calls, %d stored", scorer.calls.Load(), store.Len())
	}
}

// slowSink holds every Add until release is closed.
type slowSink struct {
	entered chan struct{}
	release chan struct{}

	mu  sync.Mutex
	ids []string
}

func (s *slowSink) Add(r *domain.ScoringResult) {
	s.entered <- struct{}{}
	<-s.release
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, r.ID)
}

func (s *slowSink) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ids...)
}

func TestController_SlowSinkDoesNotHoldLock(t *testing.T) {
	sink := &slowSink{entered: make(chan struct{}, 4), release: make(chan struct{})}
	sched := newManualScheduler()
	c := NewController(testConfig(), generator.New(generator.WithSeed(1)), okScorer(), sink, WithScheduler(sched))
	defer c.Close()

	started := make(chan error, 1)
	go func() { started <- c.Start(domain.SourcePlaid) }()

	select {
	case <-sink.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first result never reached the sink")
	}

	status := make(chan Status, 1)
	go func() { status <- c.Status() }()
	select {
	case st := <-status:
		if !st.Running || len(st.History) != 1 {
			t.Errorf("unexpected status: running=%v history=%d", st.Running, len(st.History))
		}
	case <-time.After(time.Second):
		t.Fatal("Status blocked behind the sink")
	}

	// The next tick records while the first emission is still pending.
	fired := make(chan struct{})
	go func() {
		sched.Fire()
		close(fired)
	}()
	deadline := time.Now().Add(2 * time.Second)
	for len(c.History()) != 2 {
		if time.Now().After(deadline) {
			t.Fatal("second tick did not record")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if n := len(sink.entered); n != 0 {
		t.Fatalf("second result reached the sink before the first: %d pending", n)
	}

	close(sink.release)
	if err := <-started; err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	<-fired

	c.Stop()
	history := c.History()
	ids := sink.IDs()
	if len(ids) != 2 {
		t.Fatalf("expected 2 results in sink after Stop, got %d", len(ids))
	}
	if ids[0] != history[1].ID || ids[1] != history[0].ID {
		t.Errorf("sink order %v does not match receipt order", ids)
	}
}

func TestController_SuppressesResultAfterStop(t *testing.T) {
	scorer := newBlockingScorer()
	c, store, _ := newTestController(scorer)
	defer c.Close()

	started := make(chan struct{})
	go func() {
		c.Start(domain.SourcePlaid)
		close(started)
	}()
	waitEntered(t, scorer)

	c.Stop()
	close(scorer.release)
	<-started

	st := c.Status()
	if store.Len() != 0 || len(st.History) != 0 {
		t.Errorf("late result must be discarded: store %d, history %d", store.Len(), len(st.History))
	}
	if st.Counters.Suppressed != 1 {
		t.Errorf("suppressed = %d, want 1", st.Counters.Suppressed)
	}
	if st.Progress != 0 {
		t.Errorf("progress moved to %d", st.Progress)
	}
}

func TestController_StaleReplyAfterRestart(t *testing.T) {
	scorer := newBlockingScorer()
	c, store, _ := newTestController(scorer)
	defer c.Close()

	first := make(chan struct{})
	go func() {
		c.Start(domain.SourcePlaid)
		close(first)
	}()
	waitEntered(t, scorer)
	c.Stop()

	second := make(chan struct{})
	go func() {
		c.Start(domain.SourceMock)
		close(second)
	}()
	waitEntered(t, scorer)

	// Both calls answer; only the second session's reply counts.
	close(scorer.release)
	<-first
	<-second

	stored := store.List(0)
	if len(stored) != 1 {
		t.Fatalf("expected only the current session's result, got %d", len(stored))
	}
	if stored[0].APISource != domain.SourceMock {
		t.Errorf("api source = %s, want mock", stored[0].APISource)
	}
}

func TestController_Close(t *testing.T) {
	scorer := newBlockingScorer()
	c, store, sched := newTestController(scorer)

	started := make(chan struct{})
	go func() {
		c.Start(domain.SourcePlaid)
		close(started)
	}()
	waitEntered(t, scorer)

	c.Close()
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("close should abort the in-flight call")
	}

	if store.Len() != 0 {
		t.Error("aborted call must not record")
	}
	if sched.Active() != 0 {
		t.Error("close should cancel the schedule")
	}
	if c.Status().LastError != "" {
		t.Error("teardown is not a scoring failure")
	}
	if err := c.Start(domain.SourcePlaid); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	c.Close()
}

func TestController_EndToEnd(t *testing.T) {
	fixed := generator.New(generator.WithSeed(11)).Generate()
	fixed.TransactionAmount = 15000
	gen := fixedGenerator{rec: fixed}

	t.Run("HighRiskResult", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"fraud_percent":82,"compliance_percent":75,"behavior_anomaly_percent":68,"overall_risk":78}`)
		}))
		defer srv.Close()

		client := scoring.NewClient(domain.ScoringConfig{BaseURL: srv.URL, Path: "/detect_fraud", Timeout: time.Second})
		store := results.NewMemoryStore()
		c := NewController(testConfig(), gen, client, store, WithScheduler(newManualScheduler()))
		defer c.Close()

		if err := c.Start(domain.SourcePlaid); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		if store.Len() != 1 {
			t.Fatalf("expected 1 result, got %d", store.Len())
		}
		r := store.List(1)[0]
		if r.OverallRisk != 78 {
			t.Errorf("overall = %v, want 78", r.OverallRisk)
		}
		if r.RiskClass != domain.RiskHigh {
			t.Errorf("risk class = %s, want High", r.RiskClass)
		}
		if r.TransactionAmount != 15000 {
			t.Errorf("amount = %v, want 15000", r.TransactionAmount)
		}
		if r.FraudPercent != 82 || r.CompliancePercent != 75 || r.BehaviorAnomalyPercent != 68 {
			t.Errorf("unexpected component scores: %+v", r)
		}
	})

	t.Run("TransportFailure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		url := srv.URL
		srv.Close()

		client := scoring.NewClient(domain.ScoringConfig{BaseURL: url, Path: "/detect_fraud", Timeout: time.Second})
		store := results.NewMemoryStore()
		c := NewController(testConfig(), gen, client, store, WithScheduler(newManualScheduler()))
		defer c.Close()

		c.Start(domain.SourcePlaid)

		st := c.Status()
		if st.Running {
			t.Error("expected stopped after transport failure")
		}
		if st.LastError == "" {
			t.Error("expected an error message")
		}
		if store.Len() != 0 {
			t.Errorf("store should be unchanged, got %d", store.Len())
		}
	})
}

type fixedGenerator struct {
	rec *domain.TransactionRecord
}

func (g fixedGenerator) Generate() *domain.TransactionRecord {
	cp := *g.rec
	return &cp
}
