package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/finsentinel/internal/auth"
	"github.com/opensource-finance/finsentinel/internal/cache"
	"github.com/opensource-finance/finsentinel/internal/domain"
	"github.com/opensource-finance/finsentinel/internal/feed"
	"github.com/opensource-finance/finsentinel/internal/repository"
	"github.com/opensource-finance/finsentinel/internal/results"
	"github.com/opensource-finance/finsentinel/internal/scoring"
)

// maxRequestBytes bounds JSON request bodies.
const maxRequestBytes = 1 << 20

// defaultResultsLimit applies when ?limit is absent.
const defaultResultsLimit = 50

// Dependencies are the components the handlers serve.
// Repo and Bus may be nil; archive and stream routes then degrade.
type Dependencies struct {
	Feed      *feed.Controller
	Generator feed.Generator
	Scorer    scoring.Scorer
	Store     *results.MemoryStore
	Sink      domain.ResultSink
	Repo      domain.ResultRepository
	Sessions  domain.KeyValueStore
	Bus       domain.EventBus

	SessionTTL     time.Duration
	DefaultSource  domain.Source
	AllowedOrigins []string
	Version        string
}

// Handler holds dependencies for API handlers.
type Handler struct {
	Dependencies
	now func() time.Time
}

// NewHandler creates a new API handler.
func NewHandler(deps Dependencies) *Handler {
	if deps.Sink == nil {
		deps.Sink = deps.Store
	}
	if deps.DefaultSource == "" {
		deps.DefaultSource = domain.SourcePlaid
	}
	return &Handler{Dependencies: deps, now: func() time.Time { return time.Now().UTC() }}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := "healthy"
	checks := map[string]string{}

	check := func(name string, ping func() error) {
		if err := ping(); err != nil {
			status = "degraded"
			checks[name] = err.Error()
			return
		}
		checks[name] = "ok"
	}
	if h.Repo != nil {
		check("repository", func() error { return h.Repo.Ping(ctx) })
	}
	if h.Sessions != nil {
		check("sessions", func() error { return h.Sessions.Ping(ctx) })
	}
	if h.Bus != nil {
		check("event_bus", func() error { return h.Bus.Ping(ctx) })
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": h.Version,
		"checks":  checks,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// ============================================================================
// AUTH HANDLERS
// ============================================================================

// LoginRequest is the request body for POST /auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries the session ID to send back in X-Session-ID.
type LoginResponse struct {
	SessionID string     `json:"session_id"`
	User      *auth.User `json:"user"`
}

func (h *Handler) session(id string) *auth.Session {
	return auth.NewSession(cache.Namespace(h.Sessions, "session:"+id), h.SessionTTL)
}

// sessionID reads the session from the header, or from the query string for
// websocket clients that cannot set headers.
func sessionID(r *http.Request) string {
	if id := r.Header.Get(SessionIDHeader); id != "" {
		return id
	}
	return r.URL.Query().Get("session_id")
}

// Login handles POST /auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON request body"))
		return
	}

	id := uuid.New().String()
	user, err := h.session(id).Login(r.Context(), req.Username, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		writeJSON(w, http.StatusUnauthorized, errorBody("Invalid credentials"))
		return
	}
	if err != nil {
		slog.Error("failed to create session", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("failed to create session"))
		return
	}

	slog.Info("user logged in", "username", user.Username, "request_id", GetRequestID(r.Context()))
	writeJSON(w, http.StatusOK, LoginResponse{SessionID: id, User: user})
}

// Logout handles POST /auth/logout.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	if id == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("X-Session-ID header is required"))
		return
	}
	if err := h.session(id).Logout(r.Context()); err != nil {
		slog.Error("failed to clear session", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("failed to clear session"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// Me handles GET /auth/me.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	if id == "" {
		writeJSON(w, http.StatusUnauthorized, errorBody("not logged in"))
		return
	}
	user, err := h.session(id).Current(r.Context())
	if err != nil {
		slog.Error("failed to read session", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("failed to read session"))
		return
	}
	if user == nil {
		writeJSON(w, http.StatusUnauthorized, errorBody("not logged in"))
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// RequireAdmin rejects requests without an admin session.
func (h *Handler) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := sessionID(r)
		if id == "" || !h.session(id).IsAdmin(r.Context()) {
			writeJSON(w, http.StatusUnauthorized, errorBody("admin session required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ============================================================================
// AUTOMATED FEED HANDLERS
// ============================================================================

// StartFeedRequest is the request body for POST /api/automated-feed/start.
type StartFeedRequest struct {
	APISource string `json:"api_source"`
}

// StartFeed handles POST /api/automated-feed/start. The first tick has
// completed when the response is written.
func (h *Handler) StartFeed(w http.ResponseWriter, r *http.Request) {
	var req StartFeedRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
			writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON request body"))
			return
		}
	}

	source := h.DefaultSource
	if req.APISource != "" {
		parsed, ok := domain.ParseSource(req.APISource)
		if !ok {
			writeJSON(w, http.StatusBadRequest, errorBody(fmt.Sprintf("unknown api_source %q", req.APISource)))
			return
		}
		source = parsed
	}

	if err := h.Feed.Start(source); err != nil {
		if errors.Is(err, feed.ErrClosed) {
			writeJSON(w, http.StatusServiceUnavailable, errorBody("server is shutting down"))
			return
		}
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	writeJSON(w, http.StatusOK, h.Feed.Status())
}

// StopFeed handles POST /api/automated-feed/stop.
func (h *Handler) StopFeed(w http.ResponseWriter, r *http.Request) {
	h.Feed.Stop()
	writeJSON(w, http.StatusOK, h.Feed.Status())
}

// FeedStatus handles GET /api/automated-feed/status.
func (h *Handler) FeedStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Feed.Status())
}

// FeedResults handles GET /api/automated-feed/results.
func (h *Handler) FeedResults(w http.ResponseWriter, r *http.Request) {
	history := h.Feed.History()
	writeJSON(w, http.StatusOK, map[string]any{
		"results": history,
		"count":   len(history),
	})
}

// ============================================================================
// ON-DEMAND SCORING HANDLERS
// ============================================================================

// MockTransactionResponse pairs a generated record with its score.
type MockTransactionResponse struct {
	Transaction *domain.TransactionRecord `json:"transaction"`
	Result      *domain.ScoringResult     `json:"result"`
}

// GenerateMockTransaction handles POST /api/generate-mock-transaction:
// one generate, score, record cycle outside the feed.
func (h *Handler) GenerateMockTransaction(w http.ResponseWriter, r *http.Request) {
	rec := h.Generator.Generate()

	res, ok := h.score(w, r, rec, domain.SourceMock)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, MockTransactionResponse{Transaction: rec, Result: res})
}

// DetectFraud handles POST /api/detect-fraud with a manually entered record.
func (h *Handler) DetectFraud(w http.ResponseWriter, r *http.Request) {
	var rec domain.TransactionRecord
	if err := decodeJSON(w, r, &rec); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON request body"))
		return
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = h.now()
	}

	res, ok := h.score(w, r, &rec, domain.SourceManual)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// score submits rec and records the result. On failure it writes the error
// response and returns false.
func (h *Handler) score(w http.ResponseWriter, r *http.Request, rec *domain.TransactionRecord, source domain.Source) (*domain.ScoringResult, bool) {
	resp, err := h.Scorer.Score(r.Context(), rec)
	if err != nil {
		scoringRequests.WithLabelValues(string(source), "failure").Inc()
		slog.Warn("scoring failed",
			"source", source,
			"error", err,
			"request_id", GetRequestID(r.Context()),
		)
		writeScoringError(w, err)
		return nil, false
	}

	res := resp.Result(rec, source, h.now())
	h.Sink.Add(res)
	scoringRequests.WithLabelValues(string(source), "success").Inc()
	return res, true
}

// writeScoringError maps scoring failures onto HTTP statuses.
func writeScoringError(w http.ResponseWriter, err error) {
	var (
		valErr   *scoring.ValidationError
		svcErr   *scoring.ServiceError
		transErr *scoring.TransportError
		protoErr *scoring.ProtocolError
	)
	switch {
	case errors.As(err, &valErr):
		writeJSON(w, http.StatusBadRequest, errorBody(valErr.Error()))
	case errors.As(err, &svcErr):
		writeJSON(w, http.StatusBadGateway, errorBody(scoring.UserMessage(err)))
	case errors.As(err, &transErr):
		writeJSON(w, http.StatusGatewayTimeout, errorBody(scoring.GenericMessage))
	case errors.As(err, &protoErr):
		writeJSON(w, http.StatusBadGateway, errorBody(scoring.GenericMessage))
	default:
		writeJSON(w, http.StatusInternalServerError, errorBody(scoring.GenericMessage))
	}
}

// ============================================================================
// RESULTS HANDLERS (admin)
// ============================================================================

// ListResults handles GET /api/results. Reads the archive when configured,
// falling back to the in-memory store.
func (h *Handler) ListResults(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	list, source := h.listResults(r, limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"results": list,
		"count":   len(list),
		"source":  source,
	})
}

func (h *Handler) listResults(r *http.Request, limit int) ([]*domain.ScoringResult, string) {
	if h.Repo != nil {
		list, err := h.Repo.ListResults(r.Context(), limit)
		if err == nil {
			if list == nil {
				list = []*domain.ScoringResult{}
			}
			return list, "archive"
		}
		slog.Warn("archive unavailable, serving in-memory results", "error", err)
	}
	return h.Store.List(limit), "memory"
}

// ResultStats handles GET /api/results/stats.
func (h *Handler) ResultStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Store.Stats())
}

// GetResult handles GET /api/results/{id}.
func (h *Handler) GetResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if res, ok := h.Store.Get(id); ok {
		writeJSON(w, http.StatusOK, res)
		return
	}

	if h.Repo != nil {
		res, err := h.Repo.GetResult(r.Context(), id)
		if err == nil {
			writeJSON(w, http.StatusOK, res)
			return
		}
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Error("failed to read result", "result_id", id, "error", err)
			writeJSON(w, http.StatusInternalServerError, errorBody("failed to read result"))
			return
		}
	}

	writeJSON(w, http.StatusNotFound, errorBody("result not found"))
}

// ListAlerts handles GET /api/alerts.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	if h.Repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("repository not available"))
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	alerts, err := h.Repo.ListAlerts(r.Context(), limit)
	if err != nil {
		slog.Error("failed to list alerts", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("failed to list alerts"))
		return
	}
	if alerts == nil {
		alerts = []*domain.Alert{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultResultsLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	return n, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(v)
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
