// Package scoring submits transaction records to the external scoring
// service and normalizes its replies.
package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/finsentinel/internal/domain"
)

var tracer = otel.Tracer("finsentinel-scoring")

const defaultMaxBodyBytes = 1 << 20

// Scorer scores one record. Implemented by Client; the feed and API
// depend on this interface.
type Scorer interface {
	Score(ctx context.Context, rec *domain.TransactionRecord) (*Response, error)
}

// Client calls the scoring endpoint. One request per Score call, no retries.
type Client struct {
	url          string
	format       string
	scale        domain.ScoreScale
	maxBodyBytes int64
	httpClient   *http.Client
	validate     *validator.Validate
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a scoring client.
func NewClient(cfg domain.ScoringConfig, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	format := cfg.PayloadFormat
	if format == "" {
		format = domain.PayloadFlat
	}
	scale, ok := domain.ParseScoreScale(cfg.ScoreScale)
	if !ok {
		scale = domain.ScalePercent
	}

	c := &Client{
		url:          cfg.URL(),
		format:       format,
		scale:        scale,
		maxBodyBytes: maxBody,
		httpClient:   &http.Client{Timeout: timeout},
		validate:     validator.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Validate checks a record against the field constraints.
func (c *Client) Validate(rec *domain.TransactionRecord) error {
	if err := c.validate.Struct(rec); err != nil {
		return &ValidationError{Err: err}
	}
	return nil
}

// Score validates rec, submits it and returns the normalized reply.
// Errors are *ValidationError, *TransportError, *ServiceError or *ProtocolError.
func (c *Client) Score(ctx context.Context, rec *domain.TransactionRecord) (*Response, error) {
	if err := c.Validate(rec); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "scoring.Score",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("scoring.url", c.url),
			attribute.String("scoring.payload_format", c.format),
			attribute.Float64("transaction.amount", rec.TransactionAmount),
		),
	)
	defer span.End()

	resp, err := c.do(ctx, rec)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Float64("scoring.overall_risk", resp.Overall))
	return resp, nil
}

func (c *Client) do(ctx context.Context, rec *domain.TransactionRecord) (*Response, error) {
	var payload any = rec
	if c.format == domain.PayloadLegacy {
		payload = rec.Legacy()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, c.maxBodyBytes))
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("reading response body: %w", err)}
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		msg := serviceMessage(respBody)
		if msg == "" {
			msg = fmt.Sprintf("HTTP %d", httpResp.StatusCode)
		}
		return nil, &ServiceError{Status: httpResp.StatusCode, Message: msg}
	}

	resp, err := Normalize(respBody)
	if err != nil {
		return nil, err
	}
	resp.Scale = c.scale
	return resp, nil
}
