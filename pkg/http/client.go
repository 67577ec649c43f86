// Package http provides a reusable HTTP client with resilience features
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	apperrors "liquidity_engine/pkg/errors"
	"liquidity_engine/pkg/telemetry"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// APIError represents an API error response
type APIError struct {
	StatusCode int
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error: status=%d body=%s", e.StatusCode, string(e.Body))
}

// Unwrap maps well-known statuses onto engine sentinels
func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusTooManyRequests:
		return apperrors.ErrRateLimitExceeded
	case e.StatusCode == http.StatusServiceUnavailable:
		return apperrors.ErrVenueUnavailable
	case e.StatusCode >= 500:
		return apperrors.ErrNetwork
	default:
		return apperrors.ErrInvalidInput
	}
}

// Signer is an interface for signing requests
type Signer interface {
	SignRequest(req *http.Request) error
}

// BearerSigner attaches a static bearer token
type BearerSigner string

func (s BearerSigner) SignRequest(req *http.Request) error {
	if s != "" {
		req.Header.Set("Authorization", "Bearer "+string(s))
	}
	return nil
}

// Options configures a Client
type Options struct {
	// Name labels traces, metrics and the circuit breaker gauge
	Name    string
	BaseURL string
	Timeout time.Duration
	Signer  Signer
	// MaxRetries of zero disables retries. Mutating endpoints must not be retried.
	MaxRetries int
	// RequestsPerSecond of zero disables client-side rate limiting
	RequestsPerSecond float64
	Burst             int
}

// Client is a wrapper around http.Client with resilience
type Client struct {
	name     string
	client   *http.Client
	baseURL  string
	signer   Signer
	limiter  *rate.Limiter
	breaker  circuitbreaker.CircuitBreaker[*http.Response]
	pipeline failsafe.Executor[*http.Response]

	// OTel
	tracer      trace.Tracer
	reqCounter  metric.Int64Counter
	errCounter  metric.Int64Counter
	latencyHist metric.Float64Histogram
}

// NewClient creates a new HTTP client with default resilience policies
func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Name == "" {
		opts.Name = "http-client"
	}

	// Open circuit on network errors and 5xx
	breaker := circuitbreaker.NewBuilder[*http.Response]().
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode >= 500
		}).
		WithFailureThresholdRatio(5, 10).
		WithDelay(10 * time.Second).
		Build()

	policies := []failsafe.Policy[*http.Response]{}
	if opts.MaxRetries > 0 {
		retry := retrypolicy.NewBuilder[*http.Response]().
			HandleIf(func(resp *http.Response, err error) bool {
				if err != nil {
					return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
				}
				return resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
			}).
			WithBackoff(100*time.Millisecond, 2*time.Second).
			WithMaxRetries(opts.MaxRetries).
			Build()
		policies = append(policies, retry)
	}
	policies = append(policies, breaker)

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	tracer := telemetry.GetTracer("http-client")
	meter := telemetry.GetMeter("http-client")

	reqCounter, _ := meter.Int64Counter("http_requests_total",
		metric.WithDescription("Total number of HTTP requests"))
	errCounter, _ := meter.Int64Counter("http_errors_total",
		metric.WithDescription("Total number of HTTP errors"))
	latencyHist, _ := meter.Float64Histogram("http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"))

	return &Client{
		name: opts.Name,
		client: &http.Client{
			Timeout: opts.Timeout,
		},
		baseURL:     opts.BaseURL,
		signer:      opts.Signer,
		limiter:     limiter,
		breaker:     breaker,
		pipeline:    failsafe.With[*http.Response](policies...),
		tracer:      tracer,
		reqCounter:  reqCounter,
		errCounter:  errCounter,
		latencyHist: latencyHist,
	}
}

// BreakerOpen reports whether the circuit breaker currently rejects calls
func (c *Client) BreakerOpen() bool {
	return c.breaker.IsOpen()
}

// Get sends a GET request and returns the raw body
func (c *Client) Get(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, params, nil)
}

// Post sends a JSON POST request and returns the raw body
func (c *Client) Post(ctx context.Context, path string, body interface{}) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
	}
	return c.do(ctx, http.MethodPost, path, nil, payload)
}

// GetJSON sends a GET request and decodes the response into out
func (c *Client) GetJSON(ctx context.Context, path string, params map[string]string, out interface{}) error {
	body, err := c.Get(ctx, path, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

// PostJSON sends a JSON POST request and decodes the response into out when out is non-nil
func (c *Client) PostJSON(ctx context.Context, path string, in, out interface{}) error {
	body, err := c.Post(ctx, path, in)
	if err != nil {
		return err
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, params map[string]string, payload []byte) (*http.Request, error) {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if len(params) > 0 {
		q := req.URL.Query()
		for k, v := range params {
			q.Add(k, v)
		}
		req.URL.RawQuery = q.Encode()
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.signer != nil {
		if err := c.signer.SignRequest(req); err != nil {
			return nil, fmt.Errorf("failed to sign request: %w", err)
		}
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, params map[string]string, payload []byte) ([]byte, error) {
	start := time.Now()

	ctx, span := c.tracer.Start(ctx, fmt.Sprintf("%s %s", method, path),
		trace.WithAttributes(
			attribute.String("http.client", c.name),
			attribute.String("http.method", method),
			attribute.String("http.path", path),
		),
	)
	defer span.End()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("%w: %v", apperrors.ErrRateLimitExceeded, err)
		}
	}

	// Each attempt gets a fresh request so the body can be replayed
	resp, err := c.pipeline.WithContext(ctx).Get(func() (*http.Response, error) {
		req, err := c.newRequest(ctx, method, path, params, payload)
		if err != nil {
			return nil, err
		}
		return c.client.Do(req)
	})

	attrs := metric.WithAttributes(
		attribute.String("client", c.name),
		attribute.String("method", method),
		attribute.String("path", path),
	)
	c.reqCounter.Add(ctx, 1, attrs)
	c.latencyHist.Record(ctx, time.Since(start).Seconds(), attrs)
	telemetry.GetGlobalMetrics().SetCircuitBreakerOpen(c.name, c.breaker.IsOpen())

	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		span.RecordError(err)
		c.errCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("client", c.name),
			attribute.String("path", path),
			attribute.String("error", "pipeline_failed"),
		))
		if errors.Is(err, circuitbreaker.ErrOpen) {
			return nil, fmt.Errorf("%s: %w", c.name, apperrors.ErrVenueUnavailable)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s: %w: %v", c.name, apperrors.ErrDeadlineExpired, err)
		}
		return nil, fmt.Errorf("%s: %w: %v", c.name, apperrors.ErrNetwork, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		c.errCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("client", c.name),
			attribute.String("path", path),
			attribute.Int("status", resp.StatusCode),
		))
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Body:       body,
		}
	}

	return body, nil
}
