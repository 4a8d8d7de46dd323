// Package inference forwards prediction payloads to the external model service.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/pario-ai/predictgate/pkg/config"
	"github.com/pario-ai/predictgate/pkg/logging"
	"github.com/pario-ai/predictgate/pkg/models"
)

// maxResponseBytes caps how much of a downstream response is read.
const maxResponseBytes = 4 << 20

var (
	// ErrNoOutput is returned when a successful response carries no output field.
	ErrNoOutput = errors.New("inference: response has no output")
	// ErrMalformed is returned when a successful response is not the expected JSON envelope.
	ErrMalformed = errors.New("inference: malformed response")
)

// StatusError reports a non-2xx response from the inference service.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("inference service returned %d: %s", e.Code, e.Body)
}

// Predictor is the contract the proxy depends on.
type Predictor interface {
	Predict(ctx context.Context, payload []byte) (json.RawMessage, error)
}

// Client calls the inference service with a per-attempt timeout and bounded retries.
type Client struct {
	url        string
	httpClient *http.Client
	timeout    time.Duration
	retry      config.RetryConfig
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default pooled HTTP/2-capable client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger used for retry notices.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client for the configured endpoint.
func New(cfg config.InferenceConfig, opts ...Option) *Client {
	c := &Client{
		url:     cfg.URL,
		timeout: cfg.Timeout,
		retry:   cfg.Retry,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Transport: NewTransport()}
	}
	if c.retry.MaxAttempts < 1 {
		c.retry.MaxAttempts = 1
	}
	c.logger = logging.OrDefault(c.logger)
	return c
}

// Predict posts payload unchanged and returns the response's output field verbatim.
func (c *Client) Predict(ctx context.Context, payload []byte) (json.RawMessage, error) {
	b := backoff.NewExponentialBackOff()
	if c.retry.InitialInterval > 0 {
		b.InitialInterval = c.retry.InitialInterval
	}
	if c.retry.MaxInterval > 0 {
		b.MaxInterval = c.retry.MaxInterval
	}

	attempt := 0
	op := func() (json.RawMessage, error) {
		attempt++
		out, err := c.do(ctx, payload)
		if err != nil && !retryable(err) {
			return nil, backoff.Permanent(err)
		}
		return out, err
	}

	out, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.retry.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Warn("inference attempt failed, retrying",
				"attempt", attempt,
				"next_in", next,
				"error", err,
			)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("inference after %d attempt(s): %w", attempt, err)
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, payload []byte) (json.RawMessage, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Body: truncate(string(body), 512)}
	}

	var ir models.InferenceResponse
	if err := json.Unmarshal(body, &ir); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(ir.Output) == 0 || string(ir.Output) == "null" {
		return nil, ErrNoOutput
	}
	return ir.Output, nil
}

// retryable reports whether another attempt could succeed.
func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == http.StatusTooManyRequests
	}
	return !errors.Is(err, ErrNoOutput) && !errors.Is(err, ErrMalformed)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var _ Predictor = (*Client)(nil)
