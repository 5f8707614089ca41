package vcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"vcrelay/internal/platform/metrics"
	"vcrelay/internal/tracing"
	dErrors "vcrelay/pkg/domain-errors"
)

// API is the outbound surface the relay services depend on. The concrete
// Client satisfies it; tests use the generated mock.
type API interface {
	// Submit posts a request payload and returns the VC Client API's response
	// body unchanged, so handlers can echo it back to the browser with only
	// the correlation id (and pin) added.
	Submit(ctx context.Context, req Request) (json.RawMessage, error)

	// FetchManifest downloads a credential manifest.
	FetchManifest(ctx context.Context, url string) (json.RawMessage, error)
}

// Client is the HTTP implementation of API.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
	logger   *slog.Logger
	tracer   tracing.Tracer
	metrics  *metrics.Metrics
}

// Option configures the client.
type Option func(*Client)

// WithTimeout bounds every outbound call. An unbounded wait against the VC
// Client API would pin a handler goroutine for as long as the API stalls.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.http.Timeout = timeout
	}
}

// WithTracer configures a tracer for outbound calls.
func WithTracer(tracer tracing.Tracer) Option {
	return func(c *Client) {
		c.tracer = tracer
	}
}

// WithMetrics configures metrics collection for outbound calls.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// New creates a VC Client API client posting to the given endpoint.
// apiKey, when non-empty, is sent as the functions key header.
func New(endpoint, apiKey string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: 30 * time.Second},
		logger:   logger,
		tracer:   tracing.NewNoop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit posts the request payload. Any failure, transport or upstream,
// surfaces as an upstream domain error whose message carries the response
// body verbatim; the transport layer renders it as a 400 to the caller.
func (c *Client) Submit(ctx context.Context, req Request) (json.RawMessage, error) {
	ctx, span := c.tracer.Start(ctx, tracing.SpanSubmitRequest,
		tracing.String(tracing.AttrCorrelationID, req.Callback.State),
	)

	body, err := json.Marshal(req)
	if err != nil {
		span.End(err)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not encode request payload")
	}

	start := time.Now()
	respBody, statusCode, err := c.post(ctx, body)
	if c.metrics != nil {
		c.metrics.ObserveExternalLatency(time.Since(start))
	}
	if err != nil {
		c.countError()
		c.logger.ErrorContext(ctx, "VC Client API unreachable",
			"endpoint", c.endpoint,
			"error", err,
		)
		span.End(err)
		return nil, dErrors.Wrap(err, dErrors.CodeUpstream, err.Error())
	}

	span.SetAttributes(tracing.Int64(tracing.AttrUpstreamCode, int64(statusCode)))

	if statusCode < 200 || statusCode > 299 {
		c.countError()
		c.logger.ErrorContext(ctx, "VC Client API error response",
			"endpoint", c.endpoint,
			"status", statusCode,
			"body", string(respBody),
		)
		err := dErrors.New(dErrors.CodeUpstream, string(respBody))
		span.End(err)
		return nil, err
	}

	c.logger.DebugContext(ctx, "VC Client API response", "body", string(respBody))
	span.End(nil)
	return respBody, nil
}

// FetchManifest downloads a credential manifest from the given URL.
func (c *Client) FetchManifest(ctx context.Context, url string) (json.RawMessage, error) {
	ctx, span := c.tracer.Start(ctx, tracing.SpanFetchManifest, tracing.String("url", url))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		span.End(err)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not build manifest request")
	}

	res, err := c.http.Do(req)
	if err != nil {
		c.countError()
		span.End(err)
		return nil, dErrors.Wrap(err, dErrors.CodeUpstream, err.Error())
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		span.End(err)
		return nil, dErrors.Wrap(err, dErrors.CodeUpstream, "could not read manifest response")
	}

	span.SetAttributes(tracing.Int64(tracing.AttrUpstreamCode, int64(res.StatusCode)))
	if res.StatusCode < 200 || res.StatusCode > 299 {
		c.countError()
		err := dErrors.New(dErrors.CodeUpstream, string(body))
		span.End(err)
		return nil, err
	}

	span.End(nil)
	return body, nil
}

func (c *Client) post(ctx context.Context, body []byte) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-functions-key", c.apiKey)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer res.Body.Close()

	respBody, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, res.StatusCode, err
	}
	return respBody, res.StatusCode, nil
}

func (c *Client) countError() {
	if c.metrics != nil {
		c.metrics.IncExternalCallError()
	}
}

// Verify interface is satisfied.
var _ API = (*Client)(nil)
