// Package service implements the issuance flow: build an issuance request
// from the loaded template, submit it to the VC Client API, and relay the
// asynchronous callbacks to the browser's poll.
package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"

	"vcrelay/internal/correlation"
	"vcrelay/internal/platform/metrics"
	"vcrelay/internal/requests"
	"vcrelay/internal/vcclient"
	dErrors "vcrelay/pkg/domain-errors"
	"vcrelay/pkg/secrets"
)

// CallbackPath is the route the VC Client API posts issuance callbacks to,
// relative to the externally visible base URL.
const CallbackPath = "/api/issuer/issuance-callback"

// Service drives the issuance flow.
type Service struct {
	api          vcclient.API
	correlations *correlation.Service
	templates    *requests.Templates

	// callbackKey is embedded in each request's callback headers; only its
	// hash is kept for verifying inbound callbacks.
	callbackKey     string
	callbackKeyHash string

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures the service.
type Option func(*Service)

// WithMetrics configures metrics collection.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// New creates the issuance service. callbackKey authenticates the VC Client
// API's callbacks; it is handed out in callback.headers and verified on the
// way back in.
func New(api vcclient.API, correlations *correlation.Service, templates *requests.Templates, callbackKey string, logger *slog.Logger, opts ...Option) (*Service, error) {
	hash, err := secrets.Hash(callbackKey)
	if err != nil {
		return nil, err
	}

	s := &Service{
		api:             api,
		correlations:    correlations,
		templates:       templates,
		callbackKey:     callbackKey,
		callbackKeyHash: hash,
		logger:          logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CreateRequest builds an issuance request from the template, submits it, and
// returns the VC Client API's response annotated with the correlation id and
// the generated pin. Claims present in the template may be overridden per
// request through query parameters of the same name.
func (s *Service) CreateRequest(ctx context.Context, baseURL string, query url.Values) (map[string]any, error) {
	req := s.templates.CopyIssuance()

	for key := range req.Issuance.Claims {
		if value := query.Get(key); value != "" {
			req.Issuance.Claims[key] = value
		}
	}

	id := s.correlations.NewID()
	req.Callback = vcclient.Callback{
		URL:     baseURL + CallbackPath,
		State:   id,
		Headers: map[string]string{"api-key": s.callbackKey},
	}

	var pin string
	if req.Issuance.Pin != nil {
		value, err := GeneratePin(req.Issuance.Pin.Length)
		if err != nil {
			return nil, err
		}
		req.Issuance.Pin.Value = value
		pin = value
		if s.metrics != nil {
			s.metrics.IncPinGenerated()
		}
	}

	body, err := s.api.Submit(ctx, req)
	if err != nil {
		return nil, err
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUpstream, "unexpected response from VC Client API")
	}
	payload["id"] = id
	if pin != "" {
		payload["pin"] = pin
	}

	if s.metrics != nil {
		s.metrics.IncRequestSubmitted("issuance")
	}
	s.logger.InfoContext(ctx, "issuance request submitted", "correlation_id", id, "pin_set", pin != "")
	return payload, nil
}

// VerifyCallbackKey checks the api-key header of an inbound callback against
// the key this service handed out.
func (s *Service) VerifyCallbackKey(key string) error {
	return secrets.Verify(key, s.callbackKeyHash)
}

// HandleCallback advances the issuance state machine. Only the retrieved code
// matters for issuance; completion arrives through StoreResponse instead.
func (s *Service) HandleCallback(ctx context.Context, body []byte) error {
	return s.correlations.HandleCallback(ctx, body)
}

// PollResponse returns and consumes whatever is cached under a correlation
// id: a progress record written by a callback, or the raw response body
// posted by the VC Client API when issuance completed.
func (s *Service) PollResponse(_ context.Context, id string) ([]byte, bool) {
	return s.correlations.TakeResponse(id)
}

// StoreResponse caches a raw completion body posted by the VC Client API
// under the correlation id it carries in its state field.
func (s *Service) StoreResponse(ctx context.Context, body []byte) error {
	var envelope struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid response body")
	}
	if envelope.State == "" {
		return dErrors.New(dErrors.CodeBadRequest, "missing argument 'state'")
	}

	s.correlations.SaveResponse(envelope.State, body)
	s.logger.InfoContext(ctx, "issuance response cached", "correlation_id", envelope.State)
	return nil
}

// Manifest exposes the issuance credential manifest for the echo endpoints.
func (s *Service) Manifest() vcclient.Manifest {
	return s.templates.IssuanceManifest
}
