// Package service implements the presentation flow: submit a presentation
// request built from the loaded template, absorb the VC Client API's
// callbacks, and answer the browser's and Azure AD B2C's polls.
package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"vcrelay/internal/correlation"
	"vcrelay/internal/platform/metrics"
	"vcrelay/internal/requests"
	"vcrelay/internal/vcclient"
	dErrors "vcrelay/pkg/domain-errors"
	"vcrelay/pkg/jwtpayload"
	"vcrelay/pkg/secrets"
)

// CallbackPath is the route the VC Client API posts presentation callbacks
// to, relative to the externally visible base URL.
const CallbackPath = "/api/verifier/presentation-callback"

// userMessageNotPresented is the message B2C shows the end user when no
// verified presentation is waiting for the polled id.
const userMessageNotPresented = "Verifiable Credentials not presented"

// Service drives the presentation flow.
type Service struct {
	api          vcclient.API
	correlations *correlation.Service
	templates    *requests.Templates

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

// New creates the presentation service.
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

// CreateRequest builds a presentation request from the template, submits it,
// and returns the VC Client API's response annotated with the correlation id.
func (s *Service) CreateRequest(ctx context.Context, baseURL string) (map[string]any, error) {
	req := s.templates.CopyPresentation()

	id := s.correlations.NewID()
	req.Callback = vcclient.Callback{
		URL:     baseURL + CallbackPath,
		State:   id,
		Nonce:   uuid.NewString(),
		Headers: map[string]string{"api-key": s.callbackKey},
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

	if s.metrics != nil {
		s.metrics.IncRequestSubmitted("presentation")
	}
	s.logger.InfoContext(ctx, "presentation request submitted", "correlation_id", id)
	return payload, nil
}

// VerifyCallbackKey checks the api-key header of an inbound callback.
func (s *Service) VerifyCallbackKey(key string) error {
	return secrets.Verify(key, s.callbackKeyHash)
}

// HandleCallback advances the presentation state machine.
func (s *Service) HandleCallback(ctx context.Context, body []byte) error {
	return s.correlations.HandleCallback(ctx, body)
}

// Status answers the browser's poll. The record is consumed when found; id is
// the correlation id, requestID the VC Client API's own identifier, checked
// as a fallback.
func (s *Service) Status(ctx context.Context, id, requestID string) (*correlation.Record, bool) {
	if record, found := s.correlations.Poll(ctx, id); found {
		return record, true
	}
	if requestID != "" {
		return s.correlations.PollSecondary(ctx, requestID)
	}
	return nil, false
}

// B2CResponse is the claims exchange payload returned to Azure AD B2C after a
// verified presentation.
type B2CResponse struct {
	ID                  string `json:"id"`
	CredentialsVerified bool   `json:"credentialsVerified"`
	CredentialType      string `json:"credentialType"`
	DisplayName         string `json:"displayName"`
	GivenName           string `json:"givenName,omitempty"`
	SurName             string `json:"surName,omitempty"`
	Iss                 string `json:"iss"`
	Sub                 string `json:"sub"`
	Key                 string `json:"key"`
	OID                 string `json:"oid,omitempty"`
	TID                 string `json:"tid,omitempty"`
	Username            string `json:"username,omitempty"`
}

// ErrNotPresented is returned by StatusB2C when no verified presentation is
// waiting. Consumers map it to the B2C conflict envelope.
var ErrNotPresented = dErrors.New(dErrors.CodeConflict, userMessageNotPresented)

// StatusB2C answers Azure AD B2C's REST technical profile poll. The record is
// removed before any parsing, so a malformed payload cannot be retried into a
// success. The verified credential details are dug out of the receipt's
// unverified token chain: id_token, then the presentation the submission's
// descriptor map points at, then the credential itself.
func (s *Service) StatusB2C(ctx context.Context, id string) (*B2CResponse, error) {
	record, found := s.correlations.Poll(ctx, id)
	if !found {
		return nil, ErrNotPresented
	}
	if record.Status != correlation.StatusVerified || len(record.Payload) == 0 {
		return nil, ErrNotPresented
	}

	var event vcclient.CallbackEvent
	if err := json.Unmarshal(record.Payload, &event); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "could not parse presentation response")
	}
	if len(event.Issuers) == 0 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "presentation response carries no claims")
	}
	claims := event.Issuers[0].Claims

	response := &B2CResponse{
		ID:                  id,
		CredentialsVerified: true,
		DisplayName:         record.Message,
		GivenName:           claims["firstName"],
		SurName:             claims["lastName"],
		OID:                 claims["sub"],
		TID:                 claims["tid"],
		Username:            claims["username"],
	}

	if event.Receipt == nil || event.Receipt.IDToken == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "presentation response carries no receipt")
	}
	if err := s.fillFromReceipt(ctx, response, event.Receipt.IDToken); err != nil {
		return nil, err
	}

	return response, nil
}

// fillFromReceipt resolves credential type, issuer and subject DIDs from the
// receipt id_token.
func (s *Service) fillFromReceipt(ctx context.Context, response *B2CResponse, idToken string) error {
	idClaims, err := jwtpayload.DecodeUnverifiedTokenPayload(idToken)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "could not decode receipt id_token")
	}

	credentialType, err := selectString(idClaims, "$.presentation_submission.descriptor_map[0].id")
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "could not resolve credential type from submission")
	}
	response.CredentialType = credentialType

	presentationPath, err := selectString(idClaims, "$.presentation_submission.descriptor_map[0].path")
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "could not resolve presentation path from submission")
	}

	presentationToken, err := selectString(idClaims, presentationPath)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "could not resolve presentation at "+presentationPath)
	}

	presentationClaims, err := jwtpayload.DecodeUnverifiedTokenPayload(presentationToken)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "could not decode presentation token")
	}

	credentialToken, err := selectString(presentationClaims, "$.vp.verifiableCredential[0]")
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "presentation carries no credential")
	}

	credentialClaims, err := jwtpayload.DecodeUnverifiedTokenPayload(credentialToken)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "could not decode credential token")
	}

	response.Iss, _ = credentialClaims["iss"].(string)
	response.Sub, _ = credentialClaims["sub"].(string)
	response.Key = subjectKey(response.Sub)

	s.logger.DebugContext(ctx, "presentation receipt resolved",
		"credential_type", response.CredentialType,
		"iss", response.Iss,
	)
	return nil
}

// subjectKey derives a storage-safe key from a subject DID: long-form ion
// DIDs drop their suffix data and the colon-separated prefix becomes
// dot-separated.
func subjectKey(sub string) string {
	if sub == "" {
		return ""
	}
	key := strings.Replace(sub, "did:ion:", "did.ion.", 1)
	return strings.Split(key, ":")[0]
}

// Manifest exposes the presentation credential manifest for the echo endpoints.
func (s *Service) Manifest() vcclient.Manifest {
	return s.templates.PresentationManifest
}
