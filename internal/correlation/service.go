package correlation

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"vcrelay/internal/platform/cache"
	"vcrelay/internal/platform/metrics"
	"vcrelay/internal/tracing"
	"vcrelay/internal/vcclient"
	dErrors "vcrelay/pkg/domain-errors"
)

// Service orchestrates the per-correlation-id state machine:
//
//	NONE -> RETRIEVED(1) -> VERIFIED(2) -> CONSUMED
//
// Transitions are not strictly ordered; the relay trusts the VC Client API's
// callback ordering and last write wins. A poll that finds a record consumes
// it (at-most-once delivery), and records that nobody polls are evicted by
// the store's TTL.
//
// One Service is constructed per flow (issuance, presentation) so callback
// codes and waiting messages differ, but all instances share one store.
type Service struct {
	flow           string
	waitingMessage string
	// terminalCode is the callback code that completes this flow; empty for
	// flows whose completion arrives as a raw response body instead.
	terminalCode string

	store   *cache.Store
	ttl     time.Duration
	logger  *slog.Logger
	tracer  tracing.Tracer
	metrics *metrics.Metrics
}

// Option configures the service.
type Option func(*Service)

// WithTerminalCode sets the callback code treated as flow completion.
func WithTerminalCode(code string) Option {
	return func(s *Service) {
		s.terminalCode = code
	}
}

// WithTracer configures a tracer.
func WithTracer(tracer tracing.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

// WithMetrics configures metrics collection.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// NewService creates an orchestrator for one flow.
func NewService(flow, waitingMessage string, store *cache.Store, ttl time.Duration, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		flow:           flow,
		waitingMessage: waitingMessage,
		store:          store,
		ttl:            ttl,
		logger:         logger,
		tracer:         tracing.NewNoop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewID generates a fresh correlation id. It is an opaque random token;
// nothing in the relay ever parses it.
func (s *Service) NewID() string {
	return uuid.NewString()
}

// HandleCallback parses an inbound callback body and advances the state
// machine for the correlation id it carries.
//
// Codes other than "request_retrieved" and the flow's terminal code are
// accepted without error and produce no state change. The VC Client API adds
// codes over time and rejecting them would fail whole flows, so they are
// logged and dropped.
func (s *Service) HandleCallback(ctx context.Context, body []byte) error {
	var event vcclient.CallbackEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid callback body")
	}
	if event.State == "" {
		return dErrors.New(dErrors.CodeBadRequest, "missing argument 'state'")
	}

	ctx, span := s.tracer.Start(ctx, tracing.SpanHandleCallback,
		tracing.String(tracing.AttrFlow, s.flow),
		tracing.String(tracing.AttrCorrelationID, event.State),
		tracing.String(tracing.AttrCallbackCode, event.Code),
	)
	defer span.End(nil)

	if s.metrics != nil {
		s.metrics.IncCallbackReceived(event.Code)
	}

	switch {
	case event.Code == vcclient.CodeRequestRetrieved:
		s.logger.InfoContext(ctx, "request retrieved by wallet",
			"flow", s.flow,
			"correlation_id", event.State,
		)
		s.save(Record{
			Status:    StatusRetrieved,
			Message:   s.waitingMessage,
			State:     event.State,
			RequestID: event.RequestID,
		})

	case s.terminalCode != "" && event.Code == s.terminalCode:
		s.logger.InfoContext(ctx, "flow completed",
			"flow", s.flow,
			"correlation_id", event.State,
		)
		s.save(Record{
			Status:    StatusVerified,
			Message:   event.DisplayName(),
			State:     event.State,
			RequestID: event.RequestID,
			Payload:   body,
		})

	default:
		// Permissive by inherited contract: unknown codes are dropped, not
		// rejected. Logged so malformed callbacks remain visible.
		s.logger.WarnContext(ctx, "ignoring callback with unsupported code",
			"flow", s.flow,
			"correlation_id", event.State,
			"code", event.Code,
		)
	}

	return nil
}

// Poll looks up the record for a correlation id. If present it is removed
// before being returned, so two sequential polls see the record exactly once.
// An absent record means "not ready yet", never an error: the record may not
// have been written, or it may have expired unpolled.
func (s *Service) Poll(ctx context.Context, id string) (*Record, bool) {
	return s.poll(ctx, id)
}

// PollSecondary is Poll keyed by the VC Client API's own request id, a
// fallback for when the caller only knows that identifier.
func (s *Service) PollSecondary(ctx context.Context, requestID string) (*Record, bool) {
	return s.poll(ctx, requestID)
}

func (s *Service) poll(ctx context.Context, key string) (*Record, bool) {
	_, span := s.tracer.Start(ctx, tracing.SpanPoll,
		tracing.String(tracing.AttrFlow, s.flow),
		tracing.String(tracing.AttrCorrelationID, key),
	)
	defer span.End(nil)

	buf, found := s.store.TryGet(key)
	if !found {
		span.SetAttributes(tracing.Bool(tracing.AttrPollHit, false))
		s.countPoll("not_ready")
		return nil, false
	}

	var record Record
	if err := json.Unmarshal(buf, &record); err != nil {
		// A record we wrote ourselves should always decode; drop it rather
		// than serving it to the poller again and again.
		s.logger.ErrorContext(ctx, "dropping undecodable correlation record",
			"flow", s.flow,
			"correlation_id", key,
			"error", err,
		)
		s.store.Remove(key)
		s.countPoll("not_ready")
		return nil, false
	}

	// Terminal read: remove the record and its secondary alias immediately.
	s.store.Remove(key)
	if record.State != "" && record.State != key {
		s.store.Remove(record.State)
	}
	if record.RequestID != "" && record.RequestID != key {
		s.store.Remove(record.RequestID)
	}

	span.SetAttributes(tracing.Bool(tracing.AttrPollHit, true))
	s.countPoll("hit")
	return &record, true
}

// SaveResponse caches a raw response body under a correlation id with the
// configured TTL. Used for flows where the VC Client API posts the full
// result directly instead of a coded callback.
func (s *Service) SaveResponse(id string, body []byte) {
	s.store.Set(id, body, s.ttl)
}

// TakeResponse returns and removes a raw cached response body. The body is
// passed through verbatim; if it happens to be a correlation record its
// secondary key is removed too.
func (s *Service) TakeResponse(id string) ([]byte, bool) {
	buf, found := s.store.TryGet(id)
	if !found {
		s.countPoll("not_ready")
		return nil, false
	}
	s.store.Remove(id)

	var record Record
	if err := json.Unmarshal(buf, &record); err == nil {
		if record.State != "" && record.State != id {
			s.store.Remove(record.State)
		}
		if record.RequestID != "" && record.RequestID != id {
			s.store.Remove(record.RequestID)
		}
	}

	s.countPoll("hit")
	return buf, true
}

func (s *Service) save(record Record) {
	buf, err := json.Marshal(record)
	if err != nil {
		// Record contains only marshalable fields; this cannot happen.
		s.logger.Error("could not encode correlation record", "error", err)
		return
	}
	s.store.Set(record.State, buf, s.ttl)
	if record.RequestID != "" && record.RequestID != record.State {
		s.store.Set(record.RequestID, buf, s.ttl)
	}
}

func (s *Service) countPoll(outcome string) {
	if s.metrics != nil {
		s.metrics.IncPoll(outcome)
	}
}
