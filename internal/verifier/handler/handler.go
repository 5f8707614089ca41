// Package handler exposes the presentation flow over HTTP, including the
// claims exchange endpoint Azure AD B2C polls.
package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"vcrelay/internal/correlation"
	"vcrelay/internal/platform/middleware"
	"vcrelay/internal/vcclient"
	"vcrelay/internal/verifier/service"
	"vcrelay/pkg/device"
	dErrors "vcrelay/pkg/domain-errors"
	"vcrelay/pkg/platform/httputil"
)

// Service defines the presentation operations the handler depends on.
type Service interface {
	CreateRequest(ctx context.Context, baseURL string) (map[string]any, error)
	VerifyCallbackKey(key string) error
	HandleCallback(ctx context.Context, body []byte) error
	Status(ctx context.Context, id, requestID string) (*correlation.Record, bool)
	StatusB2C(ctx context.Context, id string) (*service.B2CResponse, error)
	Manifest() vcclient.Manifest
}

type Handler struct {
	service       Service
	publicBaseURL string
	logger        *slog.Logger
}

func New(service Service, publicBaseURL string, logger *slog.Logger) *Handler {
	return &Handler{service: service, publicBaseURL: publicBaseURL, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/api/verifier/presentation-request", h.HandlePresentationRequest)
	r.Post("/api/verifier/presentation-callback", h.HandlePresentationCallback)
	r.Get("/api/verifier/presentation-response-status", h.HandleResponseStatus)
	r.Post("/api/verifier/presentation-response-b2c", h.HandleResponseB2C)
	r.Get("/api/verifier/echo", h.HandleEcho)
	r.Get("/api/verifier/logo.png", h.HandleLogo)
}

// HandlePresentationRequest submits a presentation request to the VC Client
// API and echoes its response back to the browser, annotated with the
// correlation id.
func (h *Handler) HandlePresentationRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	baseURL := httputil.RequestBaseURL(r, h.publicBaseURL)
	h.logger.DebugContext(ctx, "presentation request",
		"request_id", requestID,
		"device", device.Describe(r.UserAgent()),
	)

	payload, err := h.service.CreateRequest(ctx, baseURL)
	if err != nil {
		h.logger.ErrorContext(ctx, "presentation request failed", "error", err, "request_id", requestID)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, payload)
}

// HandlePresentationCallback receives asynchronous callbacks from the VC
// Client API.
func (h *Handler) HandlePresentationCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.service.VerifyCallbackKey(r.Header.Get("api-key")); err != nil {
		h.logger.WarnContext(ctx, "presentation callback with bad api key")
		httputil.WriteError(w, err)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "could not read callback body"))
		return
	}

	if err := h.service.HandleCallback(ctx, body); err != nil {
		h.logger.ErrorContext(ctx, "presentation callback rejected", "error", err)
		httputil.WriteError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// HandleResponseStatus is the browser's poll. A found record is consumed and
// reduced to status and message; nothing waiting yields an empty 200 so the
// browser keeps polling.
func (h *Handler) HandleResponseStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id := r.URL.Query().Get("id")
	if id == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "Missing argument 'id'"))
		return
	}

	record, found := h.service.Status(ctx, id, r.URL.Query().Get("requestId"))
	if !found {
		w.WriteHeader(http.StatusOK)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status":  record.Status,
		"message": record.Message,
	})
}

// HandleResponseB2C is the claims exchange endpoint of the B2C REST technical
// profile. B2C expects its own conflict envelope rather than the relay's
// usual error shape when no verified presentation is waiting.
func (h *Handler) HandleResponseB2C(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, ok := httputil.DecodeAndValidate[StatusB2CRequest](w, r, h.logger, ctx)
	if !ok {
		return
	}

	response, err := h.service.StatusB2C(ctx, body.ID)
	if err != nil {
		var domainErr *dErrors.Error
		if errors.As(err, &domainErr) && domainErr.Code == dErrors.CodeConflict {
			httputil.WriteJSON(w, http.StatusConflict, map[string]any{
				"version":     "1.0.0",
				"status":      http.StatusBadRequest,
				"userMessage": domainErr.Message,
			})
			return
		}
		h.logger.ErrorContext(ctx, "b2c claims exchange failed", "error", err, "correlation_id", body.ID)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, response)
}

// HandleEcho reports runtime details useful when debugging wallet
// connectivity: resolved base URL, caller device, and the loaded manifest.
func (h *Handler) HandleEcho(w http.ResponseWriter, r *http.Request) {
	manifest := h.service.Manifest()
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"date":           time.Now().UTC().Format(time.RFC3339),
		"api":            r.URL.Path,
		"host":           httputil.RequestBaseURL(r, h.publicBaseURL),
		"device":         device.Describe(r.UserAgent()),
		"render":         device.Hint(r.UserAgent()),
		"credentialType": manifest.ID,
		"issuerDid":      manifest.Input.Issuer,
		"logoUri":        manifest.Display.CardLogoURI(),
	})
}

// HandleLogo redirects to the credential card logo from the manifest.
func (h *Handler) HandleLogo(w http.ResponseWriter, r *http.Request) {
	uri := h.service.Manifest().Display.CardLogoURI()
	if uri == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "manifest has no card logo"))
		return
	}
	http.Redirect(w, r, uri, http.StatusFound)
}
