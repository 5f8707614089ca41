// Package handler exposes the issuance flow over HTTP.
package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"vcrelay/internal/platform/middleware"
	"vcrelay/internal/vcclient"
	"vcrelay/pkg/device"
	dErrors "vcrelay/pkg/domain-errors"
	"vcrelay/pkg/platform/httputil"
)

// Service defines the issuance operations the handler depends on.
type Service interface {
	CreateRequest(ctx context.Context, baseURL string, query url.Values) (map[string]any, error)
	VerifyCallbackKey(key string) error
	HandleCallback(ctx context.Context, body []byte) error
	PollResponse(ctx context.Context, id string) ([]byte, bool)
	StoreResponse(ctx context.Context, body []byte) error
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
	r.Get("/api/issuer/issue-request", h.HandleIssueRequest)
	r.Post("/api/issuer/issuance-callback", h.HandleIssuanceCallback)
	r.Get("/api/issuer/issue-response", h.HandleIssueResponse)
	r.Post("/api/issuer/response", h.HandleStoreResponse)
	r.Get("/api/issuer/echo", h.HandleEcho)
	r.Get("/api/issuer/logo.png", h.HandleLogo)
}

// HandleIssueRequest submits an issuance request to the VC Client API and
// echoes its response back to the browser, annotated with the correlation id
// and the pin.
func (h *Handler) HandleIssueRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	baseURL := httputil.RequestBaseURL(r, h.publicBaseURL)
	h.logger.DebugContext(ctx, "issue request",
		"request_id", requestID,
		"device", device.Describe(r.UserAgent()),
	)

	payload, err := h.service.CreateRequest(ctx, baseURL, r.URL.Query())
	if err != nil {
		h.logger.ErrorContext(ctx, "issue request failed", "error", err, "request_id", requestID)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, payload)
}

// HandleIssuanceCallback receives asynchronous callbacks from the VC Client
// API. The api-key header must match the key handed out in the request's
// callback block.
func (h *Handler) HandleIssuanceCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.service.VerifyCallbackKey(r.Header.Get("api-key")); err != nil {
		h.logger.WarnContext(ctx, "issuance callback with bad api key")
		httputil.WriteError(w, err)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "could not read callback body"))
		return
	}

	if err := h.service.HandleCallback(ctx, body); err != nil {
		h.logger.ErrorContext(ctx, "issuance callback rejected", "error", err)
		httputil.WriteError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// HandleIssueResponse is the browser's poll. A cached record or response body
// is returned verbatim and consumed; nothing cached yet yields an empty 200.
func (h *Handler) HandleIssueResponse(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id := r.URL.Query().Get("id")
	if id == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "Missing argument 'id'"))
		return
	}

	body, found := h.service.PollResponse(ctx, id)
	if !found {
		w.WriteHeader(http.StatusOK)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// HandleStoreResponse caches a raw issuance completion body posted by the VC
// Client API for a later poll to pick up.
func (h *Handler) HandleStoreResponse(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "could not read response body"))
		return
	}

	if err := h.service.StoreResponse(ctx, body); err != nil {
		httputil.WriteError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
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
