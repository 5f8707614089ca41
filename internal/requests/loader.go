// Package requests loads the issuance and presentation request templates the
// relay submits to the VC Client API. Templates are file-backed, completed
// once at startup from their credential manifests, and cached for the life of
// the process.
package requests

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/sync/errgroup"

	"vcrelay/internal/platform/cache"
	"vcrelay/internal/vcclient"
	dErrors "vcrelay/pkg/domain-errors"
)

// Cache keys for completed templates and their manifests. Long-lived entries,
// stored without expiry.
const (
	keyIssuanceRequest      = "issuanceRequest"
	keyPresentationRequest  = "presentationRequest"
	keyIssuanceManifest     = "manifestIssuance"
	keyPresentationManifest = "manifestPresentation"
)

// Templates holds the completed request templates and their manifests.
// Services deep-copy a template per request; Templates itself is read-only
// after Load.
type Templates struct {
	Issuance         vcclient.Request
	IssuanceManifest vcclient.Manifest

	Presentation         vcclient.Request
	PresentationManifest vcclient.Manifest
}

// Loader reads template files and completes them from their manifests.
type Loader struct {
	api        vcclient.API
	store      *cache.Store
	clientName string
	logger     *slog.Logger
}

// NewLoader creates a template loader.
func NewLoader(api vcclient.API, store *cache.Store, clientName string, logger *slog.Logger) *Loader {
	return &Loader{
		api:        api,
		store:      store,
		clientName: clientName,
		logger:     logger,
	}
}

// Load reads both template files, fetches their manifests concurrently, and
// returns the completed templates. Both manifests must resolve; a relay that
// cannot build valid requests should fail at startup, not per request.
func (l *Loader) Load(ctx context.Context, issuanceFile, presentationFile string) (*Templates, error) {
	templates := &Templates{}

	issuance, err := readTemplate(issuanceFile)
	if err != nil {
		return nil, err
	}
	if issuance.Issuance == nil {
		return nil, dErrors.New(dErrors.CodeValidation, "issuance template has no issuance block")
	}

	presentation, err := readTemplate(presentationFile)
	if err != nil {
		return nil, err
	}
	if presentation.Presentation == nil || len(presentation.Presentation.RequestedCredentials) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "presentation template requests no credentials")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		manifest, raw, err := l.fetchManifest(ctx, issuance.Issuance.Manifest)
		if err != nil {
			return err
		}
		templates.IssuanceManifest = manifest
		l.store.SetNoExpiry(keyIssuanceManifest, raw)
		return nil
	})
	g.Go(func() error {
		manifest, raw, err := l.fetchManifest(ctx, presentation.Presentation.RequestedCredentials[0].Manifest)
		if err != nil {
			return err
		}
		templates.PresentationManifest = manifest
		l.store.SetNoExpiry(keyPresentationManifest, raw)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	templates.Issuance = completeIssuance(*issuance, templates.IssuanceManifest, l.clientName)
	templates.Presentation = completePresentation(*presentation, templates.PresentationManifest, l.clientName)

	l.cacheTemplate(keyIssuanceRequest, templates.Issuance)
	l.cacheTemplate(keyPresentationRequest, templates.Presentation)

	l.logger.Info("request templates loaded",
		"issuance_type", templates.Issuance.Issuance.Type,
		"presentation_type", templates.Presentation.Presentation.RequestedCredentials[0].Type,
	)

	return templates, nil
}

func readTemplate(path string) (*vcclient.Request, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "request template not found: "+path)
	}
	var req vcclient.Request
	if err := json.Unmarshal(buf, &req); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "invalid request template: "+path)
	}
	return &req, nil
}

func (l *Loader) fetchManifest(ctx context.Context, url string) (vcclient.Manifest, []byte, error) {
	var manifest vcclient.Manifest
	if url == "" {
		return manifest, nil, dErrors.New(dErrors.CodeValidation, "template has no manifest URL")
	}

	raw, err := l.api.FetchManifest(ctx, url)
	if err != nil {
		return manifest, nil, err
	}
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return manifest, nil, dErrors.Wrap(err, dErrors.CodeUpstream, "invalid manifest from "+url)
	}
	return manifest, raw, nil
}

// completeIssuance fills the template fields that never change per request:
// authority and credential type from the manifest, the wallet-visible client
// name, and drops a zero-length pin block the VC Client API would reject.
func completeIssuance(req vcclient.Request, manifest vcclient.Manifest, clientName string) vcclient.Request {
	if !strings.HasPrefix(req.Authority, "did:") {
		req.Authority = manifest.Input.Issuer
	}
	if req.Issuance.Type == "" {
		req.Issuance.Type = manifest.ID
	}
	req.Registration.ClientName = clientName

	if req.Issuance.Pin != nil && req.Issuance.Pin.Length == 0 {
		req.Issuance.Pin = nil
	}
	return req
}

func completePresentation(req vcclient.Request, manifest vcclient.Manifest, clientName string) vcclient.Request {
	if !strings.HasPrefix(req.Authority, "did:") {
		req.Authority = manifest.Input.Issuer
	}
	req.Registration.ClientName = clientName

	requested := &req.Presentation.RequestedCredentials[0]
	if requested.Type == "" {
		requested.Type = manifest.ID
	}
	requested.TrustedIssuers = []string{manifest.Input.Issuer}
	return req
}

func (l *Loader) cacheTemplate(key string, req vcclient.Request) {
	buf, err := json.Marshal(req)
	if err != nil {
		return
	}
	l.store.SetNoExpiry(key, buf)
}

// CopyIssuance returns a per-request deep copy of the issuance template so
// concurrent requests never share claim or pin maps.
func (t *Templates) CopyIssuance() vcclient.Request {
	req := t.Issuance

	issuance := *req.Issuance
	if issuance.Pin != nil {
		pin := *issuance.Pin
		issuance.Pin = &pin
	}
	if issuance.Claims != nil {
		claims := make(map[string]string, len(issuance.Claims))
		for k, v := range issuance.Claims {
			claims[k] = v
		}
		issuance.Claims = claims
	}
	req.Issuance = &issuance

	req.Callback = copyCallback(req.Callback)
	return req
}

// CopyPresentation returns a per-request deep copy of the presentation template.
func (t *Templates) CopyPresentation() vcclient.Request {
	req := t.Presentation

	presentation := *req.Presentation
	presentation.RequestedCredentials = make([]vcclient.RequestedCredential, len(req.Presentation.RequestedCredentials))
	copy(presentation.RequestedCredentials, req.Presentation.RequestedCredentials)
	for i := range presentation.RequestedCredentials {
		issuers := presentation.RequestedCredentials[i].TrustedIssuers
		presentation.RequestedCredentials[i].TrustedIssuers = append([]string(nil), issuers...)
	}
	req.Presentation = &presentation

	req.Callback = copyCallback(req.Callback)
	return req
}

func copyCallback(cb vcclient.Callback) vcclient.Callback {
	if cb.Headers != nil {
		headers := make(map[string]string, len(cb.Headers))
		for k, v := range cb.Headers {
			headers[k] = v
		}
		cb.Headers = headers
	}
	return cb
}
