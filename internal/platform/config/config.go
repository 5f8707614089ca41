package config

import (
	"os"
	"strconv"
	"time"
)

// Server captures relay configuration sourced from the environment.
type Server struct {
	Addr string

	// APIEndpoint is the VC Client API request endpoint the relay posts
	// issuance and presentation requests to.
	APIEndpoint string

	// APIKey authenticates outbound calls to the VC Client API
	// (x-functions-key header). Optional.
	APIKey string

	// CallbackKey is handed to the VC Client API inside callback.headers so
	// its asynchronous callbacks can authenticate to us. Empty means a
	// random per-boot key is generated.
	CallbackKey string

	// PublicBaseURL overrides host-header derivation when building callback
	// URLs (useful behind tunnels such as ngrok).
	PublicBaseURL string

	ClientName string

	// Tracing selects the tracer backend: "otel" uses the global
	// OpenTelemetry provider, anything else is a noop.
	Tracing string

	// CacheTTL bounds how long correlation records wait for a poll.
	CacheTTL time.Duration

	// ExternalTimeout bounds every outbound call to the VC Client API.
	ExternalTimeout time.Duration

	IssuanceRequestFile     string
	PresentationRequestFile string
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	cfg := Server{
		Addr:                    getEnv("VCRELAY_ADDR", ":8080"),
		APIEndpoint:             os.Getenv("VC_API_ENDPOINT"),
		APIKey:                  os.Getenv("VC_API_KEY"),
		CallbackKey:             os.Getenv("VCRELAY_CALLBACK_KEY"),
		PublicBaseURL:           os.Getenv("VCRELAY_PUBLIC_BASE_URL"),
		ClientName:              getEnv("VCRELAY_CLIENT_NAME", "VC Relay Demo"),
		Tracing:                 os.Getenv("VCRELAY_TRACING"),
		CacheTTL:                300 * time.Second,
		ExternalTimeout:         30 * time.Second,
		IssuanceRequestFile:     getEnv("ISSUANCE_REQUEST_FILE", "requests/issuance_request.json"),
		PresentationRequestFile: getEnv("PRESENTATION_REQUEST_FILE", "requests/presentation_request.json"),
	}

	if seconds := os.Getenv("CACHE_EXPIRES_SECONDS"); seconds != "" {
		if n, err := strconv.Atoi(seconds); err == nil && n > 0 {
			cfg.CacheTTL = time.Duration(n) * time.Second
		}
	}
	if timeout := os.Getenv("VC_API_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil && d > 0 {
			cfg.ExternalTimeout = d
		}
	}

	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
