package httputil

import (
	"net/http"
	"strings"
)

// RequestBaseURL reconstructs the externally visible base URL of a request,
// used to build the callback URLs handed to the VC Client API. Reverse proxies
// and dev tunnels in front of the relay forward the original host in the
// x-original-host header; the wallet only accepts https callbacks, so the
// scheme is fixed.
func RequestBaseURL(r *http.Request, override string) string {
	if override != "" {
		return strings.TrimRight(override, "/")
	}
	host := r.Header.Get("x-original-host")
	if host == "" {
		host = r.Host
	}
	return "https://" + host
}
