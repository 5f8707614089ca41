// Package device classifies the calling browser so request responses can hint
// whether the front end should render a QR code (desktop) or a wallet
// deep link (mobile).
package device

import (
	"strings"

	"github.com/mssola/useragent"
)

// Presentation hints returned to the browser alongside the request URL.
const (
	HintQRCode   = "qr"
	HintDeepLink = "deeplink"
)

// Hint returns the rendering hint for the given User-Agent string.
// Unknown or empty agents default to a QR code, which works everywhere.
func Hint(userAgentString string) string {
	if userAgentString == "" {
		return HintQRCode
	}
	ua := useragent.New(userAgentString)
	if ua.Mobile() {
		return HintDeepLink
	}
	return HintQRCode
}

// Describe extracts a human-readable device name from a User-Agent string,
// format "Browser on OS" (e.g. "Safari on iOS"). Used for trace logging only.
func Describe(userAgentString string) string {
	if userAgentString == "" {
		return "Unknown Device"
	}

	ua := useragent.New(userAgentString)
	browser, _ := ua.Browser()
	os := ua.OS()

	browser = strings.TrimSpace(browser)
	os = strings.TrimSpace(os)
	if browser == "" {
		browser = "Unknown Browser"
	}
	if os == "" {
		return browser
	}
	return browser + " on " + os
}
