// Package vcclient talks to the external VC Client API, the backend that does
// the actual credential issuance and verification. The relay builds typed
// request payloads, posts them, and receives asynchronous callbacks addressed
// by the callback block embedded in each request.
package vcclient

import "encoding/json"

// Callback tells the VC Client API where to send asynchronous notifications.
// State is the correlation id linking the callback to the browser session
// that initiated the request.
type Callback struct {
	URL     string            `json:"url"`
	State   string            `json:"state"`
	Nonce   string            `json:"nonce"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Registration carries the client display name shown in the wallet.
type Registration struct {
	ClientName string `json:"clientName"`
}

// Pin configures the issuance pin code. Length comes from the template; Value
// is generated per request.
type Pin struct {
	Value  string `json:"value,omitempty"`
	Length int    `json:"length"`
}

// RequestedCredential describes one credential the verifier asks for.
type RequestedCredential struct {
	Type           string   `json:"type"`
	Manifest       string   `json:"manifest"`
	Purpose        string   `json:"purpose,omitempty"`
	TrustedIssuers []string `json:"trustedIssuers,omitempty"`
}

// Presentation is the verification half of a request payload.
type Presentation struct {
	IncludeReceipt       bool                  `json:"includeReceipt"`
	RequestedCredentials []RequestedCredential `json:"requestedCredentials"`
}

// Issuance is the issuance half of a request payload.
type Issuance struct {
	Type     string            `json:"type"`
	Manifest string            `json:"manifest"`
	Pin      *Pin              `json:"pin,omitempty"`
	Claims   map[string]string `json:"claims,omitempty"`
}

// Request is the payload posted to the VC Client API. Exactly one of
// Presentation or Issuance is set.
type Request struct {
	Authority     string        `json:"authority"`
	IncludeQRCode bool          `json:"includeQRCode"`
	Registration  Registration  `json:"registration"`
	Callback      Callback      `json:"callback"`
	Presentation  *Presentation `json:"presentation,omitempty"`
	Issuance      *Issuance     `json:"issuance,omitempty"`
}

// Callback codes the VC Client API sends. Only these two carry meaning for
// the relay; anything else is accepted and ignored.
const (
	CodeRequestRetrieved     = "request_retrieved"
	CodePresentationVerified = "presentation_verified"
)

// CallbackEvent is the body of an inbound callback from the VC Client API.
// State echoes the correlation id the relay put in the request's callback
// block; RequestID is the VC Client API's own identifier for the request.
type CallbackEvent struct {
	Code      string           `json:"code"`
	State     string           `json:"state"`
	RequestID string           `json:"requestId,omitempty"`
	Issuers   []CallbackIssuer `json:"issuers,omitempty"`
	Receipt   *Receipt         `json:"receipt,omitempty"`
}

// CallbackIssuer carries the claims one issuer attested to in a verified
// presentation.
type CallbackIssuer struct {
	Claims map[string]string `json:"claims"`
	Domain string            `json:"domain,omitempty"`
}

// Receipt holds the raw presentation exchange artifacts. The id_token is a
// JWT whose payload the relay decodes without signature verification.
type Receipt struct {
	IDToken string `json:"id_token"`
}

// DisplayName composes the subject's display name from the first issuer's
// claims: an explicit displayName claim wins, otherwise firstName lastName.
func (e *CallbackEvent) DisplayName() string {
	if len(e.Issuers) == 0 {
		return ""
	}
	claims := e.Issuers[0].Claims
	if name, ok := claims["displayName"]; ok {
		return name
	}
	return claims["firstName"] + " " + claims["lastName"]
}

// Manifest is the slice of the credential manifest the relay reads: the
// issuer DID, the credential type id, and display details surfaced by the
// echo endpoints.
type Manifest struct {
	ID      string          `json:"id"`
	Input   ManifestInput   `json:"input"`
	Display ManifestDisplay `json:"display"`
}

// ManifestInput identifies the issuing authority.
type ManifestInput struct {
	Issuer string `json:"issuer"`
}

// ManifestDisplay carries wallet card rendering details.
type ManifestDisplay struct {
	Card     json.RawMessage `json:"card,omitempty"`
	Contract string          `json:"contract,omitempty"`
}

// CardLogoURI digs the logo URI out of the raw card block, empty when absent.
func (d ManifestDisplay) CardLogoURI() string {
	if len(d.Card) == 0 {
		return ""
	}
	var card struct {
		Logo struct {
			URI string `json:"uri"`
		} `json:"logo"`
	}
	if err := json.Unmarshal(d.Card, &card); err != nil {
		return ""
	}
	return card.Logo.URI
}
