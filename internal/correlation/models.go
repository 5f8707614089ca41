// Package correlation implements the request/callback/poll pattern at the
// heart of the relay: a correlation id is generated per request, handed to
// the VC Client API inside the callback block, written back by asynchronous
// callbacks, and read (once) by the browser's poll.
package correlation

import "encoding/json"

// Status is the progress of one in-flight operation.
// Absence of a record means "not yet started or already consumed".
type Status int

const (
	// StatusRetrieved means the wallet fetched the request (QR code scanned).
	StatusRetrieved Status = 1
	// StatusVerified means the VC Client API completed and validated the operation.
	StatusVerified Status = 2
)

// Record is the state passed from an asynchronous callback to a later poll.
// It lives in the correlation store until consumed or expired.
type Record struct {
	Status  Status `json:"status"`
	Message string `json:"message"`

	// State is the primary correlation id; RequestID is the VC Client API's
	// own identifier for the same request, kept as a secondary lookup key.
	State     string `json:"state,omitempty"`
	RequestID string `json:"requestId,omitempty"`

	// Payload retains the raw callback body until a poll consumes it.
	// Only terminal callbacks carry one.
	Payload json.RawMessage `json:"payload,omitempty"`
}
