// Package jwtpayload extracts claims from JWTs WITHOUT verifying signatures.
//
// The VC Client API receipt carries nested JWTs (id_token, presentation, the
// credential itself). The relay only needs to read their payloads to shape a
// response; cryptographic validation of the credential is the VC Client API's
// job. Nothing in this package is a security control.
package jwtpayload

import (
	"github.com/golang-jwt/jwt/v5"

	dErrors "vcrelay/pkg/domain-errors"
)

// DecodeUnverifiedTokenPayload base64-decodes the payload segment of a JWT
// and returns it as a generic claims map. The signature is NOT checked.
func DecodeUnverifiedTokenPayload(token string) (map[string]any, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "malformed token")
	}
	return claims, nil
}
