package service

import (
	"crypto/rand"
	"fmt"
	"math"
	"math/big"

	dErrors "vcrelay/pkg/domain-errors"
)

// maxPinLength keeps 10^length inside an int64 with headroom.
const maxPinLength = 12

// GeneratePin returns a zero-padded decimal pin of exactly the given length,
// drawn uniformly from [1, 10^length - 1]. Zero is excluded so a pin is never
// all zeros; the wallet treats that as unset.
func GeneratePin(length int) (string, error) {
	if length < 1 || length > maxPinLength {
		return "", dErrors.New(dErrors.CodeValidation, fmt.Sprintf("pin length must be between 1 and %d", maxPinLength))
	}

	upper := int64(math.Pow10(length)) - 1
	n, err := rand.Int(rand.Reader, big.NewInt(upper))
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "could not generate pin")
	}

	return fmt.Sprintf("%0*d", length, n.Int64()+1), nil
}
