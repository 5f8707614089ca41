package service

import (
	"math"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratePin(t *testing.T) {
	for _, length := range []int{1, 4, 6, 8} {
		t.Run(strconv.Itoa(length), func(t *testing.T) {
			for i := 0; i < 1000; i++ {
				pin, err := GeneratePin(length)
				require.NoError(t, err)
				require.Len(t, pin, length)

				n, err := strconv.Atoi(pin)
				require.NoError(t, err, "pin must be decimal digits only")
				assert.Greater(t, n, 0)
				assert.Less(t, n, int(math.Pow10(length)))
			}
		})
	}
}

func TestGeneratePinKeepsLeadingZeros(t *testing.T) {
	// with length 1 roughly one in nine pins is single-valued; with longer
	// pins leading zeros must be preserved, so check the invariant holds over
	// many draws rather than hunting for a specific value
	for i := 0; i < 2000; i++ {
		pin, err := GeneratePin(6)
		require.NoError(t, err)
		require.Len(t, pin, 6)
	}
}

func TestGeneratePinRejectsBadLengths(t *testing.T) {
	for _, length := range []int{0, -1, 13} {
		_, err := GeneratePin(length)
		assert.Error(t, err, "length %d", length)
	}
}
