package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const (
	iphoneUA  = "Mozilla/5.0 (iPhone; CPU iPhone OS 16_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.0 Mobile/15E148 Safari/604.1"
	desktopUA = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

func TestHint(t *testing.T) {
	assert.Equal(t, HintDeepLink, Hint(iphoneUA))
	assert.Equal(t, HintQRCode, Hint(desktopUA))
	assert.Equal(t, HintQRCode, Hint(""))
	assert.Equal(t, HintQRCode, Hint("curl/8.0.1"))
}

func TestDescribe(t *testing.T) {
	assert.Contains(t, Describe(desktopUA), "Chrome")
	assert.Equal(t, "Unknown Device", Describe(""))
}
