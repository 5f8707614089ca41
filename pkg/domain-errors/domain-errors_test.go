package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	err := New(CodeBadRequest, "missing argument 'id'")
	assert.Equal(t, "missing argument 'id'", err.Error())
	assert.True(t, HasCode(err, CodeBadRequest))
	assert.False(t, HasCode(err, CodeNotFound))
}

func TestErrorWithoutMessageUsesCode(t *testing.T) {
	err := &Error{Code: CodeInternal}
	assert.Equal(t, "internal_error", err.Error())
}

func TestWrapPreservesDomainCode(t *testing.T) {
	inner := New(CodeUpstream, "VC Client API said no")
	wrapped := Wrap(inner, CodeInternal, "submit failed")

	assert.True(t, HasCode(wrapped, CodeUpstream))
	assert.Equal(t, "submit failed", wrapped.Error())
	assert.True(t, errors.Is(wrapped, inner))
}

func TestWrapPlainError(t *testing.T) {
	inner := fmt.Errorf("connection refused")
	wrapped := Wrap(inner, CodeTimeout, "VC Client API unreachable")

	assert.True(t, HasCode(wrapped, CodeTimeout))
	assert.Equal(t, inner, errors.Unwrap(wrapped))
}

func TestIsMatchesByCode(t *testing.T) {
	a := New(CodeNotFound, "record gone")
	b := New(CodeNotFound, "other message")
	assert.True(t, errors.Is(a, b))
}
