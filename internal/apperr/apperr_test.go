// ABOUTME: Tests for the typed error taxonomy
// ABOUTME: Covers code extraction, wrapping, and errors.Is/As interop

package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeOf_TypedError(t *testing.T) {
	err := AccessDenied("not a participant")
	assert.Equal(t, CodeAccessDenied, CodeOf(err))
}

func TestCodeOf_WrappedTypedError(t *testing.T) {
	inner := Blocked("conversation is blocked")
	outer := fmt.Errorf("send failed: %w", inner)
	assert.Equal(t, CodeBlocked, CodeOf(outer))
}

func TestCodeOf_UnclassifiedDefaultsToTransient(t *testing.T) {
	assert.Equal(t, CodeTransientStore, CodeOf(errors.New("disk on fire")))
}

func TestWrap_PreservesCause(t *testing.T) {
	cause := errors.New("database is locked")
	err := TransientStore("updating message status", cause)

	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "database is locked")
}

func TestErrorMessage_CauseNeverOnWire(t *testing.T) {
	err := Wrap(CodeNotFound, "conversation not found", errors.New("sql: no rows"))

	// The Message field is what gets serialized; the cause only appears in
	// the log-facing Error() string.
	assert.Equal(t, "conversation not found", err.Message)
	assert.Contains(t, err.Error(), "sql: no rows")
}

func TestHasCode(t *testing.T) {
	err := InvalidOperation("edit window expired")
	assert.True(t, HasCode(err, CodeInvalidOperation))
	assert.False(t, HasCode(err, CodeAccessDenied))
}
