package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfWrapped(t *testing.T) {
	base := Conflict(CodeAlreadyAccepted, "already accepted by another doctor")
	wrapped := fmt.Errorf("accept queue: %w", base)

	assert.Equal(t, KindConflict, KindOf(wrapped))
	assert.True(t, HasCode(wrapped, CodeAlreadyAccepted))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
}

func TestWithCopiesExtensions(t *testing.T) {
	base := Conflict(CodeEmergencyLimitReached, "limit")
	a := base.With("retryAfterSeconds", 10)
	b := a.With("resetAt", "tomorrow")

	assert.Nil(t, base.Extensions)
	assert.Len(t, a.Extensions, 1)
	assert.Len(t, b.Extensions, 2)
}

func TestUnavailableUnwraps(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := Unavailable(CodePaymentProviderFailed, "provider down", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "provider down")
}
