package broker

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKind(t *testing.T) {
	base := errors.New("boom")
	err := &Error{Kind: KindProcessing, Channel: "c", Err: base}

	assert.Equal(t, "PROCESSING_ERROR: boom", err.Error())
	assert.ErrorIs(t, err, base)

	assert.True(t, IsKind(err, KindProcessing))
	assert.False(t, IsKind(err, KindMaxRetries))

	wrapped := fmt.Errorf("outer: %w", err)
	assert.True(t, IsKind(wrapped, KindProcessing))

	assert.False(t, IsKind(base, KindProcessing))
	assert.False(t, IsKind(nil, KindProcessing))
}

func TestErrorWithoutCause(t *testing.T) {
	err := &Error{Kind: KindTimeout}
	assert.Equal(t, "TIMEOUT", err.Error())
	assert.Nil(t, err.Unwrap())
}
