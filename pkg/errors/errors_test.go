package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStorageErrorMatchesSentinelThroughWrapping(t *testing.T) {
	base := stdErrors.New("connection refused")
	err := fmt.Errorf("select context: %w", Storage(base, "query failed"))

	assert.True(t, IsStorage(err))
	assert.True(t, stdErrors.Is(err, base))
	assert.False(t, IsStorage(Clone(ErrNotFound, "missing")))
}

func TestFromErrorNormalisesUnknownErrors(t *testing.T) {
	appErr := FromError(stdErrors.New("boom"))
	assert.Equal(t, ErrInternal.Code, appErr.Code)
	assert.Nil(t, FromError(nil))

	cloned := Clone(ErrValidation, "bad input")
	assert.Equal(t, "bad input", FromError(cloned).Message)
	assert.Equal(t, ErrValidation.Status, cloned.Status)
}
