package errors

import (
	"context"
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromErrorKeepsTypedErrors(t *testing.T) {
	err := Clone(ErrConflict, "request already decided")
	got := FromError(err)
	assert.Equal(t, "CONFLICT", got.Code)
	assert.Equal(t, http.StatusConflict, got.Status)
	assert.Equal(t, "request already decided", got.Message)
}

func TestFromErrorWrapsPlainErrors(t *testing.T) {
	got := FromError(stdErrors.New("boom"))
	assert.Equal(t, ErrInternal.Code, got.Code)
	assert.ErrorContains(t, got, "boom")
}

func TestIsMatchesByCode(t *testing.T) {
	wrapped := Wrap(stdErrors.New("sms gateway down"), ErrDependency.Code, ErrDependency.Status, "sms failed")
	assert.True(t, Is(wrapped, ErrDependency))
	assert.False(t, Is(wrapped, ErrConflict))
	assert.False(t, Is(nil, ErrConflict))
}

func TestFromErrorMapsDeadlines(t *testing.T) {
	got := FromError(fmt.Errorf("load queue: %w", context.DeadlineExceeded))
	assert.Equal(t, ErrTimeout.Code, got.Code)
	assert.Equal(t, http.StatusGatewayTimeout, got.Status)
	assert.True(t, stdErrors.Is(got, context.DeadlineExceeded))
}
