package errors

import (
	"context"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	err := New(ValidationError, "invalid input", "field required")
	assert.Equal(t, ValidationError, err.Type)
	assert.Equal(t, "invalid input", err.Message)
	assert.Equal(t, "field required", err.Detail)
	assert.Equal(t, 400, err.HTTPStatus)
}

func TestWrap(t *testing.T) {
	originalErr := fmt.Errorf("original error")
	wrappedErr := Wrap(originalErr, DatabaseError, "database operation failed")

	assert.Equal(t, DatabaseError, wrappedErr.Type)
	assert.Equal(t, "database operation failed", wrappedErr.Message)
	assert.Equal(t, originalErr.Error(), wrappedErr.Detail)
	assert.Equal(t, 500, wrappedErr.HTTPStatus)
	assert.Equal(t, originalErr, wrappedErr.Raw)
	assert.ErrorIs(t, wrappedErr, originalErr)
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, ServerError, "nothing"))
}

func TestErrorString(t *testing.T) {
	assert.Equal(t, "NOT_FOUND: session not found (ID: abc)", NotFound("session", "abc").Error())
	assert.Equal(t, "SERVER_ERROR: boom", InternalServerError("boom").Error())
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestCategorize(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Category
	}{
		{"nil", nil, CategoryUnknown},
		{"permission", PermissionDenied("foreground"), CategoryPermission},
		{"auth", AuthenticationFailed("expired token"), CategoryPermission},
		{"api status", NewAPIError("create_session", 500, "boom"), CategoryAPI},
		{"validation", ValidationFailed("bad fix", "lat"), CategoryAPI},
		{"deadline", context.DeadlineExceeded, CategoryNetwork},
		{"wrapped deadline", fmt.Errorf("create: %w", context.DeadlineExceeded), CategoryNetwork},
		{"net error", timeoutErr{}, CategoryNetwork},
		{"app error wrapping network", Wrap(timeoutErr{}, ServerError, "call failed"), CategoryNetwork},
		{"explicit network", New(NetworkError, "offline", ""), CategoryNetwork},
		{"plain", fmt.Errorf("something odd"), CategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Categorize(tt.err))
		})
	}
}
