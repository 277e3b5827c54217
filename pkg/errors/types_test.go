package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Error(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "without cause",
			err:  &Error{Code: CodeSignatureInvalid, Message: "request signature did not verify"},
			want: "AUTH_003: request signature did not verify",
		},
		{
			name: "with cause",
			err: &Error{
				Code:    CodeUpstreamUnavailable,
				Message: "user directory call failed",
				Cause:   errors.New("connection refused"),
			},
			want: "UNAVAIL_002: user directory call failed: connection refused",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestError_Is(t *testing.T) {
	t.Parallel()
	err := fmt.Errorf("lookup: %w", UserNotFound("CN=Jim Bob"))

	assert.True(t, errors.Is(err, New(CodeUserNotFound, "")))
	assert.False(t, errors.Is(err, New(CodeAppNotRegistered, "")))
}

func TestError_WithDetails_DoesNotMutate(t *testing.T) {
	t.Parallel()
	base := New(CodeRequestExpired, "stale").WithDetail("side", "too_old")
	extended := base.WithDetails(map[string]any{"issuer": "App1"})

	require.Len(t, base.Details, 1)
	assert.Equal(t, "too_old", extended.Details["side"])
	assert.Equal(t, "App1", extended.Details["issuer"])
}

func TestError_Format(t *testing.T) {
	t.Parallel()
	err := Wrap(errors.New("boom"), CodeInternalSigning, "sign token").WithDetail("key", "server")

	assert.Equal(t, "INT_004: sign token: boom", fmt.Sprintf("%v", err))
	detailed := fmt.Sprintf("%+v", err)
	assert.Contains(t, detailed, `Code: "INT_004"`)
	assert.Contains(t, detailed, "Details: map[key:server]")
	assert.Contains(t, detailed, "Cause: boom")
}
