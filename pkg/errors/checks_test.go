package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAsError(t *testing.T) {
	coded := New(CodeValidation, "test")

	got, ok := AsError(errors.Join(errors.New("outer"), coded))
	assert.True(t, ok)
	assert.Same(t, coded, got)

	got, ok = AsError(errors.New("standard"))
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestInCategory(t *testing.T) {
	tests := []struct {
		name string
		err  error
		cat  string
		want bool
	}{
		{"validation", New(CodeNoPrincipal, ""), "VAL", true},
		{"authentication", New(CodeRefreshWindowExceeded, ""), "AUTH", true},
		{"authorization", New(CodeAppAccessDenied, ""), "AUTHZ", true},
		{"not found", New(CodeAppNotRegistered, ""), "NF", true},
		{"conflict", New(CodeConflict, ""), "CONF", true},
		{"internal", New(CodeInternalSigning, ""), "INT", true},
		{"wrong category", New(CodeInternalSigning, ""), "NF", false},
		{"plain error", errors.New("not found"), "NF", false},
		{"nil", nil, "VAL", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InCategory(tt.err, tt.cat))
		})
	}
	assert.True(t, IsValidation(New(CodeValidationFormat, "")))
	assert.True(t, HasCode(New(CodeUserNotFound, ""), CodeUserNotFound))
	assert.Equal(t, Code(""), GetCode(nil))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(New(CodeUpstreamUnavailable, "")))
	assert.True(t, IsRetryable(New(CodeUpstreamTimeout, "")))
	assert.False(t, IsRetryable(New(CodeSignatureInvalid, "")))
	assert.False(t, IsRetryable(New(CodeInternalSigning, "")))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestIsClientError(t *testing.T) {
	assert.True(t, IsClientError(New(CodeTokenRejected, "")))
	assert.True(t, IsClientError(New(CodeForbidden, "")))
	assert.False(t, IsClientError(New(CodeInternal, "")))
	assert.False(t, IsClientError(New(CodeUpstreamTimeout, "")))
}

func TestIsRejection(t *testing.T) {
	assert.True(t, IsRejection(New(CodeAppAccessDenied, "")))
	assert.True(t, IsRejection(New(CodeUserNotFound, "")))
	assert.False(t, IsRejection(New(CodeRefreshWindowExceeded, "")))
	assert.False(t, IsRejection(New(CodeUpstreamUnavailable, "")))
}
