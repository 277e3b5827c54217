// Package testutil provides shared test helpers for ezsecurity packages.
//
// Helpers accept [testing.TB] and call t.Helper() so failures point at the
// caller. Functions named Require halt the test; functions named Assert
// record the failure and continue.
package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sserr "github.com/StricklySoft/ezsecurity/pkg/errors"
)

// RequireErrorCode halts the test unless err is an *sserr.Error carrying
// code. It is the usual way to check a failed operation:
//
//	_, err := is.RequestToken(ctx, req, sig)
//	testutil.RequireErrorCode(t, err, sserr.CodeRequestExpired)
func RequireErrorCode(t testing.TB, err error, code sserr.Code, msgAndArgs ...any) {
	t.Helper()
	require.Error(t, err, msgAndArgs...)
	ssErr, ok := sserr.AsError(err)
	require.True(t, ok, "expected *sserr.Error, got %T: %v", err, err)
	require.Equal(t, code, ssErr.Code,
		"error code mismatch: got %q, want %q (message: %s)",
		ssErr.Code, code, ssErr.Message)
}

// TempFile writes content to name inside t.TempDir() with mode 0600 and
// returns its path.
func TempFile(t testing.TB, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600), "write temp file %s", path)
	return path
}

// SetEnv sets an environment variable and restores the previous value
// when the test completes. Tests using it must not call t.Parallel.
func SetEnv(t testing.TB, key, value string) {
	t.Helper()
	prev, existed := os.LookupEnv(key)
	require.NoError(t, os.Setenv(key, value), "set env var %s", key)
	t.Cleanup(func() {
		if existed {
			_ = os.Setenv(key, prev)
		} else {
			_ = os.Unsetenv(key)
		}
	})
}

// AssertJSONNotContains marshals v and asserts the output does not contain
// unexpected. Use it to check that secrets are redacted.
func AssertJSONNotContains(t testing.TB, v any, unexpected string) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err, "json.Marshal failed")
	assert.NotContains(t, string(data), unexpected,
		"expected JSON to NOT contain %q, got: %s", unexpected, string(data))
}
