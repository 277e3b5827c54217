package groups

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/ezsecurity/internal/testutil"
	sserr "github.com/StricklySoft/ezsecurity/pkg/errors"
	"github.com/StricklySoft/ezsecurity/pkg/token"
)

const groupsYAML = `
users:
  "CN=Jim Bob": {index: 1}
  "CN=Gone": {index: 9, inactive: true}
apps:
  App1: {index: 100}
  App2: {index: 101}
groups:
  - id: 10
    name: analysts
    users: ["CN=Jim Bob", "CN=Gone"]
    apps: [App1, App2]
  - id: 11
    name: secret
    users: ["CN=Jim Bob"]
    apps: [App1]
  - id: 12
    name: personal
    require_only_user: true
    users: ["CN=Jim Bob"]
  - id: 13
    name: app_access.App2
    apps: [App1]
  - id: 14
    name: audit
    require_only_app: true
    apps: [App2]
`

func newStatic(t *testing.T) *Static {
	t.Helper()
	s, err := ParseStatic([]byte(groupsYAML))
	require.NoError(t, err)
	return s
}

// ===========================================================================
// Static
// ===========================================================================

func TestStatic_UserAuthorizations(t *testing.T) {
	s := newStatic(t)
	tests := []struct {
		name  string
		chain []string
		want  []int64
	}{
		{"no chain keeps every group", nil, []int64{1, 10, 11, 12}},
		{"single app", []string{"App1"}, []int64{1, 10, 11, 12}},
		{"apps narrow shared groups", []string{"App1", "App2"}, []int64{1, 10, 12, 14}},
		{"unknown app drops app dependent groups", []string{"Ghost"}, []int64{1, 12}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Authorizations(context.Background(), tt.chain, token.TypeUser, "CN=Jim Bob", "Jim Bob")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStatic_AppAuthorizations(t *testing.T) {
	got, err := newStatic(t).Authorizations(context.Background(), nil, token.TypeApp, "App1", "")
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 11, 13, 100}, got)
}

func TestStatic_UnknownOrInactiveSubject(t *testing.T) {
	s := newStatic(t)
	got, err := s.Authorizations(context.Background(), nil, token.TypeUser, "CN=Nobody", "")
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NotNil(t, got)

	got, err = s.Authorizations(context.Background(), nil, token.TypeUser, "CN=Gone", "")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStatic_AppAccessMask(t *testing.T) {
	s := newStatic(t)
	mask, err := s.AppAccessMask(context.Background(), "App2")
	require.NoError(t, err)
	assert.Equal(t, []int64{13}, mask)

	mask, err = s.AppAccessMask(context.Background(), "App1")
	require.NoError(t, err)
	assert.Empty(t, mask)
}

func TestParseStatic_Errors(t *testing.T) {
	_, err := ParseStatic([]byte("groups: ["))
	testutil.RequireErrorCode(t, err, sserr.CodeValidationFormat)

	_, err = ParseStatic([]byte("groups:\n  - id: 1\n    name: g\n    users: [ghost]\n"))
	testutil.RequireErrorCode(t, err, sserr.CodeValidation)

	_, err = ParseStatic([]byte("groups:\n  - id: 1\n"))
	testutil.RequireErrorCode(t, err, sserr.CodeValidation)
}

func TestLoadStatic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "groups.yaml")
	require.NoError(t, os.WriteFile(path, []byte(groupsYAML), 0o600))
	s, err := LoadStatic(path)
	require.NoError(t, err)
	mask, err := s.AppAccessMask(context.Background(), "App2")
	require.NoError(t, err)
	assert.Equal(t, []int64{13}, mask)

	_, err = LoadStatic(filepath.Join(t.TempDir(), "missing.yaml"))
	testutil.RequireErrorCode(t, err, sserr.CodeInternalConfiguration)
}

func TestIntersects(t *testing.T) {
	assert.True(t, Intersects([]int64{1, 2}, []int64{2, 3}))
	assert.False(t, Intersects([]int64{1}, []int64{2}))
	assert.False(t, Intersects(nil, []int64{2}))
}
