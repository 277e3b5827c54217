package directory

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/ezsecurity/internal/testutil"
	sserr "github.com/StricklySoft/ezsecurity/pkg/errors"
	"github.com/StricklySoft/ezsecurity/pkg/token"
)

const usersYAML = `
"CN=Jim Bob, OU=People":
  name: Jim Bob
  uid: jbob
  authorizations:
    level: high
    auths: [ezbake, 42six, ezbake]
    citizenship: USA
    organization: CSC
  projects:
    ezbake: [core]
  communities:
    - name: EzBake
      topics: [z, a]
"CN=Alice Mary Smith":
  name: Alice Mary Smith
`

// ===========================================================================
// Parsing
// ===========================================================================

func TestParseUsers(t *testing.T) {
	users, err := ParseUsers([]byte(usersYAML))
	require.NoError(t, err)
	require.Len(t, users, 2)

	jim := users["CN=Jim Bob, OU=People"]
	require.NotNil(t, jim)
	assert.Equal(t, "CN=Jim Bob, OU=People", jim.DN)
	assert.Equal(t, "Jim", jim.FirstName)
	assert.Equal(t, "Bob", jim.Surname)
	assert.Equal(t, token.Tags{"42six", "ezbake"}, jim.Auths.Auths)
	assert.Equal(t, []string{"a", "z"}, jim.Communities[0].Topics)
	assert.Equal(t, []string{"ezbake"}, jim.ProjectNames())

	alice := users["CN=Alice Mary Smith"]
	assert.Empty(t, alice.FirstName, "three part names are not split")
	assert.NotNil(t, alice.Projects)
}

func TestParseUsers_Invalid(t *testing.T) {
	_, err := ParseUsers([]byte("- not a map"))
	testutil.RequireErrorCode(t, err, sserr.CodeValidationFormat)
}

// ===========================================================================
// FileDirectory
// ===========================================================================

func TestFileDirectory_User(t *testing.T) {
	users, err := ParseUsers([]byte(usersYAML))
	require.NoError(t, err)
	d := NewFileDirectory(users)
	ctx := context.Background()

	u, err := d.User(ctx, "CN=Jim Bob, OU=People")
	require.NoError(t, err)
	assert.Equal(t, "high", u.Auths.Level)

	u.Auths.Auths[0] = "mutated"
	again, err := d.User(ctx, "CN=Jim Bob, OU=People")
	require.NoError(t, err)
	assert.Equal(t, "42six", again.Auths.Auths[0], "callers receive copies")

	_, err = d.User(ctx, "CN=Nobody")
	testutil.RequireErrorCode(t, err, sserr.CodeUserNotFound)
}

func TestFileDirectory_Assert(t *testing.T) {
	d := NewFileDirectory(map[string]*User{"dn": {DN: "dn"}})
	ctx := context.Background()
	assert.True(t, d.AssertUser(ctx, "dn"))
	assert.False(t, d.AssertUser(ctx, "other"))
	ok, err := d.AssertUserStrict(ctx, "dn")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOpenFile_ReloadKeepsLastGood(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.yaml")
	require.NoError(t, os.WriteFile(path, []byte(usersYAML), 0o600))

	d, err := OpenFile(path, time.Hour, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, d.Len())

	require.NoError(t, os.WriteFile(path, []byte(`"CN=New": {name: New User}`), 0o600))
	changed, err := d.watcher.Check()
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, d.AssertUser(context.Background(), "CN=New"))
	u, err := d.User(context.Background(), "CN=New")
	require.NoError(t, err)
	assert.Equal(t, "New", u.FirstName)

	require.NoError(t, os.WriteFile(path, []byte("- broken"), 0o600))
	_, err = d.watcher.Check()
	require.Error(t, err)
	assert.True(t, d.AssertUser(context.Background(), "CN=New"), "last good set stays")
}

func TestOpenFile_Missing(t *testing.T) {
	d, err := OpenFile(filepath.Join(t.TempDir(), "absent.yaml"), time.Hour, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, d.Len())
}

// ===========================================================================
// Cached
// ===========================================================================

type mockCache struct{ mock.Mock }

// Fetch runs fill on a miss. The hit argument, when set, populates v
// instead.
func (m *mockCache) Fetch(ctx context.Context, key string, v any, fill func(context.Context) error) error {
	args := m.Called(ctx, key, v)
	if hit, ok := args.Get(0).(func(any)); ok && hit != nil {
		hit(v)
		return nil
	}
	return fill(ctx)
}

func TestCached_MissFillsCache(t *testing.T) {
	backing := NewFileDirectory(map[string]*User{"dn": {DN: "dn", Name: "Jim"}})
	c := &mockCache{}
	c.On("Fetch", mock.Anything, "dn", mock.AnythingOfType("*directory.User")).Return(nil)

	u, err := NewCached(backing, c, nil).User(context.Background(), "dn")
	require.NoError(t, err)
	assert.Equal(t, "Jim", u.Name)
	c.AssertExpectations(t)
}

func TestCached_HitSkipsBacking(t *testing.T) {
	backing := NewFileDirectory(nil)
	c := &mockCache{}
	c.On("Fetch", mock.Anything, "dn", mock.Anything).Return(func(v any) {
		v.(*User).Name = "Cached Jim"
	})

	u, err := NewCached(backing, c, nil).User(context.Background(), "dn")
	require.NoError(t, err)
	assert.Equal(t, "Cached Jim", u.Name)
}

func TestCached_UserNotFoundNotCached(t *testing.T) {
	c := &mockCache{}
	c.On("Fetch", mock.Anything, "dn", mock.Anything).Return(nil)

	_, err := NewCached(NewFileDirectory(nil), c, nil).User(context.Background(), "dn")
	testutil.RequireErrorCode(t, err, sserr.CodeUserNotFound)
}
