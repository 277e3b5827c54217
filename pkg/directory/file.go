package directory

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/StricklySoft/ezsecurity/internal/filewatch"
	sserr "github.com/StricklySoft/ezsecurity/pkg/errors"
)

// FileDirectory serves users from a YAML document mapping DN to user
// record. The user set is swapped atomically on reload.
type FileDirectory struct {
	users   atomic.Pointer[map[string]*User]
	watcher *filewatch.Watcher
}

var _ Directory = (*FileDirectory)(nil)

// ParseUsers decodes a YAML user document.
func ParseUsers(data []byte) (map[string]*User, error) {
	raw := map[string]*User{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeValidationFormat, "directory: invalid users file")
	}
	users := make(map[string]*User, len(raw))
	for dn, u := range raw {
		if u == nil {
			u = &User{}
		}
		u.normalize(dn)
		users[dn] = u
	}
	return users, nil
}

// NewFileDirectory returns a directory holding users.
func NewFileDirectory(users map[string]*User) *FileDirectory {
	d := &FileDirectory{}
	d.replace(users)
	return d
}

// OpenFile loads path and returns a directory that reloads it when polled
// by [FileDirectory.Watch]. A missing file yields an empty directory.
func OpenFile(path string, interval time.Duration, logger *slog.Logger) (*FileDirectory, error) {
	if logger == nil {
		logger = slog.Default()
	}
	d := NewFileDirectory(nil)
	d.watcher = filewatch.New(path, interval, d.Load, logger)
	loaded, err := d.watcher.Check()
	if err != nil {
		return nil, err
	}
	if !loaded {
		logger.Info("directory: users file not found, watching for it", "path", path)
	}
	return d, nil
}

// Load replaces the user set with the decoded content of data.
func (d *FileDirectory) Load(data []byte) error {
	users, err := ParseUsers(data)
	if err != nil {
		return err
	}
	d.replace(users)
	return nil
}

func (d *FileDirectory) replace(users map[string]*User) {
	if users == nil {
		users = map[string]*User{}
	}
	d.users.Store(&users)
}

// Watch polls the backing file until ctx is cancelled. It returns
// immediately for a directory not opened from a file.
func (d *FileDirectory) Watch(ctx context.Context) error {
	if d.watcher == nil {
		return nil
	}
	return d.watcher.Run(ctx)
}

// User implements [Directory]. The returned record is a copy.
func (d *FileDirectory) User(_ context.Context, dn string) (*User, error) {
	u, ok := (*d.users.Load())[dn]
	if !ok {
		return nil, sserr.UserNotFound(dn)
	}
	return u.Clone(), nil
}

// AssertUser implements [Directory].
func (d *FileDirectory) AssertUser(_ context.Context, dn string) bool {
	_, ok := (*d.users.Load())[dn]
	return ok
}

// AssertUserStrict implements [Directory]. An in-memory lookup cannot
// fail, so it agrees with AssertUser.
func (d *FileDirectory) AssertUserStrict(ctx context.Context, dn string) (bool, error) {
	return d.AssertUser(ctx, dn), nil
}

// Len returns the number of users held.
func (d *FileDirectory) Len() int { return len(*d.users.Load()) }
