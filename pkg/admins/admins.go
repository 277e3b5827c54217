// Package admins holds the set of EzSecurity administrators. The set is an
// immutable snapshot swapped atomically, so readers never lock. It is
// loaded from a YAML list that is polled for changes, and an instance that
// owns the file pushes each new set to its siblings. Sets received from a
// sibling are applied but never pushed on.
package admins

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/StricklySoft/ezsecurity/internal/filewatch"
	sserr "github.com/StricklySoft/ezsecurity/pkg/errors"
)

type snapshot struct {
	ids     map[string]struct{}
	changed chan struct{}
}

// Registry is the administrator set. Reads are lock free; writers are
// serialized and each change swaps in a fresh snapshot. Two channels
// report changes: [Registry.Changed] for any change and
// [Registry.FileChanged] for changes read from the backing file, which are
// the only ones [Syncer] pushes.
//
// The zero value is not usable; call [New] or [OpenFile].
type Registry struct {
	current  atomic.Pointer[snapshot]
	watcher  *filewatch.Watcher
	fromFile atomic.Bool

	mu          sync.Mutex
	fileChanged chan struct{} // closed by the next load from the file
}

// New returns a registry holding ids. It has no backing file.
func New(ids ...string) *Registry {
	r := &Registry{fileChanged: make(chan struct{})}
	r.current.Store(newSnapshot(ids))
	return r
}

func newSnapshot(ids []string) *snapshot {
	s := &snapshot{ids: make(map[string]struct{}, len(ids)), changed: make(chan struct{})}
	for _, id := range ids {
		if id != "" {
			s.ids[id] = struct{}{}
		}
	}
	return s
}

// IsAdmin reports whether id is an administrator.
func (r *Registry) IsAdmin(id string) bool {
	_, ok := r.current.Load().ids[id]
	return ok
}

// Len returns the number of administrators.
func (r *Registry) Len() int { return len(r.current.Load().ids) }

// Admins returns the administrators in sorted order.
func (r *Registry) Admins() []string {
	s := r.current.Load()
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Replace swaps in a new administrator set and wakes every waiter on
// [Registry.Changed]. A set equal to the current one is ignored and
// Replace reports false.
func (r *Registry) Replace(ids []string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.replaceLocked(ids)
}

func (r *Registry) replaceLocked(ids []string) bool {
	next, old := newSnapshot(ids), r.current.Load()
	if maps.Equal(next.ids, old.ids) {
		return false
	}
	r.current.Store(next)
	close(old.changed)
	return true
}

// loadFromFile applies a set read from the backing file. The first load
// always signals [Registry.FileChanged] so an empty file still reaches the
// siblings; later loads signal only when the set differs.
func (r *Registry) loadFromFile(ids []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	first := !r.fromFile.Swap(true)
	if r.replaceLocked(ids) || first {
		close(r.fileChanged)
		r.fileChanged = make(chan struct{})
	}
}

// Changed returns a channel closed by the next change to the set, whatever
// its source.
func (r *Registry) Changed() <-chan struct{} {
	return r.current.Load().changed
}

// FileChanged returns a channel closed the next time the backing file
// changes the set. Sets applied with [Registry.Replace] or
// [Registry.Load], such as those pushed by a sibling, do not close it.
func (r *Registry) FileChanged() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fileChanged
}

// ParseYAML decodes a YAML sequence of administrator ids. An empty document
// is rejected so a truncated file never clears the set.
func ParseYAML(data []byte) ([]string, error) {
	var ids []string
	if err := yaml.Unmarshal(data, &ids); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeValidationFormat, "admins: file must be a YAML list of ids")
	}
	if ids == nil {
		return nil, sserr.New(sserr.CodeValidation, "admins: file holds no list")
	}
	return ids, nil
}

// Load replaces the set with the ids decoded from data. On error the
// previous set stays in effect.
func (r *Registry) Load(data []byte) error {
	ids, err := ParseYAML(data)
	if err != nil {
		return err
	}
	r.Replace(ids)
	return nil
}

// OpenFile returns a registry loaded from path. A missing file yields an
// empty registry that picks the file up once it appears.
func OpenFile(path string, interval time.Duration, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := New()
	r.watcher = filewatch.New(path, interval, func(data []byte) error {
		ids, err := ParseYAML(data)
		if err != nil {
			return err
		}
		r.loadFromFile(ids)
		return nil
	}, logger)
	loaded, err := r.watcher.Check()
	if err != nil {
		return nil, err
	}
	if !loaded {
		logger.Info("admins: administrator file not found, watching for it", "path", path)
	}
	return r, nil
}

// HasFile reports whether the set was loaded from a file at least once.
func (r *Registry) HasFile() bool { return r.fromFile.Load() }

// Watch polls the backing file until ctx is done. It returns immediately
// for a registry without a file.
func (r *Registry) Watch(ctx context.Context) error {
	if r.watcher == nil {
		return nil
	}
	return r.watcher.Run(ctx)
}
