// Package filewatch polls a file and hands its content to a callback
// whenever the content digest changes. A missing file is not an error: the
// watcher keeps polling until it appears.
package filewatch

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/zeebo/blake3"
)

// DefaultInterval is the polling period used when none is configured.
const DefaultInterval = 10 * time.Second

// LoadFunc receives the new file content. Returning an error keeps the
// previous digest so the same content is offered again on the next poll.
type LoadFunc func(data []byte) error

// Watcher polls one file. It is safe for concurrent use.
type Watcher struct {
	path     string
	interval time.Duration
	load     LoadFunc
	logger   *slog.Logger

	mu     sync.Mutex
	digest [32]byte
	loaded bool
}

// New returns a watcher for path. A non-positive interval selects
// [DefaultInterval].
func New(path string, interval time.Duration, load LoadFunc, logger *slog.Logger) *Watcher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{path: path, interval: interval, load: load, logger: logger}
}

// Path returns the watched file path.
func (w *Watcher) Path() string { return w.path }

// Check reads the file once and calls the load function when its content
// differs from the last successfully loaded content. It reports whether a
// load happened.
func (w *Watcher) Check() (bool, error) {
	data, err := os.ReadFile(w.path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	sum := blake3.Sum256(data)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.loaded && sum == w.digest {
		return false, nil
	}
	if err := w.load(data); err != nil {
		return false, err
	}
	w.digest = sum
	w.loaded = true
	return true, nil
}

// Run polls until ctx is cancelled. Load failures are logged and the last
// good content stays in effect.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			changed, err := w.Check()
			if err != nil {
				w.logger.WarnContext(ctx, "filewatch: reload failed", "path", w.path, "error", err)
				continue
			}
			if changed {
				w.logger.InfoContext(ctx, "filewatch: reloaded", "path", w.path)
			}
		}
	}
}
