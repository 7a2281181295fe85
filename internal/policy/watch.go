package policy

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Reloader watches the policy file for changes and feeds validated reloads
// to a callback. The severity table is data, so new weights land without a
// restart; a policy that fails validation is logged and ignored.
type Reloader struct {
	watcher *fsnotify.Watcher
	path    string
	apply   func(*Policy) error
	logger  *slog.Logger
}

// NewReloader creates a file watcher for the policy at path. The watch is
// on the parent directory so atomic rename-into-place saves are seen.
func NewReloader(path string, apply func(*Policy) error, logger *slog.Logger) (*Reloader, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("policy file: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watching %q: %w", dir, err)
	}
	return &Reloader{watcher: watcher, path: path, apply: apply, logger: logger}, nil
}

// Run blocks until ctx is cancelled, reloading the policy after each write.
// Writes are debounced so editors that truncate-then-write reload once.
func (r *Reloader) Run(ctx context.Context) error {
	defer func() { _ = r.watcher.Close() }()

	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(r.path) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, r.reload)
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("policy watcher error", "error", err)
		}
	}
}

func (r *Reloader) reload() {
	p, err := Load(r.path)
	if err != nil {
		r.logger.Error("policy reload failed", "path", r.path, "error", err)
		return
	}
	if err := p.Validate(); err != nil {
		r.logger.Error("reloaded policy invalid, keeping current", "path", r.path, "error", err)
		return
	}
	if err := r.apply(p); err != nil {
		r.logger.Error("applying reloaded policy failed", "error", err)
		return
	}
	r.logger.Info("policy reloaded", "path", r.path)
}
