package server

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// reloadDebounce is how long the watcher waits after the last write.
const reloadDebounce = 500 * time.Millisecond

// Reloadable swaps in freshly read policy files.
type Reloadable interface {
	ReloadPolicy() error
}

// Reloader watches policy and denylist files and reloads them on change.
type Reloader struct {
	watcher *fsnotify.Watcher
	target  Reloadable
	logger  *zap.Logger
	paths   []string
}

// NewReloader watches the paths that exist. Missing paths are skipped.
func NewReloader(target Reloadable, logger *zap.Logger, paths ...string) (*Reloader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var watched []string
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := watcher.Add(p); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("failed to watch %q: %w", p, err)
		}
		watched = append(watched, p)
	}

	return &Reloader{watcher: watcher, target: target, logger: logger, paths: watched}, nil
}

// Paths returns the files being watched.
func (r *Reloader) Paths() []string { return r.paths }

// Run reloads on change. Blocks until ctx is cancelled.
func (r *Reloader) Run(ctx context.Context) error {
	defer r.watcher.Close()

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
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(reloadDebounce, func() {
					if err := r.target.ReloadPolicy(); err != nil {
						r.logger.Error("hot-reload failed, keeping previous policy", zap.Error(err))
					}
				})
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("file watcher error", zap.Error(err))
		}
	}
}
