package cache

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounceInterval = 100 * time.Millisecond

// Watch reloads the cache whenever its file changes on disk, so a server
// sees devices the CLI cached and vice versa. It watches the parent
// directory because saves replace the file by rename. Watching stops when
// ctx is cancelled.
func (c *Cache) Watch(ctx context.Context) error {
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cache: create dir: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("cache: create watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return fmt.Errorf("cache: watch %s: %w", dir, err)
	}

	go c.watchLoop(ctx, w)
	return nil
}

// watchLoop processes fsnotify events with debouncing.
func (c *Cache) watchLoop(ctx context.Context, w *fsnotify.Watcher) {
	defer w.Close()

	name := filepath.Clean(c.path)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != name {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceInterval, func() {
				if err := c.Reload(); err != nil {
					slog.Warn("[Cache] reload failed", "path", c.path, "error", err)
					return
				}
				slog.Debug("[Cache] reloaded after external change", "path", c.path)
			})

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			slog.Warn("[Cache] watcher error", "error", err)
		}
	}
}
