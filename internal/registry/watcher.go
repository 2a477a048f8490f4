package registry

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDelay coalesces the burst of events editors produce for a
// single save.
const reloadDelay = 200 * time.Millisecond

// Watch reapplies the seed file at path whenever it changes. The parent
// directory is watched so that files replaced by rename are picked up.
// Invalid files are logged and skipped; the registry keeps its previous
// content. Watch blocks until ctx is cancelled.
func (s *Seeder) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving seed file path: %w", err)
	}

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watching seed directory: %w", err)
	}

	timer := time.NewTimer(reloadDelay)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed")
			}

			if filepath.Clean(event.Name) != abs {
				continue
			}

			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				timer.Reset(reloadDelay)
			}

		case <-timer.C:
			if err := s.ApplyFile(abs); err != nil {
				s.logger.Warn("seed reload failed", slog.String("path", abs), slog.String("error", err.Error()))
				continue
			}

			s.logger.Info("seed file reloaded", slog.String("path", abs))

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed")
			}

			s.logger.Warn("seed watcher error", slog.String("error", err.Error()))
		}
	}
}
