package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/platinummonkey/canopy/pkg/observability"
)

// WatchFile calls onChange after path is written, created or replaced, once
// per burst of events within debounce. It blocks until ctx is done.
//
// The parent directory is watched rather than the file, so editors that save
// by renaming a temporary file are still seen.
func WatchFile(ctx context.Context, path string, debounce time.Duration, logger *observability.Logger, onChange func()) error {
	target, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(target), err)
	}
	logger.WithField("path", target).Info("Watching config file")

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			logger.WithField("op", event.Op.String()).Debug("Config file changed")
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			onChange()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Warn("Config watcher error")
		}
	}
}
