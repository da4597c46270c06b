package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/videoseg/masktrace/internal/logger"
)

// WatchFile watches the config file and reloads it on change. Editors
// often replace files instead of writing in place, so the parent
// directory is watched and events are filtered by name. Returns a stop
// function; a no-op stop is returned when no path is set.
func (m *Manager) WatchFile(ctx context.Context) (func(), error) {
	m.mu.RLock()
	path := m.configPath
	m.mu.RUnlock()

	if path == "" {
		return func() {}, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)

	go func() {
		defer watcher.Close()

		// Debounce bursts of write events from a single save.
		var pending *time.Timer
		target := filepath.Clean(path)

		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if pending != nil {
					pending.Stop()
				}
				pending = time.AfterFunc(200*time.Millisecond, func() {
					if err := m.Reload(); err != nil {
						logger.Error("config reload failed: %v", err)
					} else {
						logger.Info("configuration reloaded from %s", path)
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("config watcher error: %v", err)
			case <-ctx.Done():
				return
			}
		}
	}()

	return cancel, nil
}
