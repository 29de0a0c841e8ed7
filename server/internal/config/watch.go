package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Reloadable is the subset of Config applied live by the server when the
// file changes: retention limits and the log level. Everything else needs a
// restart.
type Reloadable struct {
	Retention RetentionConfig
	Log       LogConfig
}

// Reloadable extracts the live-reloadable fields of c.
func (c *Config) Reloadable() Reloadable {
	return Reloadable{Retention: c.Retention, Log: c.Log}
}

// settle is how long the file must stay quiet before it is reloaded. One save
// usually arrives as a burst of truncate, write and chmod events.
const settle = 150 * time.Millisecond

// Watch reloads path whenever it changes and calls onChange with the new
// Config if its Reloadable part differs from what was last applied. It runs
// until ctx is cancelled.
//
// The parent directory is watched rather than the file, so saves that
// replace the file through a rename keep being seen. A file that fails to
// load is logged and skipped; the previous values stay in effect.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	path = filepath.Clean(path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: new watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("config: watch %s: %w", filepath.Dir(path), err)
	}

	var applied Reloadable
	if cfg, err := Load(path); err == nil {
		applied = cfg.Reloadable()
	}

	slog.Info("config: watching for changes", "path", path)

	debounce := time.NewTimer(settle)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path || event.Has(fsnotify.Remove) {
				continue
			}
			debounce.Reset(settle)

		case <-debounce.C:
			cfg, err := Load(path)
			if err != nil {
				slog.Error("config: reload failed, keeping previous config",
					"path", path, "err", err)
				continue
			}
			next := cfg.Reloadable()
			if next == applied {
				slog.Debug("config: file changed, reloadable values unchanged", "path", path)
				continue
			}
			applied = next
			slog.Info("config: reloaded", "path", path,
				"max_count", next.Retention.MaxCount,
				"max_age", next.Retention.MaxAge,
				"log_level", next.Log.Level,
			)
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: watcher error", "err", err)
		}
	}
}
