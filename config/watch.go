package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceWindow coalesces the burst of filesystem events a single save
// produces (editors write, chmod and rename in quick succession) into one
// reload.
const debounceWindow = 200 * time.Millisecond

// Watch monitors the config file at path and calls onChange with the newly
// loaded Config after each change. It runs until ctx is cancelled.
//
// The watch is attached to the file's parent directory rather than the file
// itself, so atomic saves (rename over the old inode) and a deleted then
// recreated file keep being observed. If a reload fails (invalid YAML,
// failed validation), the error is logged and the previous config remains
// active; onChange is not called.
func Watch(ctx context.Context, path string, onChange func(Config)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return err
	}

	slog.Info("config: watching for changes", "path", abs)

	var debounce *time.Timer
	for {
		var fire <-chan time.Time
		if debounce != nil {
			fire = debounce.C
		}

		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.NewTimer(debounceWindow)

		case <-fire:
			debounce = nil
			cfg, err := Load(abs)
			if err != nil {
				slog.Error("config: reload failed — keeping previous config",
					"path", abs, "err", err)
				continue
			}
			slog.Info("config: reloaded", "path", abs)
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: watcher error", "err", err)
		}
	}
}
