package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// reloadDelay is how long the file must stay quiet before it is re-read. A
// plain write truncates first, so the first event often sees an empty file.
var reloadDelay = 100 * time.Millisecond

// Watch re-reads the YAML overlay whenever it changes on disk and hands the
// reloaded config to onChange. Each reload starts from the environment
// values, so a key deleted from the file reverts to its env value. The
// directory is watched rather than the file because editors and config-map
// mounts replace files by rename.
// Watch blocks until ctx is done.
func Watch(ctx context.Context, base Config, onChange func(*Config)) error {
	if base.ConfigFile == "" {
		return nil
	}
	path, err := filepath.Abs(base.ConfigFile)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	start := base.fromEnv()
	debounce := time.NewTimer(reloadDelay)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			debounce.Reset(reloadDelay)
		case <-debounce.C:
			next := start
			next.env = &start
			if err := next.overlay(path); err != nil {
				logrus.WithError(err).Warn("config reload failed, keeping previous values")
				continue
			}
			logrus.WithField("file", path).Info("config reloaded")
			onChange(&next)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logrus.WithError(err).Warn("config watcher error")
		}
	}
}
