package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

const watchDebounce = 100 * time.Millisecond

// Watch reloads the file at path whenever it is written and passes each
// valid result to onReload. Invalid files are logged and skipped. The
// parent directory is watched so editors that replace the file on save
// are handled. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, logger *logrus.Entry, onReload func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return err
	}
	logger.WithField("path", abs).Debug("Watching config")

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			// Editors often write in several steps; reload once they settle.
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
			} else {
				timer.Reset(watchDebounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			cfg, err := Load(abs)
			if err != nil {
				logger.WithError(err).Warn("Config reload failed, keeping previous settings")
				continue
			}
			logger.WithField("path", abs).Info("Config reloaded")
			onReload(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Warn("Config watcher error")
		}
	}
}
