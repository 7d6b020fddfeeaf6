package main

import (
	"context"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// watchConfig calls onChange with the reloaded config each time path is
// written, until ctx is cancelled. A config that fails to load is logged and
// skipped; the previous settings stay in effect.
func watchConfig(ctx context.Context, path string, log *logrus.Entry, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}
	log.WithField("path", path).Debug("watching config for changes")

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Editors often save via rename, which shows up as Create.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			cfg, err := loadConfig(path)
			if err != nil {
				log.WithError(err).Error("config reload failed, keeping previous config")
				continue
			}
			log.WithField("path", path).Info("config reloaded")
			onChange(cfg)

			_ = watcher.Add(path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Error("config watcher error")
		}
	}
}
