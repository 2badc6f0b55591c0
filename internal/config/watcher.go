package config

import (
	"context"

	"github.com/fsnotify/fsnotify"

	"github.com/lms2upnp/bridge/internal/log"
)

// Watch reloads the store whenever path changes on disk. onReload is
// called with the freshly-loaded Store after every successful reload;
// parse failures are logged and the previous in-memory Store is kept.
func Watch(ctx context.Context, path string, onReload func(*Store)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return err
	}

	logger := log.WithComponent("config")

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				s, err := Load(path)
				if err != nil {
					logger.Warn().Err(err).Str("path", path).Msg("config reload failed, keeping previous document")
					continue
				}
				logger.Info().Str("path", path).Msg("config reloaded")
				onReload(s)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn().Err(err).Msg("config watcher error")
			}
		}
	}()

	return nil
}
