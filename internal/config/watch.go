package config

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/asesmartice/floorwatch/internal/logging"
)

// WatchForDrift observes dir after startup and logs a structured warning on
// any change. There is no hot reload - a running recorder, dispatcher, and
// event buffer all carry copies of the values they need, and reconciling a
// live config change against in-flight ffmpeg sessions is out of scope. The
// operator restarts floorwatchd to pick up edits; this just makes it loud
// when they forget to.
func WatchForDrift(ctx context.Context, dir string) {
	log := logging.For("config")

	watcher, err := fsnotify.NewWatcher()
	usePolling := false
	if err != nil {
		log.Warn().Err(err).Msg("config watcher: fsnotify unavailable, falling back to polling")
		usePolling = true
	} else if err := watcher.Add(dir); err != nil {
		log.Warn().Err(err).Str("dir", dir).Msg("config watcher: could not watch directory, falling back to polling")
		usePolling = true
		watcher.Close()
	}

	if !usePolling {
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
					if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
						log.Warn().Str("path", event.Name).Str("op", event.Op.String()).
							Msg("config file changed after startup; restart floorwatchd to apply it")
					}
				case err, ok := <-watcher.Errors:
					if !ok {
						return
					}
					log.Warn().Err(err).Msg("config watcher error")
				}
			}
		}()
		return
	}

	// Polling fallback: a coarse mtime check is enough since all this does is
	// warn, not reload.
	go func() {
		lastWarned := time.Now()
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if changed, _ := dirChangedSince(dir, lastWarned); changed {
					log.Warn().Str("dir", dir).Msg("config directory changed after startup; restart floorwatchd to apply it")
					lastWarned = time.Now()
				}
			}
		}
	}()
}
