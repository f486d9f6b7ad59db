// Package logging provides the shared structured logger for every FloorWatch
// subsystem: one zerolog root logger, tagged per component via With().
package logging

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

var (
	mu   sync.Mutex
	root zerolog.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
)

// Configure points the root logger at logsDir/<name> in addition to stderr,
// and sets the minimum level. Call once at startup before any component logger
// is derived with For().
func Configure(logsDir string, level zerolog.Level, files ...string) error {
	mu.Lock()
	defer mu.Unlock()

	writers := []io.Writer{zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}}

	for _, name := range files {
		if err := os.MkdirAll(logsDir, 0750); err != nil {
			return err
		}
		f, err := os.OpenFile(filepath.Join(logsDir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
		if err != nil {
			return err
		}
		writers = append(writers, f)
	}

	zerolog.SetGlobalLevel(level)
	root = zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(level).With().Timestamp().Logger()
	return nil
}

// For returns a child logger tagged with component=name, the convention
// every subsystem (C1-C10) logs through instead of the standard log package.
func For(component string) zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return root.With().Str("component", component).Logger()
}
