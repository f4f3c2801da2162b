// Package logger builds the process-wide zerolog root and the per-channel
// child loggers used across the pipeline (download, ingest, security, cache,
// db, api).
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New constructs the root logger writing to w at the given level. Unknown
// levels fall back to info.
func New(w io.Writer, level string) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	out := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

// Channel returns a child logger tagged with the given channel name.
func Channel(root zerolog.Logger, name string) zerolog.Logger {
	return root.With().Str("channel", name).Logger()
}
