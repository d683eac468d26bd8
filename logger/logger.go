// Package logger builds the process-wide slog logger.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	multi "github.com/samber/slog-multi"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures New.
type Options struct {
	// Level is one of debug, info, warn, error. Unknown values mean info.
	Level string
	// File, if set, receives JSON records with size-based rotation.
	File string
	// Stderr overrides the text output, mainly for tests.
	Stderr io.Writer
}

// ParseLevel maps a level name onto a slog.Level.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// New returns a logger writing text to stderr and, when File is set,
// JSON to a rotated log file. The returned closer flushes the file.
func New(opts Options) (*slog.Logger, io.Closer) {
	level := &slog.LevelVar{}
	level.Set(ParseLevel(opts.Level))
	hopts := &slog.HandlerOptions{Level: level}

	out := opts.Stderr
	if out == nil {
		out = os.Stderr
	}
	text := slog.NewTextHandler(out, hopts)
	if opts.File == "" {
		return slog.New(text), io.NopCloser(nil)
	}

	file := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    64,
		MaxBackups: 8,
		MaxAge:     30,
		Compress:   true,
	}
	return slog.New(multi.Fanout(text, slog.NewJSONHandler(file, hopts))), file
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
