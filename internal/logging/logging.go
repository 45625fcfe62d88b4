// Package logging builds the process logger from configuration.
package logging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	slogmulti "github.com/samber/slog-multi"

	"github.com/tldw/tldw-assist/internal/config"
)

// Setup is a configured logger and the cleanup for any files it opened.
type Setup struct {
	Logger *slog.Logger
	Level  *slog.LevelVar
	Close  func() error
}

// Nop returns a logger that discards everything.
func Nop() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// ParseLevel maps a configured level name to a slog level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
	}
}

// New fans records out to stderr at the configured level, to a JSON file at
// debug level when logging.file is set, and to the systemd journal when
// logging.journal is set.
func New(cfg config.LoggingConfig, stderr io.Writer) (Setup, error) {
	parsed, err := ParseLevel(cfg.Level)
	if err != nil {
		return Setup{Logger: Nop(), Close: noClose}, err
	}
	level := new(slog.LevelVar)
	level.Set(parsed)

	handlers := []slog.Handler{
		slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}),
	}
	closers := []func() error{}

	if cfg.File != "" {
		file, err := openLogFile(cfg.File)
		if err != nil {
			return Setup{Logger: Nop(), Close: noClose}, err
		}
		handlers = append(handlers, slog.NewJSONHandler(file, &slog.HandlerOptions{
			Level:     slog.LevelDebug,
			AddSource: true,
		}))
		closers = append(closers, file.Close)
	}

	if cfg.Journal {
		journal, err := newJournalHandler()
		if err != nil {
			slog.New(handlers[0]).Warn("logging.journal.unavailable", "error", err)
		} else {
			handlers = append(handlers, journal)
		}
	}

	return Setup{
		Logger: slog.New(slogmulti.Fanout(handlers...)),
		Level:  level,
		Close: func() error {
			var errs []error
			for _, c := range closers {
				errs = append(errs, c())
			}
			return errors.Join(errs...)
		},
	}, nil
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return file, nil
}

func noClose() error { return nil }

func toJournalKey(str string) string {
	str = strings.ToUpper(str)
	return strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			return r
		}
		return '_'
	}, str)
}
