//go:build !linux

package logging

import (
	"errors"
	"log/slog"
)

func newJournalHandler() (slog.Handler, error) {
	return nil, errors.New("systemd journal is only available on linux")
}
