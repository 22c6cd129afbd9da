package demo

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jrick/logrotate/rotator"
	"github.com/pkg/errors"
)

const (
	logThresholdKB = 10 * 1000
	logMaxRolls    = 3
)

// NewLogger builds a text logger writing to stderr and, if cfg names a log
// file, to a size-rotated file. The returned closer flushes the file.
func NewLogger(cfg LogConfig) (*slog.Logger, io.Closer, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return nil, nil, errors.Wrapf(err, "log level %q", cfg.LogLevel)
	}

	var out io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}
	if cfg.LogFile != "" {
		if dir := filepath.Dir(cfg.LogFile); dir != "" {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return nil, nil, errors.Wrapf(err, "create log directory %s", dir)
			}
		}
		r, err := rotator.New(cfg.LogFile, logThresholdKB, false, logMaxRolls)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "open log file %s", cfg.LogFile)
		}
		out = io.MultiWriter(os.Stderr, r)
		closer = r
	}

	handler := slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	return slog.New(handler), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
