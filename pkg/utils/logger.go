package utils

import (
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

var (
	logger     *slog.Logger
	loggerOnce sync.Once
)

// InitLogger sets up the process-wide logger. Safe to call more than once;
// only the first call has effect.
func InitLogger() {
	loggerOnce.Do(func() {
		level := slog.LevelInfo
		if os.Getenv("CHIFFON_DEBUG") != "" {
			level = slog.LevelDebug
		}

		var handler slog.Handler
		if isatty.IsTerminal(os.Stderr.Fd()) {
			handler = tint.NewHandler(os.Stderr, &tint.Options{
				Level:      level,
				TimeFormat: time.Kitchen,
			})
		} else {
			handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
		}

		logger = slog.New(handler)
		slog.SetDefault(logger)
	})
}

// GetLogger returns the process-wide logger, initializing it if needed.
func GetLogger() *slog.Logger {
	InitLogger()
	return logger
}
