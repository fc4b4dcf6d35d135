package util

import (
	"log/slog"
	"os"
	"slices"
	"sync"
)

var (
	level      slog.LevelVar
	logger     *slog.Logger
	loggerOnce sync.Once
)

// InitLogger sets the log level. Debug output is enabled when verbose is true.
func InitLogger(verbose bool) {
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}
	GetLogger()
}

// GetLogger returns the shared text logger on stdout. The first call picks
// up --verbose from the command line if InitLogger has not run yet.
func GetLogger() *slog.Logger {
	loggerOnce.Do(func() {
		if IsVerbose() {
			level.Set(slog.LevelDebug)
		}
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: &level}))
		slog.SetDefault(logger)
	})
	return logger
}

// IsVerbose reports whether --verbose was passed on the command line.
func IsVerbose() bool {
	return slices.Contains(os.Args[1:], "--verbose")
}
