package util

import (
	"log"
	"log/slog"
	"strings"
)

// SetupGlobalLogger routes the standard log package through slog so that
// output from dependencies ends up in the same stream.
func SetupGlobalLogger() {
	log.SetFlags(0)
	log.SetOutput(&logWriter{logger: GetLogger()})
}

// NewStdLogger returns a *log.Logger writing to slog at the given level, for
// APIs such as http.Server.ErrorLog.
func NewStdLogger(level slog.Level) *log.Logger {
	return slog.NewLogLogger(GetLogger().Handler(), level)
}

type logWriter struct {
	logger *slog.Logger
}

func (w *logWriter) Write(p []byte) (n int, err error) {
	w.logger.Info(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
