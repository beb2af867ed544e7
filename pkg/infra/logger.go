package infra

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/Guizzs26/go-datasync/internal/config"
)

// SetupLogger builds the logger of one datasync process. Every record carries
// the component ("server" or "syncer") so both processes can share a sink.
// The returned func closes the log file.
func SetupLogger(cfg *config.Config, component string) (*slog.Logger, func()) {
	var out io.Writer = os.Stdout
	closeFn := func() {}
	var fileErr error
	if cfg.LogFile != "" {
		logFile, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err == nil {
			out = io.MultiWriter(os.Stdout, logFile)
			closeFn = func() { logFile.Close() }
		}
		fileErr = err
	}

	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.LogLevel)}
	var handler slog.Handler
	if strings.EqualFold(cfg.LogFormat, "JSON") {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	logger := slog.New(handler).With("app", "datasync", "component", component)
	if fileErr != nil {
		logger.Warn("Log file unavailable, logging to stdout only", "path", cfg.LogFile, "error", fileErr)
	}
	return logger, closeFn
}

// ParseLevel maps LOG_LEVEL to a slog level, defaulting to INFO.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	}
	return slog.LevelInfo
}
