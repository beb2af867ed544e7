package infra

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guizzs26/go-datasync/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"ERROR":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestSetupLoggerWritesComponentToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "datasync.log")
	logger, closeLog := SetupLogger(&config.Config{LogLevel: "WARN", LogFormat: "json", LogFile: path}, "syncer")

	logger.Info("Pull finished", "table", "todos")
	logger.Warn("Push conflict", "table", "todos")
	closeLog()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := bytes.Split(bytes.TrimSpace(raw), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "Push conflict", entry["msg"])
	assert.Equal(t, "datasync", entry["app"])
	assert.Equal(t, "syncer", entry["component"])
	assert.Equal(t, "todos", entry["table"])
}
