package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	MinPageSize = 1
	MaxPageSize = 1000
)

type Config struct {
	// Server
	HTTPAddr    string
	DatabaseURL string
	Tables      []string
	SoftDelete  bool
	MaxPageSize int

	// Client
	RemoteURL    string
	LocalDriver  string
	LocalDSN     string
	SyncTables   []string
	PageSize     int
	PollInterval time.Duration
	MetricsPort  string
	// server_wins, client_wins or abandon
	ConflictPolicy string

	RabbitMQURL string
	LogLevel    string
	LogFormat   string
	LogFile     string
}

func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		Tables:      getEnvList("TABLES"),
		SoftDelete:  getEnvBool("SOFT_DELETE", true),
		MaxPageSize: clampPageSize("MAX_PAGE_SIZE", getEnvInt("MAX_PAGE_SIZE", 100)),

		RemoteURL:      getEnv("REMOTE_URL", "http://localhost:8080"),
		LocalDriver:    getEnv("LOCAL_DRIVER", "sqlite3"),
		LocalDSN:       getEnv("LOCAL_DSN", "file:datasync.db"),
		SyncTables:     getEnvList("SYNC_TABLES"),
		PageSize:       clampPageSize("PAGE_SIZE", getEnvInt("PAGE_SIZE", 50)),
		PollInterval:   time.Duration(max(getEnvInt("POLL_INTERVAL_SEC", 30), 1)) * time.Second,
		MetricsPort:    getEnv("METRICS_PORT", "9091"),
		ConflictPolicy: strings.ToLower(getEnv("CONFLICT_POLICY", "abandon")),

		RabbitMQURL: getEnv("RABBITMQ_URL", ""),
		LogLevel:    getEnv("LOG_LEVEL", "INFO"),
		LogFormat:   getEnv("LOG_FORMAT", "TEXT"),
		LogFile:     getEnv("LOG_FILE", "datasync.log"),
	}
}

func clampPageSize(key string, size int) int {
	if size > MaxPageSize {
		slog.Warn(key+" exceeds safety limit. Clamping to maximum", "requested", size, "limit", MaxPageSize)
		return MaxPageSize
	}
	if size < MinPageSize {
		return MinPageSize
	}
	return size
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvList splits a comma separated variable, dropping empty entries.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
