package config

import (
	"log/slog"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/nfrund/datahub/internal/hub"
	"github.com/nfrund/datahub/internal/pubsub"
)

// Config holds all configuration for the application.
type Config struct {
	LogFormat string
	LogLevel  string

	MaxWorkers        int
	PendingDispatches int
	EventBuffer       int

	Tracing pubsub.TracingConfig
}

// New loads configuration from a .env file, if present, and environment variables.
// Missing or unparsable numbers fall back to their defaults.
func New() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, relying on environment variables")
	}

	return &Config{
		LogFormat:         envOr("LOG_FORMAT", "text"),
		LogLevel:          envOr("LOG_LEVEL", "info"),
		MaxWorkers:        envInt("HUB_MAX_WORKERS", hub.DefaultMaxWorkers, 1),
		PendingDispatches: envInt("HUB_PENDING_DISPATCHES", hub.DefaultPendingDispatches, 0),
		EventBuffer:       envInt("HUB_EVENT_BUFFER", pubsub.DefaultEventBuffer, 0),
		Tracing:           tracing(),
	}
}

// tracing reads the PUBSUB_TRACING_* variables over pubsub's defaults.
func tracing() pubsub.TracingConfig {
	cfg := pubsub.DefaultTracingConfig()
	cfg.Enabled = envBool("PUBSUB_TRACING_ENABLED", cfg.Enabled)
	cfg.ServiceName = envOr("PUBSUB_TRACING_SERVICE_NAME", cfg.ServiceName)
	cfg.ZipkinURL = envOr("PUBSUB_TRACING_ZIPKIN_URL", cfg.ZipkinURL)
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback, min int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < min {
		slog.Warn("Ignoring invalid environment value", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("Ignoring invalid environment value", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return b
}
