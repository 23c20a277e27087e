package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds validated environment configuration.
type Config struct {
	Port string

	GoEnv                   string
	LogLevel                string
	AllowedOrigins          string
	DataDir                 string
	FlushInterval           time.Duration
	IdleGracePeriod         time.Duration
	PersistFlushConcurrency int

	// Rate limits (M = Minute, H = Hour)
	RateLimitWsConnect string
}

// ValidateEnv reads the environment variables, applying a default for each
// one that is unset, and returns a Config object. Returns an error if any
// set value is invalid.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errs []string

	cfg.Port = getEnvOrDefault("PORT", "8080")
	if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
	}

	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.AllowedOrigins = getEnvOrDefault("ALLOWED_ORIGINS", "http://localhost:3000")
	cfg.DataDir = getEnvOrDefault("DATA_DIR", "./data")

	flushInterval, err := parseDurationEnv("FLUSH_INTERVAL", 5*time.Second)
	if err != nil {
		errs = append(errs, err.Error())
	}
	cfg.FlushInterval = flushInterval

	grace, err := parseDurationEnv("IDLE_GRACE_PERIOD", 30*time.Second)
	if err != nil {
		errs = append(errs, err.Error())
	}
	cfg.IdleGracePeriod = grace

	cfg.RateLimitWsConnect = getEnvOrDefault("RATE_LIMIT_WS_CONNECT", "20-M")

	flushConcurrency, err := parseIntEnv("PERSIST_FLUSH_CONCURRENCY", 8)
	if err != nil {
		errs = append(errs, err.Error())
	}
	cfg.PersistFlushConcurrency = flushConcurrency

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedConfig(cfg)
	return cfg, nil
}

func parseDurationEnv(key string, def time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("%s must be a valid duration (got '%s')", key, v)
	}
	return d, nil
}

func parseIntEnv(key string, def int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return def, fmt.Errorf("%s must be a positive integer (got '%s')", key, v)
	}
	return n, nil
}

func logValidatedConfig(cfg *Config) {
	slog.Info("environment configuration validated",
		"port", cfg.Port,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"data_dir", cfg.DataDir,
		"flush_interval", cfg.FlushInterval,
		"idle_grace_period", cfg.IdleGracePeriod,
		"rate_limit_ws_connect", cfg.RateLimitWsConnect,
		"persist_flush_concurrency", cfg.PersistFlushConcurrency,
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
