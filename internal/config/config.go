// Package config loads application configuration from environment variables.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Rate limiter backends selectable with OPSCENTER_RATE_LIMIT_BACKEND.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	DBPath     string

	// SecretKey is the 32-byte master key decoded from OPSCENTER_SECRET_KEY.
	SecretKey []byte

	RateLimitBackend string
	RedisURL         string

	ProbeTimeout  time.Duration
	TestLimit     int
	TestPeriod    time.Duration
	ResetLimit    int
	ResetPeriod   time.Duration
	SweepInterval time.Duration
}

// Load reads configuration from environment variables and returns a validated Config.
// A .env file in the working directory is loaded first if present; variables already
// set in the environment win. OPSCENTER_SECRET_KEY is required and must be 64 hex
// characters. Optional variables with defaults: OPSCENTER_LISTEN_ADDR (127.0.0.1:8080),
// OPSCENTER_DB_PATH (opscenter.db), OPSCENTER_RATE_LIMIT_BACKEND (sqlite),
// OPSCENTER_PROBE_TIMEOUT (5s), OPSCENTER_TEST_LIMIT (10), OPSCENTER_TEST_PERIOD (1h),
// OPSCENTER_RESET_LIMIT (3), OPSCENTER_RESET_PERIOD (24h), OPSCENTER_SWEEP_INTERVAL (10m).
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	secretKey, err := parseSecretKey(os.Getenv("OPSCENTER_SECRET_KEY"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ListenAddr:       stringEnv("OPSCENTER_LISTEN_ADDR", "127.0.0.1:8080"),
		DBPath:           stringEnv("OPSCENTER_DB_PATH", "opscenter.db"),
		SecretKey:        secretKey,
		RateLimitBackend: stringEnv("OPSCENTER_RATE_LIMIT_BACKEND", BackendSQLite),
		RedisURL:         os.Getenv("OPSCENTER_REDIS_URL"),
	}

	switch cfg.RateLimitBackend {
	case BackendMemory, BackendSQLite:
	case BackendRedis:
		if cfg.RedisURL == "" {
			return nil, errors.New("OPSCENTER_REDIS_URL is required when OPSCENTER_RATE_LIMIT_BACKEND=redis")
		}
	default:
		return nil, fmt.Errorf("OPSCENTER_RATE_LIMIT_BACKEND has unknown value %q (want memory, sqlite or redis)", cfg.RateLimitBackend)
	}

	if cfg.ProbeTimeout, err = durationEnv("OPSCENTER_PROBE_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.TestPeriod, err = durationEnv("OPSCENTER_TEST_PERIOD", time.Hour); err != nil {
		return nil, err
	}
	if cfg.ResetPeriod, err = durationEnv("OPSCENTER_RESET_PERIOD", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = durationEnv("OPSCENTER_SWEEP_INTERVAL", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.TestLimit, err = intEnv("OPSCENTER_TEST_LIMIT", 10); err != nil {
		return nil, err
	}
	if cfg.ResetLimit, err = intEnv("OPSCENTER_RESET_LIMIT", 3); err != nil {
		return nil, err
	}

	return cfg, nil
}

// parseSecretKey decodes the hex master key. The process must not start
// without a usable key, so absence is an error rather than a default.
func parseSecretKey(v string) ([]byte, error) {
	if v == "" {
		return nil, errors.New("OPSCENTER_SECRET_KEY is required (generate one with cmd/keygen)")
	}
	if len(v) != 64 {
		return nil, fmt.Errorf("OPSCENTER_SECRET_KEY must be 64 hex characters, got %d", len(v))
	}
	key, err := hex.DecodeString(v)
	if err != nil {
		return nil, fmt.Errorf("OPSCENTER_SECRET_KEY is not valid hex: %w", err)
	}
	return key, nil
}

func stringEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid duration %q: %w", key, v, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, parsed)
	}
	return parsed, nil
}

func intEnv(key string, def int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid integer %q: %w", key, v, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %d", key, parsed)
	}
	return parsed, nil
}
