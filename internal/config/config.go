// Package config loads the core's ambient tuning knobs — device id,
// ratchet skip bound, one-time prekey counts, invite TTL default, call
// epoch rotation interval, and the processed-message set bound — from
// the environment, layering .env files before env var overrides.
package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

var logger = log.New(os.Stdout, "[CONFIG] ", log.Ldate|log.Ltime|log.LUTC)

// Config holds every env-tunable knob the core reads at process start.
type Config struct {
	DeviceID string

	RatchetMaxSkip      int
	InitialOPKCount     int
	OPKLowWater         int
	InviteDefaultTTL    time.Duration
	CallEpochMinRotate  time.Duration
	VaultMaxProcessed   int
}

// Load reads environment files in order (.env -> .env.{NODE_ENV} ->
// .env.local), then overlays process environment variables.
func Load() *Config {
	loadEnvFiles()

	cfg := &Config{
		DeviceID:           MustGetEnv("SENTRY_DEVICE_ID"),
		RatchetMaxSkip:     getEnvInt("SENTRY_RATCHET_MAX_SKIP", 1000),
		InitialOPKCount:    getEnvInt("SENTRY_INITIAL_OPK_COUNT", 100),
		OPKLowWater:        getEnvInt("SENTRY_OPK_LOW_WATER", 20),
		InviteDefaultTTL:   getEnvDuration("SENTRY_INVITE_DEFAULT_TTL", 72*time.Hour),
		CallEpochMinRotate: getEnvDuration("SENTRY_CALL_EPOCH_MIN_ROTATE", 10*time.Minute),
		VaultMaxProcessed:  getEnvInt("SENTRY_PIPELINE_MAX_PROCESSED", 10000),
	}

	logger.Printf("config loaded: deviceId=%s ratchetMaxSkip=%d inviteTTL=%s", cfg.DeviceID, cfg.RatchetMaxSkip, cfg.InviteDefaultTTL)
	return cfg
}

func loadEnvFiles() {
	_ = godotenv.Load()
	if env := os.Getenv("NODE_ENV"); env != "" {
		_ = godotenv.Load(".env." + env)
	}
	_ = godotenv.Load(".env.local")
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
		logger.Printf("warning: %s=%q is not a valid integer, using default %d", key, v, defaultValue)
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
		logger.Printf("warning: %s=%q is not a valid duration, using default %s", key, v, defaultValue)
	}
	return defaultValue
}

// MustGetEnv retrieves an environment variable or fails fast: the core
// has no sensible default for per-device identity.
func MustGetEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("FATAL: required environment variable %s is not set", key)
	}
	return v
}
