// Package config loads tracker configuration from the environment, with
// optional .env support for local development.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
)

type Config struct {
	// BackendURL is the base URL of the external crawl backend serving the
	// push and poll endpoints.
	BackendURL string

	// ListenAddr is where the local status/metrics endpoint binds.
	ListenAddr string

	// RedisAddr enables the Redis-backed history store when set.
	RedisAddr string

	// PostgresDSN enables the long-term archive when set.
	PostgresDSN string

	WatchdogInterval time.Duration
	GraceInterval    time.Duration

	// E-mail notifications; enabled when EmailAPIKey and EmailTo are set.
	EmailAPIKey      string
	EmailFromName    string
	EmailFromAddress string
	EmailTo          string
	EmailEnabled     bool

	LogLevel string
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Debug("no .env file loaded", "error", err)
	}

	cfg := &Config{
		BackendURL:       getEnv("CRAWLWATCH_BACKEND_URL", "http://localhost:8000"),
		ListenAddr:       getEnv("CRAWLWATCH_LISTEN_ADDR", ":8090"),
		RedisAddr:        os.Getenv("CRAWLWATCH_REDIS_ADDR"),
		PostgresDSN:      os.Getenv("CRAWLWATCH_POSTGRES_DSN"),
		WatchdogInterval: getEnvDuration("CRAWLWATCH_WATCHDOG_INTERVAL", 60*time.Second),
		GraceInterval:    getEnvDuration("CRAWLWATCH_GRACE_INTERVAL", 1500*time.Millisecond),
		EmailAPIKey:      os.Getenv("EMAIL_API_KEY"),
		EmailFromName:    os.Getenv("FROM_NAME"),
		EmailFromAddress: os.Getenv("FROM_ADDRESS"),
		EmailTo:          os.Getenv("CRAWLWATCH_NOTIFY_EMAIL"),
		LogLevel:         getEnv("CRAWLWATCH_LOG_LEVEL", "info"),
	}
	cfg.EmailEnabled = cfg.EmailAPIKey != "" && cfg.EmailTo != ""

	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	log.Warn("invalid duration, using default", "key", key, "value", v, "default", fallback)
	return fallback
}
