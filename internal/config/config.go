package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the core runtime configuration for the service.
// Values are sourced from environment variables, with defaults where
// appropriate.
type Config struct {
	DatabaseURL string
	ListenAddr  string

	// TablePrefix is prepended to every table name so the analytics
	// schema can share a database with the host application.
	TablePrefix string

	// AdminToken protects the report API. Stored as a bcrypt hash if it
	// starts with "$2", otherwise compared as a plain value.
	AdminToken string

	// SessionWindow is the inactivity window after which the next
	// request from the same visitor starts a new session.
	SessionWindow time.Duration

	// LockTimeout bounds how long an ingestion call waits for the
	// per-visitor advisory lock.
	LockTimeout time.Duration

	// QueryTimeout bounds report query execution.
	QueryTimeout time.Duration

	// AsyncWrites makes ingestion fire-and-forget: the tracked request
	// completes without waiting for persistence.
	AsyncWrites bool

	// MaxErrorsBeforeFail is the number of consecutive ingestion
	// failures after which tracking is disabled process-wide.
	// Zero disables the circuit breaker.
	MaxErrorsBeforeFail int

	// AutoGeocoding enables the background download of the IP-to-country
	// database when the geocoding table is empty or outdated.
	AutoGeocoding bool

	// GeoDataURL is the download URL template for the geocoding data,
	// with %s replaced by the yyyy-MM version.
	GeoDataURL string
}

// Load reads configuration from environment variables and applies defaults.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:         os.Getenv("APP_DATABASE_URL"),
		ListenAddr:          getenv("APP_LISTEN_ADDR", ":8080"),
		TablePrefix:         getenv("APP_TABLE_PREFIX", "palmalytics_"),
		AdminToken:          os.Getenv("APP_ADMIN_TOKEN"),
		SessionWindow:       30 * time.Minute,
		LockTimeout:         5 * time.Second,
		QueryTimeout:        30 * time.Second,
		AsyncWrites:         getbool("APP_ASYNC_WRITES", true),
		MaxErrorsBeforeFail: getint("APP_MAX_ERRORS_BEFORE_FAIL", 20),
		AutoGeocoding:       getbool("APP_AUTO_GEOCODING", true),
		GeoDataURL:          getenv("APP_GEODATA_URL", "https://download.db-ip.com/free/dbip-country-lite-%s.csv.gz"),
	}

	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, errors.New("APP_DATABASE_URL is required (PostgreSQL URL)")
	}

	if n := getint("APP_SESSION_WINDOW_MINUTES", 30); n > 0 {
		cfg.SessionWindow = time.Duration(n) * time.Minute
	}
	if n := getint("APP_LOCK_TIMEOUT_MS", 5000); n >= 0 {
		cfg.LockTimeout = time.Duration(n) * time.Millisecond
	}
	if n := getint("APP_QUERY_TIMEOUT_SECONDS", 30); n > 0 {
		cfg.QueryTimeout = time.Duration(n) * time.Second
	}

	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getint(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
