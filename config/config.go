package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the service.
type Config struct {
	Port string
	Env  string

	// StoreDriver selects the thread store: memory, mysql or sqlite.
	StoreDriver   string
	MySQLUser     string
	MySQLPassword string
	MySQLHost     string
	MySQLDatabase string
	SQLitePath    string

	// RedisURL enables shared presence and cross-instance event fan-out.
	RedisURL string

	GeminiAPIKey string

	TypingTTL      time.Duration
	RequestTimeout time.Duration
	MigrateOnStart bool
}

// Load reads configuration from environment variables, loading .env first
// when present. It fails on malformed values and, in production, on an
// in-memory store.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		StoreDriver:   getEnv("STORE_DRIVER", "memory"),
		MySQLUser:     getEnv("MYSQL_USER", "user"),
		MySQLPassword: getEnv("MYSQL_PWD", "password"),
		MySQLHost:     getEnv("MYSQL_HOST", "tcp(127.0.0.1:3306)"),
		MySQLDatabase: getEnv("MYSQL_DATABASE", "negotiation"),
		SQLitePath:    getEnv("SQLITE_PATH", "negotiation.db"),
		RedisURL:      os.Getenv("REDIS_URL"),
		GeminiAPIKey:  os.Getenv("GEMINI_API_KEY"),
	}

	var err error
	if cfg.TypingTTL, err = getDuration("TYPING_TTL", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.RequestTimeout, err = getDuration("REQUEST_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.MigrateOnStart, err = strconv.ParseBool(getEnv("MIGRATE_ON_START", "true")); err != nil {
		return nil, fmt.Errorf("MIGRATE_ON_START: %w", err)
	}

	switch cfg.StoreDriver {
	case "memory", "mysql", "sqlite":
	default:
		return nil, fmt.Errorf("STORE_DRIVER: unknown driver %q", cfg.StoreDriver)
	}
	if cfg.Env == "production" && cfg.StoreDriver == "memory" {
		return nil, fmt.Errorf("STORE_DRIVER: production requires mysql or sqlite")
	}
	return cfg, nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// MySQLDSN builds the go-sql-driver DSN.
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@%s/%s?parseTime=true&loc=Local", c.MySQLUser, c.MySQLPassword, c.MySQLHost, c.MySQLDatabase)
}

// SQLiteDSN opens immediate transactions so that a thread update takes the
// write lock before it reads.
func (c *Config) SQLiteDSN() string {
	return fmt.Sprintf("file:%s?_txlock=immediate&_busy_timeout=5000&_foreign_keys=on", c.SQLitePath)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: must be positive", key)
	}
	return d, nil
}
