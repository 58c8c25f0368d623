package index

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the relational index store's connection settings, loaded
// from environment variables the way the teacher's cmd/api.loadConfig does.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// LoadConfigFromEnv loads Config from INDEX_DB_* environment variables,
// applying the same envOr-default idiom as the rest of the node config.
func LoadConfigFromEnv() (Config, error) {
	port, err := strconv.Atoi(envOr("INDEX_DB_PORT", "5432"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid INDEX_DB_PORT: %w", err)
	}
	maxConns, err := strconv.Atoi(envOr("INDEX_DB_MAX_CONNS", "10"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid INDEX_DB_MAX_CONNS: %w", err)
	}
	maxLifetime, err := time.ParseDuration(envOr("INDEX_DB_CONN_MAX_LIFETIME", "1h"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid INDEX_DB_CONN_MAX_LIFETIME: %w", err)
	}
	maxIdleTime, err := time.ParseDuration(envOr("INDEX_DB_CONN_MAX_IDLE_TIME", "15m"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid INDEX_DB_CONN_MAX_IDLE_TIME: %w", err)
	}

	cfg := Config{
		Host:            envOr("INDEX_DB_HOST", "localhost"),
		Port:            port,
		User:            envOr("INDEX_DB_USER", "querent"),
		Password:        os.Getenv("INDEX_DB_PASSWORD"),
		Database:        envOr("INDEX_DB_NAME", "querent"),
		SSLMode:         envOr("INDEX_DB_SSLMODE", "disable"),
		MaxConns:        int32(maxConns),
		MaxConnLifetime: maxLifetime,
		MaxConnIdleTime: maxIdleTime,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that cfg is usable before a connection is attempted.
func (c Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("INDEX_DB_HOST is required")
	}
	if c.Database == "" {
		return fmt.Errorf("INDEX_DB_NAME is required")
	}
	if c.MaxConns < 1 {
		return fmt.Errorf("INDEX_DB_MAX_CONNS must be at least 1")
	}
	return nil
}

// DSN builds a libpq-style connection string for both the pgx pool and the
// migration driver.
func (c Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
