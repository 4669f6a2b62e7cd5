// Package config loads runtime configuration from the environment.
// A .env file in the working directory is read first when present.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DBConfig holds PostgreSQL connection settings.
type DBConfig struct {
	URL      string
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
}

// DSN returns the connection string, preferring DATABASE_URL when set.
func (c DBConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

// UploadConfig configures local file storage.
type UploadConfig struct {
	Dir     string
	BaseURL string
}

// R2Config configures Cloudflare R2 storage. Storage falls back to the local
// filesystem when AccountID is empty.
type R2Config struct {
	AccountID string
	AccessKey string
	SecretKey string
	Bucket    string
	PublicURL string
}

// Enabled reports whether enough R2 settings are present to use it.
func (c R2Config) Enabled() bool {
	return c.AccountID != "" && c.Bucket != ""
}

// AuthzConfig tunes permission context construction.
type AuthzConfig struct {
	// CatalogRefresh is a robfig/cron spec for reloading role definitions.
	CatalogRefresh string
	CacheTTL       time.Duration
	CacheSize      int
}

// ActivityConfig controls audit-log retention.
type ActivityConfig struct {
	// Purge is a robfig/cron spec; "off" disables purging.
	Purge     string
	Retention time.Duration
}

// Config is the full application configuration.
type Config struct {
	Port        string
	Env         string
	JWTSecret   string
	CORSOrigins []string
	LogLevel    string
	LogFormat   string
	RedisURL    string

	DB     DBConfig
	Upload UploadConfig
	R2     R2Config
	Authz  AuthzConfig

	Activity ActivityConfig
}

// IsProduction reports whether APP_ENV is "production".
func (c *Config) IsProduction() bool { return c.Env == "production" }

// Load reads .env (if any) and the environment. JWT_SECRET is required.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read .env: %w", err)
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("APP_ENV", "development"),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		CORSOrigins: splitList(getEnv("CORS_ORIGINS", "http://localhost:3000")),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", ""),
		RedisURL:    os.Getenv("REDIS_URL"),
		DB: DBConfig{
			URL:      os.Getenv("DATABASE_URL"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: os.Getenv("DB_PASSWORD"),
			Name:     getEnv("DB_NAME", "portal"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Upload: UploadConfig{
			Dir:     getEnv("UPLOAD_DIR", "./uploads"),
			BaseURL: getEnv("UPLOAD_BASE_URL", "/api/files"),
		},
		R2: R2Config{
			AccountID: os.Getenv("R2_ACCOUNT_ID"),
			AccessKey: os.Getenv("R2_ACCESS_KEY_ID"),
			SecretKey: os.Getenv("R2_SECRET_ACCESS_KEY"),
			Bucket:    os.Getenv("R2_BUCKET"),
			PublicURL: os.Getenv("R2_PUBLIC_URL"),
		},
		Authz: AuthzConfig{
			CatalogRefresh: getEnv("CATALOG_REFRESH", "@every 5m"),
		},
		Activity: ActivityConfig{
			Purge: getEnv("ACTIVITY_PURGE", "@daily"),
		},
	}

	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	maxConns, err := getInt("DB_MAX_CONNS", 10)
	if err != nil {
		return nil, err
	}
	cfg.DB.MaxConns = int32(maxConns)

	if cfg.Authz.CacheSize, err = getInt("CONTEXT_CACHE_SIZE", 1024); err != nil {
		return nil, err
	}
	if cfg.Authz.CacheTTL, err = getDuration("CONTEXT_CACHE_TTL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.Activity.Retention, err = getDuration("ACTIVITY_RETENTION", 365*24*time.Hour); err != nil {
		return nil, err
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
