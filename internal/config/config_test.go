package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_RequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("PORT", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("CONTEXT_CACHE_TTL", "")
	t.Setenv("CONTEXT_CACHE_SIZE", "")
	t.Setenv("CATALOG_REFRESH", "")
	t.Setenv("CORS_ORIGINS", "")
	t.Setenv("ACTIVITY_PURGE", "")
	t.Setenv("ACTIVITY_RETENTION", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "@every 5m", cfg.Authz.CatalogRefresh)
	assert.Equal(t, time.Minute, cfg.Authz.CacheTTL)
	assert.Equal(t, 1024, cfg.Authz.CacheSize)
	assert.Equal(t, "@daily", cfg.Activity.Purge)
	assert.Equal(t, 365*24*time.Hour, cfg.Activity.Retention)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.CORSOrigins)
	assert.False(t, cfg.R2.Enabled())
	assert.Contains(t, cfg.DB.DSN(), "postgres://")
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/x")
	t.Setenv("CONTEXT_CACHE_TTL", "30s")
	t.Setenv("CONTEXT_CACHE_SIZE", "16")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("R2_ACCOUNT_ID", "acct")
	t.Setenv("R2_BUCKET", "docs")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres://u:p@db:5432/x", cfg.DB.DSN())
	assert.Equal(t, 30*time.Second, cfg.Authz.CacheTTL)
	assert.Equal(t, 16, cfg.Authz.CacheSize)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.True(t, cfg.R2.Enabled())
}

func TestLoad_BadDuration(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("CONTEXT_CACHE_TTL", "soon")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CONTEXT_CACHE_TTL")
}
