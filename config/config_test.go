package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)

	cfg := LoadConfig()

	assert.Equal(t, 8080, cfg.ServerPort)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, "bcrypt", cfg.Auth.PasswordHash)
	assert.True(t, cfg.Auth.RecheckAccount)
	assert.Equal(t, "memory", cfg.MQ.Backend)
	assert.Equal(t, "none", cfg.Storage.Backend)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("TOKEN_TTL", "90m")
	t.Setenv("PASSWORD_HASH", "ARGON2ID")
	t.Setenv("AUTH_RECHECK_ACCOUNT", "false")
	t.Setenv("DB_USE_SSL", "true")
	t.Setenv("SERVER_PORT", "9090")

	cfg := LoadConfig()

	assert.Equal(t, 90*time.Minute, cfg.Auth.TokenTTL)
	assert.Equal(t, "argon2id", cfg.Auth.PasswordHash)
	assert.False(t, cfg.Auth.RecheckAccount)
	assert.True(t, cfg.Database.UseSSL)
	assert.Equal(t, 9090, cfg.ServerPort)
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	t.Run("missing secret", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "")
		err := LoadConfig().Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "JWT_SECRET is required")
	})

	t.Run("short secret", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "too-short")
		err := LoadConfig().Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "at least 32 bytes")
	})

	t.Run("collects every problem", func(t *testing.T) {
		t.Setenv("JWT_SECRET", testSecret)
		t.Setenv("MQ_BACKEND", "rabbitmq")
		t.Setenv("RABBITMQ_URL", "")
		t.Setenv("STORAGE_BACKEND", "ftp")
		err := LoadConfig().Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "RABBITMQ_URL")
		assert.Contains(t, err.Error(), "STORAGE_BACKEND")
	})

	t.Run("sub-second ttl", func(t *testing.T) {
		t.Setenv("JWT_SECRET", testSecret)
		t.Setenv("TOKEN_TTL", "500ms")
		err := LoadConfig().Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "TOKEN_TTL")
	})
}
