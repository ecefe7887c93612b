package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"PORT", "APP_ENV", "API_PREFIX", "STORE_DRIVER", "DATABASE_URL", "REDIS_URL", "MONGO_URI",
		"ACCESS_TOKEN_TTL_MINUTES", "REFRESH_TOKEN_TTL_HOURS", "LOGIN_MAX_ATTEMPTS",
		"LOGIN_LOCK_MINUTES", "MAX_SESSIONS", "BCRYPT_COST", "ADMIN_EMAIL", "ADMIN_PASSWORD",
	} {
		t.Setenv(name, "")
	}
	t.Setenv("JWT_SECRET", "dev-secret")
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(false)
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "development", cfg.AppEnv)
	assert.Equal(t, "memory", cfg.StoreDriver)
	assert.Equal(t, "/api", cfg.APIPrefix)
	assert.Equal(t, 15*time.Minute, cfg.AccessTokenTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.RefreshTokenTTL)
	assert.Equal(t, 5, cfg.LoginMaxAttempts)
	assert.Equal(t, 30*time.Minute, cfg.LoginLockDuration)
	assert.Equal(t, 12, cfg.BcryptCost)
	assert.False(t, cfg.IsProduction())
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_DRIVER", "Redis")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "5")
	t.Setenv("LOGIN_MAX_ATTEMPTS", "not-a-number")
	t.Setenv("MAX_SESSIONS", "-2")

	cfg, err := Load(false)
	require.NoError(t, err)

	assert.Equal(t, "redis", cfg.StoreDriver)
	assert.Equal(t, 5*time.Minute, cfg.AccessTokenTTL)
	assert.Equal(t, 5, cfg.LoginMaxAttempts)
	assert.Equal(t, 5, cfg.MaxSessions)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := map[string]map[string]string{
		"missing secret":          {"JWT_SECRET": ""},
		"short production secret": {"APP_ENV": "production", "JWT_SECRET": "short"},
		"postgres without url":    {"STORE_DRIVER": "postgres", "DATABASE_URL": ""},
		"mongo without uri":       {"STORE_DRIVER": "mongo", "MONGO_URI": ""},
		"unknown driver":          {"STORE_DRIVER": "sqlite"},
		"admin email only":        {"ADMIN_EMAIL": "root@x.com", "ADMIN_PASSWORD": ""},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load(false)
			assert.Error(t, err)
		})
	}
}

func TestEnvBoolOrDefault(t *testing.T) {
	t.Setenv("FLAG", "yes")
	assert.True(t, EnvBoolOrDefault("FLAG", false))
	t.Setenv("FLAG", "OFF")
	assert.False(t, EnvBoolOrDefault("FLAG", true))
	t.Setenv("FLAG", "maybe")
	assert.True(t, EnvBoolOrDefault("FLAG", true))
	t.Setenv("FLAG", "")
	assert.False(t, EnvBoolOrDefault("FLAG", false))
}
