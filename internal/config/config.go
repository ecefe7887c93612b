package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const minProductionSecretBytes = 32

type Config struct {
	Port       string
	AppEnv     string
	LogLevel   string
	SentryDSN  string
	Release    string
	APIPrefix  string
	CronSecret string

	StoreDriver    string
	DatabaseURL    string
	RunMigrations  bool
	RedisURL       string
	RedisPrefix    string
	MongoURI       string
	MongoDatabase  string
	DBMaxOpenConns int
	DBMaxIdleConns int
	DBConnLifetime time.Duration

	JWTSecret         string
	AccessTokenTTL    time.Duration
	RefreshTokenTTL   time.Duration
	LoginMaxAttempts  int
	LoginLockDuration time.Duration
	MaxSessions       int
	BcryptCost        int
	RateLimitPerMin   int
	RateLimitBurst    int
	SweepBatchSize    int

	AdminEmail    string
	AdminPassword string
	AdminName     string
}

func (c Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// Load reads the environment, optionally after loading a .env file.
func Load(loadDotEnv bool) (Config, error) {
	if loadDotEnv {
		_ = godotenv.Load()
	}

	cfg := Config{
		Port:       envOrDefault("PORT", "8080"),
		AppEnv:     strings.ToLower(envOrDefault("APP_ENV", "development")),
		LogLevel:   envOrDefault("LOG_LEVEL", "info"),
		SentryDSN:  strings.TrimSpace(os.Getenv("SENTRY_DSN")),
		Release:    strings.TrimSpace(os.Getenv("SENTRY_RELEASE")),
		APIPrefix:  envOrDefault("API_PREFIX", "/api"),
		CronSecret: strings.TrimSpace(os.Getenv("CRON_SECRET")),

		StoreDriver:    strings.ToLower(envOrDefault("STORE_DRIVER", "memory")),
		DatabaseURL:    strings.TrimSpace(os.Getenv("DATABASE_URL")),
		RunMigrations:  EnvBoolOrDefault("RUN_MIGRATIONS", true),
		RedisURL:       strings.TrimSpace(os.Getenv("REDIS_URL")),
		RedisPrefix:    envOrDefault("REDIS_PREFIX", "auth"),
		MongoURI:       strings.TrimSpace(os.Getenv("MONGO_URI")),
		MongoDatabase:  envOrDefault("MONGO_DATABASE", "authcore"),
		DBMaxOpenConns: envIntOrDefault("DB_MAX_OPEN_CONNS", 10),
		DBMaxIdleConns: envIntOrDefault("DB_MAX_IDLE_CONNS", 5),
		DBConnLifetime: envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30),

		JWTSecret:         strings.TrimSpace(os.Getenv("JWT_SECRET")),
		AccessTokenTTL:    envMinutesOrDefault("ACCESS_TOKEN_TTL_MINUTES", 15),
		RefreshTokenTTL:   envHoursOrDefault("REFRESH_TOKEN_TTL_HOURS", 168),
		LoginMaxAttempts:  envIntOrDefault("LOGIN_MAX_ATTEMPTS", 5),
		LoginLockDuration: envMinutesOrDefault("LOGIN_LOCK_MINUTES", 30),
		MaxSessions:       envIntOrDefault("MAX_SESSIONS", 5),
		BcryptCost:        envIntOrDefault("BCRYPT_COST", 12),
		RateLimitPerMin:   envIntOrDefault("AUTH_RATE_LIMIT_PER_MINUTE", 10),
		RateLimitBurst:    envIntOrDefault("AUTH_RATE_LIMIT_BURST", 5),
		SweepBatchSize:    envIntOrDefault("SESSION_SWEEP_BATCH_SIZE", 500),

		AdminEmail:    strings.TrimSpace(os.Getenv("ADMIN_EMAIL")),
		AdminPassword: os.Getenv("ADMIN_PASSWORD"),
		AdminName:     strings.TrimSpace(os.Getenv("ADMIN_NAME")),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("missing required env: JWT_SECRET")
	}
	if c.IsProduction() && len(c.JWTSecret) < minProductionSecretBytes {
		return fmt.Errorf("JWT_SECRET must be at least %d bytes in production", minProductionSecretBytes)
	}

	switch c.StoreDriver {
	case "memory":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("missing required env: DATABASE_URL")
		}
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("missing required env: REDIS_URL")
		}
	case "mongo":
		if c.MongoURI == "" {
			return fmt.Errorf("missing required env: MONGO_URI")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	if (c.AdminEmail == "") != (c.AdminPassword == "") {
		return fmt.Errorf("ADMIN_EMAIL and ADMIN_PASSWORD must be set together")
	}
	return nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}

func envHoursOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Hour
}

func EnvBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
