package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"auth-session-core/internal/auth"
	"auth-session-core/internal/config"
	"auth-session-core/internal/db"
	"auth-session-core/internal/maintenance"
	"auth-session-core/internal/observability"
)

type Options struct {
	LoadDotEnv bool
	// RunMigrations overrides cfg.RunMigrations when set.
	RunMigrations *bool
}

type Runtime struct {
	Handler http.Handler
	Config  config.Config
	Logger  *observability.Logger
	Close   func() error
}

func Build(options Options) (*Runtime, error) {
	cfg, err := config.Load(options.LoadDotEnv)
	if err != nil {
		return nil, err
	}
	if options.RunMigrations != nil {
		cfg.RunMigrations = *options.RunMigrations
	}
	return BuildWithConfig(cfg)
}

// BuildWithConfig wires the runtime from an already loaded configuration.
func BuildWithConfig(cfg config.Config) (*Runtime, error) {
	logger := observability.NewLogger(cfg.LogLevel)

	if err := observability.InitSentry(cfg.SentryDSN, cfg.AppEnv, cfg.Release); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	store, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	metrics := observability.NewMetrics()

	issuer := auth.NewIssuer(cfg.JWTSecret, cfg.AccessTokenTTL)
	authService := auth.NewService(store, issuer, auth.NewHasher(cfg.BcryptCost))
	authService.WithSecurityConfig(
		cfg.LoginMaxAttempts,
		cfg.LoginLockDuration,
		cfg.RefreshTokenTTL,
		cfg.MaxSessions,
	)
	authService.WithRecorder(metrics)

	if err := authService.BootstrapAdmin(context.Background(), cfg.AdminEmail, cfg.AdminPassword, cfg.AdminName); err != nil {
		_ = closeStore()
		return nil, fmt.Errorf("bootstrap admin: %w", err)
	}

	authHandler := auth.NewHandler(authService)
	guard := auth.NewGuard(authService)
	limiter := auth.NewLoginRateLimiter(cfg.RateLimitPerMin, cfg.RateLimitBurst)
	sweepHandler := maintenance.NewSweepHandler(authService, logger, metrics, cfg.CronSecret, cfg.SweepBatchSize)

	mux := http.NewServeMux()
	authHandler.Routes(mux, cfg.APIPrefix, guard, limiter)
	mux.HandleFunc("GET /internal/maintenance/sweep", sweepHandler.Handle)
	mux.HandleFunc("POST /internal/maintenance/sweep", sweepHandler.Handle)
	mux.HandleFunc("GET /health", healthHandler(authService))
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("/", auth.NotFound)

	handler := observability.RecoverMiddleware(logger, observability.RequestLoggingMiddleware(logger, metrics, mux))

	logger.Info("runtime_ready", map[string]any{
		"store_driver": cfg.StoreDriver,
		"app_env":      cfg.AppEnv,
		"api_prefix":   cfg.APIPrefix,
	})

	return &Runtime{
		Handler: handler,
		Config:  cfg,
		Logger:  logger,
		Close: func() error {
			observability.FlushSentry()
			return closeStore()
		},
	}, nil
}

func openStore(cfg config.Config, logger *observability.Logger) (auth.Store, func() error, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch cfg.StoreDriver {
	case "postgres":
		database, err := sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open database: %w", err)
		}

		database.SetMaxOpenConns(cfg.DBMaxOpenConns)
		database.SetMaxIdleConns(cfg.DBMaxIdleConns)
		database.SetConnMaxLifetime(cfg.DBConnLifetime)

		if err := database.PingContext(ctx); err != nil {
			_ = database.Close()
			return nil, nil, fmt.Errorf("ping database: %w", err)
		}

		if cfg.RunMigrations {
			applied, err := db.RunMigrations(ctx, database)
			if err != nil {
				_ = database.Close()
				return nil, nil, fmt.Errorf("run migrations: %w", err)
			}
			logger.Info("migrations_applied", map[string]any{"versions": applied})
		}
		return auth.NewPostgresStore(database), database.Close, nil

	case "redis":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		return auth.NewRedisStore(rdb, cfg.RedisPrefix), rdb.Close, nil

	case "mongo":
		client, err := mongo.Connect(options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, nil, fmt.Errorf("connect mongo: %w", err)
		}
		disconnect := func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return client.Disconnect(ctx)
		}
		if err := client.Ping(ctx, nil); err != nil {
			_ = disconnect()
			return nil, nil, fmt.Errorf("ping mongo: %w", err)
		}

		store := auth.NewMongoStore(client.Database(cfg.MongoDatabase))
		if err := store.EnsureIndexes(ctx); err != nil {
			_ = disconnect()
			return nil, nil, err
		}
		return store, disconnect, nil

	case "memory":
		logger.Warn("memory_store_in_use", map[string]any{"app_env": cfg.AppEnv})
		return auth.NewMemoryStore(), func() error { return nil }, nil
	}

	return nil, nil, errors.New("unknown store driver: " + cfg.StoreDriver)
}

type pinger interface {
	Ping(ctx context.Context) error
}

func healthHandler(store pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if err := store.Ping(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body = map[string]any{"status": "degraded", "time": time.Now().UTC().Format(time.RFC3339)}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
