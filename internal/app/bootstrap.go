package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"todo-auth/internal/auth"
	"todo-auth/internal/config"
	"todo-auth/internal/db"
	"todo-auth/internal/observability"
)

const startupTimeout = 10 * time.Second

type Runtime struct {
	Handler http.Handler
	Config  config.Config
	Logger  *zap.Logger
	Close   func() error
}

func Build(options config.Options) (*Runtime, error) {
	cfg, err := config.Load(options)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := observability.NewLogger(cfg.AppEnv, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}

	if err := observability.InitSentry(cfg.SentryDSN, cfg.AppEnv); err != nil {
		logger.Error("init_sentry_failed", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	database, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if cfg.RunMigrations {
		if err := db.RunMigrations(database); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		logger.Info("migrations_applied")
	}

	hasher, err := auth.NewHasher(cfg.BcryptCost, cfg.HashConcurrency, logger.Named("hasher"))
	if err != nil {
		_ = database.Close()
		return nil, err
	}

	tokens, err := auth.NewTokenIssuer(auth.TokenConfig{
		Secret:     []byte(cfg.JWTSecret),
		Algorithm:  cfg.JWTAlgorithm,
		AccessTTL:  cfg.AccessTokenTTL,
		RefreshTTL: cfg.RefreshTokenTTL,
	}, logger.Named("tokens"))
	if err != nil {
		_ = database.Close()
		return nil, err
	}

	authService, err := auth.NewService(
		auth.NewRepository(database),
		hasher,
		tokens,
		auth.LockoutPolicy{MaxAttempts: cfg.MaxLoginAttempts, Duration: cfg.LockoutDuration},
		logger.Named("auth"),
	)
	if err != nil {
		_ = database.Close()
		return nil, err
	}

	if err := authService.BootstrapFromEnv(ctx, cfg.BootstrapEmail, cfg.BootstrapPassword); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("bootstrap account: %w", err)
	}

	backend, redisClient, err := newRateLimitBackend(ctx, cfg)
	if err != nil {
		_ = database.Close()
		return nil, err
	}

	handler := NewRouter(RouterDeps{
		Auth:           auth.NewHandler(authService, logger.Named("http")),
		Verifier:       authService,
		LoginLimiter:   auth.NewLoginRateLimiter(backend, logger.Named("ratelimit")),
		Database:       database,
		AllowedOrigins:    cfg.CORSAllowedOrigins,
		Logger:            logger,
		TrustProxyHeaders: cfg.TrustProxyHeaders,
	})

	return &Runtime{
		Handler: handler,
		Config:  cfg,
		Logger:  logger,
		Close: func() error {
			observability.FlushSentry()
			var errs []error
			if redisClient != nil {
				errs = append(errs, redisClient.Close())
			}
			errs = append(errs, database.Close())
			_ = logger.Sync()
			return errors.Join(errs...)
		},
	}, nil
}

func openDatabase(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	database, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(cfg.DBMaxOpenConns)
	database.SetMaxIdleConns(cfg.DBMaxIdleConns)
	database.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	database.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	if err := database.PingContext(ctx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return database, nil
}

// newRateLimitBackend picks redis when REDIS_URL is set so every instance
// shares one counter; otherwise each process keeps its own.
func newRateLimitBackend(ctx context.Context, cfg config.Config) (auth.RateLimitBackend, *redis.Client, error) {
	if cfg.RedisURL == "" {
		return auth.NewMemoryRateLimitBackend(cfg.LoginRateLimitMax, cfg.LoginRateLimitWindow), nil, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}

	return auth.NewRedisRateLimitBackend(client, cfg.LoginRateLimitMax, cfg.LoginRateLimitWindow), client, nil
}
