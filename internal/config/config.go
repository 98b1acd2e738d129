package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

const (
	// MinBcryptCost is the lowest work factor accepted from the environment (2^12 rounds).
	MinBcryptCost = 12
	// MinSecretBytes is the shortest accepted JWT signing secret.
	MinSecretBytes = 32
)

var supportedAlgorithms = map[string]bool{
	"HS256": true,
	"HS384": true,
	"HS512": true,
}

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool
	// TrustProxyHeaders is the default for TRUST_PROXY_HEADERS. Only set it
	// when every request passes through a proxy that overwrites
	// X-Forwarded-For.
	TrustProxyHeaders bool
}

// Config is loaded once at startup and passed by value into every component.
type Config struct {
	AppEnv    string
	Port      string
	LogLevel  string
	LogFormat string
	SentryDSN string

	DatabaseURL       string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	DBConnMaxIdleTime time.Duration
	RunMigrations     bool

	JWTSecret       string
	JWTAlgorithm    string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	BcryptCost      int
	HashConcurrency int

	MaxLoginAttempts int
	LockoutDuration  time.Duration

	LoginRateLimitMax    int
	LoginRateLimitWindow time.Duration
	RedisURL             string

	CORSAllowedOrigins []string
	TrustProxyHeaders  bool

	BootstrapEmail    string
	BootstrapPassword string
}

func Load(options Options) (Config, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	databaseURL, err := mustEnv("DATABASE_URL")
	if err != nil {
		return Config{}, err
	}
	jwtSecret, err := mustEnv("JWT_SECRET")
	if err != nil {
		return Config{}, err
	}
	if len(jwtSecret) < MinSecretBytes {
		return Config{}, fmt.Errorf("JWT_SECRET must be at least %d bytes", MinSecretBytes)
	}

	algorithm := strings.ToUpper(envOrDefault("JWT_ALGORITHM", "HS256"))
	if !supportedAlgorithms[algorithm] {
		return Config{}, fmt.Errorf("unsupported JWT_ALGORITHM: %s", algorithm)
	}

	bcryptCost, err := envStrictInt("BCRYPT_ROUNDS", MinBcryptCost)
	if err != nil {
		return Config{}, err
	}
	if bcryptCost < MinBcryptCost || bcryptCost > bcrypt.MaxCost {
		return Config{}, fmt.Errorf("BCRYPT_ROUNDS must be between %d and %d", MinBcryptCost, bcrypt.MaxCost)
	}

	bootstrapEmail := strings.TrimSpace(os.Getenv("BOOTSTRAP_EMAIL"))
	bootstrapPassword := os.Getenv("BOOTSTRAP_PASSWORD")
	if (bootstrapEmail == "") != (bootstrapPassword == "") {
		return Config{}, errors.New("BOOTSTRAP_EMAIL and BOOTSTRAP_PASSWORD are required together")
	}

	return Config{
		AppEnv:    envOrDefault("APP_ENV", "development"),
		Port:      envOrDefault("PORT", "8080"),
		LogLevel:  strings.ToLower(envOrDefault("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(envOrDefault("LOG_FORMAT", "json")),
		SentryDSN: strings.TrimSpace(os.Getenv("SENTRY_DSN")),

		DatabaseURL:       databaseURL,
		DBMaxOpenConns:    envIntOrDefault("DB_MAX_OPEN_CONNS", 10),
		DBMaxIdleConns:    envIntOrDefault("DB_MAX_IDLE_CONNS", 5),
		DBConnMaxLifetime: envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30),
		DBConnMaxIdleTime: envMinutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", 10),
		RunMigrations:     EnvBoolOrDefault("RUN_MIGRATIONS_ON_STARTUP", options.RunMigrations),

		JWTSecret:       jwtSecret,
		JWTAlgorithm:    algorithm,
		AccessTokenTTL:  envMinutesOrDefault("ACCESS_TOKEN_TTL_MINUTES", 30),
		RefreshTokenTTL: envDaysOrDefault("REFRESH_TOKEN_TTL_DAYS", 7),

		BcryptCost:      bcryptCost,
		HashConcurrency: envIntOrDefault("HASH_CONCURRENCY", runtime.NumCPU()),

		MaxLoginAttempts: envIntOrDefault("LOGIN_MAX_ATTEMPTS", 5),
		LockoutDuration:  envMinutesOrDefault("LOGIN_LOCK_MINUTES", 30),

		LoginRateLimitMax:    envIntOrDefault("LOGIN_RATE_LIMIT_MAX", 10),
		LoginRateLimitWindow: envSecondsOrDefault("LOGIN_RATE_LIMIT_WINDOW_SECONDS", 60),
		RedisURL:             strings.TrimSpace(os.Getenv("REDIS_URL")),

		CORSAllowedOrigins: envListOrDefault("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		TrustProxyHeaders:  EnvBoolOrDefault("TRUST_PROXY_HEADERS", options.TrustProxyHeaders),

		BootstrapEmail:    bootstrapEmail,
		BootstrapPassword: bootstrapPassword,
	}, nil
}

// IsProduction reports whether APP_ENV selects production behaviour.
func (c Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func mustEnv(name string) (string, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", fmt.Errorf("missing required env: %s", name)
	}
	return value, nil
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

// envStrictInt is used for security settings, where a typo must stop startup
// instead of silently falling back.
func envStrictInt(name string, fallback int) (int, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return parsed, nil
}

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}

func envDaysOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * 24 * time.Hour
}

func envSecondsOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Second
}

func envListOrDefault(name string, fallback []string) []string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}

	items := make([]string, 0)
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, part)
		}
	}
	if len(items) == 0 {
		return fallback
	}
	return items
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
