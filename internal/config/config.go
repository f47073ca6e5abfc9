package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAppName           = "PaymentWall"
	defaultAppEnv            = "development"
	defaultPort              = "8080"
	defaultLogLevel          = "info"
	defaultShutdownDelay     = 10 * time.Second
	defaultIdempotencyTTL    = 24 * time.Hour
	defaultTransferTimeout   = 5 * time.Second
	defaultMaxRetries        = 3
	defaultRateLimitPerMin   = 60
	defaultReconcileSchedule = "@every 15m"
	defaultKafkaTopic        = "wallet.transfers"
	defaultCurrencies        = "CHF,USD,TRY"
	defaultDBMaxConns        = 20
	defaultDBMinConns        = 2
	defaultDBMaxConnIdle     = 5 * time.Minute
	defaultRedisTimeout      = time.Second
	idemTTLSecondsEnvVar     = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar         = "IDEMPOTENCY_TTL"
	shutdownSecondsEnvVar    = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar   = "SHUTDOWN_TIMEOUT"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName           string
	AppEnv            string
	Port              string
	LogLevel          string
	DatabaseURL       string
	RedisURL          string
	JWTSecret         string
	ShutdownPeriod    time.Duration
	IdempotencyTTL    time.Duration
	TransferTimeout   time.Duration
	MaxRetries        int
	RateLimitPerMin   int
	Currencies        []string
	ReconcileSchedule string
	KafkaBrokers      []string
	KafkaTopic        string
	// DBMaxConns and DBMinConns bound the pgx pool; concurrent transfers each
	// hold a connection per balance write.
	DBMaxConns    int
	DBMinConns    int
	DBMaxConnIdle time.Duration
	// RedisTimeout bounds each Redis read and write; dialing gets twice as long.
	RedisTimeout  time.Duration
	RedisPoolSize int
}

// Load reads configuration values from the environment and populates a Config
// instance. A .env file in the working directory is honoured when present;
// variables already set in the process environment take precedence.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getEnv("APP_NAME", defaultAppName),
		AppEnv:            getEnv("APP_ENV", defaultAppEnv),
		Port:              getEnv("PORT", defaultPort),
		LogLevel:          strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisURL:          os.Getenv("REDIS_URL"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		ShutdownPeriod:    defaultShutdownDelay,
		IdempotencyTTL:    defaultIdempotencyTTL,
		TransferTimeout:   defaultTransferTimeout,
		MaxRetries:        defaultMaxRetries,
		RateLimitPerMin:   defaultRateLimitPerMin,
		Currencies:        splitList(getEnv("SUPPORTED_CURRENCIES", defaultCurrencies)),
		ReconcileSchedule: getEnv("RECONCILE_SCHEDULE", defaultReconcileSchedule),
		KafkaBrokers:      splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:        getEnv("KAFKA_TOPIC", defaultKafkaTopic),
		DBMaxConns:        defaultDBMaxConns,
		DBMinConns:        defaultDBMinConns,
		DBMaxConnIdle:     defaultDBMaxConnIdle,
		RedisTimeout:      defaultRedisTimeout,
	}

	var err error
	if cfg.ShutdownPeriod, err = durationEnv(shutdownSecondsEnvVar, shutdownDurationEnvVar, cfg.ShutdownPeriod); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = durationEnv(idemTTLSecondsEnvVar, idemTTLDurEnvVar, cfg.IdempotencyTTL); err != nil {
		return Config{}, err
	}
	if v := os.Getenv("TRANSFER_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid TRANSFER_TIMEOUT: %w", err)
		}
		cfg.TransferTimeout = d
	}
	if cfg.MaxRetries, err = intEnv("TRANSFER_MAX_RETRIES", cfg.MaxRetries); err != nil {
		return Config{}, err
	}
	if cfg.RateLimitPerMin, err = intEnv("TRANSFER_RATE_LIMIT_PER_MIN", cfg.RateLimitPerMin); err != nil {
		return Config{}, err
	}
	if cfg.DBMaxConns, err = intEnv("DB_MAX_CONNS", cfg.DBMaxConns); err != nil {
		return Config{}, err
	}
	if cfg.DBMinConns, err = intEnv("DB_MIN_CONNS", cfg.DBMinConns); err != nil {
		return Config{}, err
	}
	if cfg.DBMaxConnIdle, err = durationEnv("DB_MAX_CONN_IDLE_SECONDS", "DB_MAX_CONN_IDLE", cfg.DBMaxConnIdle); err != nil {
		return Config{}, err
	}
	if cfg.RedisTimeout, err = durationEnv("REDIS_TIMEOUT_SECONDS", "REDIS_TIMEOUT", cfg.RedisTimeout); err != nil {
		return Config{}, err
	}
	if cfg.RedisPoolSize, err = intEnv("REDIS_POOL_SIZE", cfg.RedisPoolSize); err != nil {
		return Config{}, err
	}

	// Development runs fall back to in-memory stores when no backends are configured.
	if cfg.DatabaseURL == "" && !cfg.IsDevelopment() {
		return Config{}, fmt.Errorf("DATABASE_URL must be set")
	}

	if cfg.RedisURL == "" && !cfg.IsDevelopment() {
		return Config{}, fmt.Errorf("REDIS_URL must be set")
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET must be set")
	}

	if cfg.MaxRetries < 1 {
		return Config{}, fmt.Errorf("TRANSFER_MAX_RETRIES must be at least 1")
	}

	if cfg.DBMaxConns < 1 || cfg.DBMinConns < 0 || cfg.DBMinConns > cfg.DBMaxConns {
		return Config{}, fmt.Errorf("DB_MIN_CONNS must be between 0 and DB_MAX_CONNS (%d)", cfg.DBMaxConns)
	}

	return cfg, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// IsDevelopment reports whether the service runs in the development environment.
func (c Config) IsDevelopment() bool {
	return strings.EqualFold(c.AppEnv, defaultAppEnv)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func durationEnv(secondsKey, durationKey string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(secondsKey); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if v := os.Getenv(durationKey); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", durationKey, err)
		}
		return d, nil
	}
	return fallback, nil
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
