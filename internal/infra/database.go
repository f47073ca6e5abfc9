package infra

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/congo-pay/paymentwall/internal/config"
)

const healthCheckPeriod = 30 * time.Second

// PoolOptions sizes the pgx pool behind the wallet, ledger and policy stores.
type PoolOptions struct {
	URL             string
	ApplicationName string
	MaxConns        int32
	MinConns        int32
	MaxConnIdleTime time.Duration
}

// PoolOptionsFrom reads pool settings from the service configuration.
func PoolOptionsFrom(cfg config.Config) PoolOptions {
	return PoolOptions{
		URL:             cfg.DatabaseURL,
		ApplicationName: cfg.AppName,
		MaxConns:        int32(cfg.DBMaxConns),
		MinConns:        int32(cfg.DBMinConns),
		MaxConnIdleTime: cfg.DBMaxConnIdle,
	}
}

func (o PoolOptions) poolConfig() (*pgxpool.Config, error) {
	if o.URL == "" {
		return nil, fmt.Errorf("database url is required")
	}
	cfg, err := pgxpool.ParseConfig(o.URL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if o.MaxConns > 0 {
		cfg.MaxConns = o.MaxConns
	}
	if o.MinConns > 0 && o.MinConns <= cfg.MaxConns {
		cfg.MinConns = o.MinConns
	}
	if o.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = o.MaxConnIdleTime
	}
	cfg.HealthCheckPeriod = healthCheckPeriod
	if o.ApplicationName != "" {
		cfg.ConnConfig.RuntimeParams["application_name"] = o.ApplicationName
	}
	return cfg, nil
}

// NewPostgresPool opens the pool described by opts and verifies connectivity.
func NewPostgresPool(ctx context.Context, opts PoolOptions) (*pgxpool.Pool, error) {
	cfg, err := opts.poolConfig()
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}
