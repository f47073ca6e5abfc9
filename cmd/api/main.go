package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/paymentwall/internal/config"
	"github.com/congo-pay/paymentwall/internal/infra"
	"github.com/congo-pay/paymentwall/internal/logging"
	"github.com/congo-pay/paymentwall/internal/notification"
	"github.com/congo-pay/paymentwall/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel)

	ctx := context.Background()

	var db *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		db, err = infra.NewPostgresPool(ctx, infra.PoolOptionsFrom(cfg))
		if err != nil {
			logger.WithError(err).Fatal("connect postgres")
		}
		defer db.Close()

		if err := infra.Migrate(ctx, db); err != nil {
			logger.WithError(err).Fatal("migrate schema")
		}
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory stores")
	}

	var cache *redis.Client
	if cfg.RedisURL != "" {
		cache, err = infra.NewRedisClient(ctx, infra.RedisOptionsFrom(cfg))
		if err != nil {
			logger.WithError(err).Fatal("connect redis")
		}
		defer func() {
			if err := cache.Close(); err != nil {
				logger.WithError(err).Warn("close redis")
			}
		}()
	} else {
		var stop func()
		cache, stop, err = infra.NewEmbeddedRedis(ctx)
		if err != nil {
			logger.WithError(err).Fatal("start embedded redis")
		}
		defer stop()
		logger.Warn("REDIS_URL not set, using embedded redis")
	}

	var events notification.MessageWriter
	if len(cfg.KafkaBrokers) > 0 {
		writer, err := infra.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		if err != nil {
			logger.WithError(err).Fatal("configure kafka")
		}
		defer func() {
			if err := writer.Close(); err != nil {
				logger.WithError(err).Warn("close kafka writer")
			}
		}()
		events = writer
	}

	srv, err := server.New(cfg, db, cache, events, logger)
	if err != nil {
		logger.WithError(err).Fatal("build server")
	}

	scheduler, err := srv.Components().Reconciler.Schedule(cfg.ReconcileSchedule)
	if err != nil {
		logger.WithError(err).Fatal("schedule reconciliation")
	}
	defer scheduler.Stop()

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.WithField("signal", sig.String()).Info("shutdown signal received")
	case err := <-srvErrCh:
		if err != nil {
			logger.WithError(err).Error("server error")
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown error")
		os.Exit(1)
	}

	logger.Info("server exited cleanly")
}
