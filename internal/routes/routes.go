package routes

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/congo-pay/paymentwall/internal/auth"
	"github.com/congo-pay/paymentwall/internal/config"
	"github.com/congo-pay/paymentwall/internal/currency"
	"github.com/congo-pay/paymentwall/internal/ledger"
	"github.com/congo-pay/paymentwall/internal/limits"
	"github.com/congo-pay/paymentwall/internal/metrics"
	"github.com/congo-pay/paymentwall/internal/middleware"
	"github.com/congo-pay/paymentwall/internal/notification"
	"github.com/congo-pay/paymentwall/internal/reconcile"
	"github.com/congo-pay/paymentwall/internal/transfer"
	"github.com/congo-pay/paymentwall/internal/wallet"
)

// claimTTL bounds how long a crashed instance can hold a transfer id.
const claimTTL = time.Minute

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg     config.Config
	DB      *pgxpool.Pool
	Cache   *redis.Client
	Logger  *logrus.Logger
	Metrics *metrics.Registry
	// Events receives transfer events for Kafka when brokers are configured.
	Events notification.MessageWriter
}

// Components exposes what background jobs share with the HTTP routes.
type Components struct {
	Wallets    wallet.Store
	Ledger     ledger.Recorder
	Limits     limits.Store
	Reconciler *reconcile.Reconciler
}

// Backends selects Postgres stores when a pool is present and in-memory
// stores otherwise.
func Backends(db *pgxpool.Pool) (wallet.Store, ledger.Recorder, limits.Store) {
	if db != nil {
		return wallet.NewPostgresStore(db), ledger.NewPostgresLedger(db), limits.NewPostgresStore(db)
	}
	return wallet.NewMemoryStore(), ledger.NewInMemory(), limits.NewMemoryStore()
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) (Components, error) {
	if !d.Cfg.IsDevelopment() {
		if d.DB == nil {
			return Components{}, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return Components{}, fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}
	if d.Logger == nil {
		d.Logger = logrus.StandardLogger()
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	if d.Cfg.IsDevelopment() {
		// Plain text access log in desired format: [HH:MM:SS] 200 -  145ms METHOD /path
		app.Use(logger.New(logger.Config{
			Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
			TimeFormat: "15:04:05",
			TimeZone:   "Local",
		}))
	}
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)
	app.Get("/metrics", d.Metrics.Handler())

	wallets, entries, policies := Backends(d.DB)
	currencies := currency.NewDirectory(d.Cfg.Currencies)

	var claims transfer.ClaimStore = transfer.NewMemoryClaims()
	if d.Cache != nil {
		claims = transfer.NewRedisClaims(d.Cache, claimTTL)
	}

	coordinator := transfer.NewCoordinator(wallets, entries, limits.NewEngine(policies, entries), currencies, transfer.Options{
		MaxRetries: d.Cfg.MaxRetries,
		Timeout:    d.Cfg.TransferTimeout,
		Logger:     d.Logger,
		Notifier:   notifierFor(d),
		Metrics:    d.Metrics,
		Claims:     claims,
	})
	walletSvc := wallet.NewService(wallets, entries, currencies, d.Logger)
	tokens := auth.NewTokens(d.Cfg.JWTSecret, d.Cfg.AppName)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID := middleware.RequestIDFromContext(c.UserContext())
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	protected := api.Group("", middleware.JWTAuth(tokens))
	if d.Cache != nil {
		protected.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}
	RegisterWalletRoutes(protected, wallet.NewHandler(walletSvc))
	RegisterTransferRoutes(protected, transfer.NewHandler(coordinator),
		middleware.TransferRateLimit(d.Cache, d.Cfg.RateLimitPerMin, d.Logger))

	return Components{
		Wallets: wallets,
		Ledger:  entries,
		Limits:  policies,
		Reconciler: reconcile.New(wallets, entries, reconcile.Options{
			Logger: d.Logger,
			Sink:   d.Metrics,
		}),
	}, nil
}

// notifierFor fans transfer events out to the log, Redis pub/sub and Kafka,
// whichever are available.
func notifierFor(d Deps) notification.Notifier {
	targets := notification.Multi{notification.NewLoggerNotifier(d.Logger)}
	if d.Cache != nil {
		targets = append(targets, notification.NewRedisPublisher(d.Cache))
	}
	if d.Events != nil {
		targets = append(targets, notification.NewKafkaNotifier(d.Events))
	}
	return targets
}
