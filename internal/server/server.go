package server

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/congo-pay/paymentwall/internal/config"
	"github.com/congo-pay/paymentwall/internal/metrics"
	"github.com/congo-pay/paymentwall/internal/notification"
	"github.com/congo-pay/paymentwall/internal/routes"
)

// Server wraps the Fiber application and shared dependencies.
type Server struct {
	app        *fiber.App
	cfg        config.Config
	components routes.Components
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
func New(cfg config.Config, db *pgxpool.Pool, cache *redis.Client, events notification.MessageWriter, logger *logrus.Logger) (*Server, error) {
	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		ErrorHandler: errorHandler(logger),
	})

	components, err := routes.Setup(app, routes.Deps{
		Cfg:     cfg,
		DB:      db,
		Cache:   cache,
		Logger:  logger,
		Metrics: metrics.New(),
		Events:  events,
	})
	if err != nil {
		return nil, err
	}

	return &Server{app: app, cfg: cfg, components: components}, nil
}

// Components returns the stores and jobs wired behind the routes.
func (s *Server) Components() routes.Components {
	return s.components
}

// Listen starts the HTTP server.
func (s *Server) Listen() error {
	return s.app.Listen(s.cfg.Address())
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// errorHandler renders handler errors as {"error": {"message": ...}} and
// hides the detail of unexpected failures.
func errorHandler(logger *logrus.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		message := "internal server error"
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
			message = fe.Message
		} else {
			logger.WithError(err).WithField("path", c.Path()).Error("http.unhandled_error")
		}
		return c.Status(code).JSON(fiber.Map{"error": fiber.Map{"message": message}})
	}
}
