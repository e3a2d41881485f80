package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/nmbp/pledge_api/internal/config"
	"github.com/nmbp/pledge_api/internal/metrics"
	"github.com/nmbp/pledge_api/internal/routes"
)

// Server wraps the Fiber application and shared dependencies.
type Server struct {
	app   *fiber.App
	cfg   config.Config
	db    *pgxpool.Pool
	cache *redis.Client
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
// db and cache may be nil in development.
func New(cfg config.Config, db *pgxpool.Pool, cache *redis.Client, logger *slog.Logger) (*Server, error) {
	app := fiber.New(fiber.Config{
		AppName:               cfg.AppName,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
		BodyLimit:             64 * 1024,
		DisableStartupMessage: true,
		ErrorHandler:          ErrorHandler(logger),
	})

	if err := routes.Setup(app, routes.Deps{Cfg: cfg, DB: db, Cache: cache, Logger: logger, Metrics: metrics.New()}); err != nil {
		return nil, err
	}

	return &Server{app: app, cfg: cfg, db: db, cache: cache}, nil
}

// App exposes the Fiber application for in-process tests.
func (s *Server) App() *fiber.App { return s.app }

// Listen starts the HTTP server.
func (s *Server) Listen() error {
	return s.app.Listen(s.cfg.Address())
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// ErrorHandler renders unhandled errors in the service's JSON error shape.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		message := "Internal Server Error"
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code, message = fe.Code, fe.Message
		} else if logger != nil {
			logger.Error("unhandled error", slog.String("path", c.Path()), slog.Any("error", err))
		}
		return c.Status(code).JSON(fiber.Map{
			"error_code":    httpErrorCode(code),
			"error_message": message,
		})
	}
}

func httpErrorCode(status int) string {
	switch {
	case status == fiber.StatusNotFound:
		return "NOT_FOUND"
	case status == fiber.StatusTooManyRequests:
		return "RATE_LIMIT_EXCEEDED"
	case status >= fiber.StatusInternalServerError:
		return "INTERNAL_ERROR"
	default:
		return "BAD_REQUEST"
	}
}
