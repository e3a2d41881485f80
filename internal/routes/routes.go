package routes

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/nmbp/pledge_api/internal/config"
	"github.com/nmbp/pledge_api/internal/metrics"
	"github.com/nmbp/pledge_api/internal/middleware"
	"github.com/nmbp/pledge_api/internal/notification"
	"github.com/nmbp/pledge_api/internal/registration"
	"github.com/nmbp/pledge_api/internal/session"
	"github.com/nmbp/pledge_api/internal/stats"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg       config.Config
	DB        *pgxpool.Pool
	Cache     *redis.Client
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Notifier  notification.Notifier
	// AccessLog receives the plain text access log. Defaults to stdout.
	AccessLog io.Writer
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}
	if d.AccessLog == nil {
		d.AccessLog = os.Stdout
	}

	// A nil *redis.Client must not become a non-nil interface.
	var cache redis.UniversalClient
	if d.Cache != nil {
		cache = d.Cache
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	// Plain text access log: [HH:MM:SS] 200 -  145ms METHOD /path
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
		Output:     d.AccessLog,
	}))
	app.Use(middleware.Audit(d.Logger, "/healthz", "/metrics"))
	app.Use(d.Metrics.Middleware())
	app.Use(cors.New(cors.Config{
		AllowOrigins: d.Cfg.AllowedOrigins,
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Content-Type,X-Request-ID,Idempotency-Key",
	}))
	if cache != nil {
		app.Use(middleware.Idempotency(cache, d.Cfg.IdempotencyTTL, d.Logger))
	}

	RegisterHealthRoutes(app, d)
	app.Get("/metrics", d.Metrics.Handler())

	var store session.Store
	if cache != nil {
		store = session.NewRedisStore(cache)
	} else {
		d.Logger.Warn("redis not configured, using in-memory session store")
		store = session.NewMemoryStore()
	}

	var users registration.UserRepository
	if d.DB != nil {
		repo := registration.NewPostgresRepository(d.DB)
		if d.Cfg.DBAutoMigrate {
			if err := repo.EnsureSchema(context.Background()); err != nil {
				return err
			}
		}
		users = repo
	} else {
		d.Logger.Warn("database not configured, using in-memory pledge user store")
		users = registration.NewMemoryRepository()
	}

	notifier := d.Notifier
	if notifier == nil {
		var err error
		if notifier, err = NewNotifier(context.Background(), d.Cfg, d.Logger); err != nil {
			return err
		}
	}

	manager := registration.NewManager(store, users, notifier, registration.Options{
		TTL:         d.Cfg.OTP.TTL,
		MaxResends:  d.Cfg.OTP.MaxResends,
		MaxAttempts: d.Cfg.OTP.MaxAttempts,
		HashCost:    d.Cfg.OTP.HashCost,
		Template:    notification.OTPTemplate{Body: d.Cfg.SMS.Template, Module: d.Cfg.SMS.ModuleName},
		Validator:   registration.NewValidator(d.Cfg.RiskyChars),
		Observer:    d.Metrics,
		Logger:      d.Logger,
	})
	statsSvc := stats.NewService(store, users, d.Cfg.StatsCacheTTL, d.Logger)

	api := app.Group("/api/v1/user")
	RegisterServiceHealthRoute(api)
	RegisterRegistrationRoutes(api, registration.NewHandler(manager, d.Logger), cache, d)
	RegisterStatsRoutes(api, statsSvc, d.Logger)

	return nil
}

// NewNotifier builds the OTP delivery channel selected by SMS_PROVIDER.
func NewNotifier(ctx context.Context, cfg config.Config, log *slog.Logger) (notification.Notifier, error) {
	switch cfg.SMS.Provider {
	case config.SMSProviderGateway:
		return notification.NewGatewayNotifier(notification.GatewayConfig{
			URL:        cfg.SMS.GatewayURL,
			Username:   cfg.SMS.Username,
			Password:   cfg.SMS.Password,
			SenderID:   cfg.SMS.SenderID,
			TemplateID: cfg.SMS.TemplateID,
			EntityID:   cfg.SMS.EntityID,
			Key:        cfg.SMS.Key,
			Timeout:    cfg.SMS.Timeout,
		}, log), nil
	case config.SMSProviderSNS:
		n, err := notification.NewSNSNotifier(ctx, cfg.SMS.SNSRegion, cfg.SMS.CountryCode, cfg.SMS.SenderID)
		if err != nil {
			return nil, fmt.Errorf("build sns notifier: %w", err)
		}
		return n, nil
	default:
		return notification.NewLoggerNotifier(log), nil
	}
}
