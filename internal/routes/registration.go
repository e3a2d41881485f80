package routes

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/nmbp/pledge_api/internal/middleware"
	"github.com/nmbp/pledge_api/internal/registration"
)

// RegisterRegistrationRoutes wires the OTP registration flow with per-endpoint rate limits.
func RegisterRegistrationRoutes(r fiber.Router, h *registration.Handler, cache redis.UniversalClient, d Deps) {
	requestLimit := middleware.RateLimit(cache, middleware.RateLimitConfig{
		Name:    "otp_request",
		Max:     5,
		Window:  15 * time.Minute,
		Message: "Too many OTP requests from this IP/mobile. Please try again after 15 minutes.",
		KeyFunc: middleware.BodyFieldKey("mobile_number", true),
		OnLimit: d.Metrics.RateLimited,
		Logger:  d.Logger,
	})
	resendLimit := middleware.RateLimit(cache, middleware.RateLimitConfig{
		Name:    "otp_resend",
		Max:     3,
		Window:  10 * time.Minute,
		Message: "Too many OTP resend requests. Please try again after 10 minutes.",
		KeyFunc: middleware.BodyFieldKey("txn_id", false),
		OnLimit: d.Metrics.RateLimited,
		Logger:  d.Logger,
	})
	verifyLimit := middleware.RateLimit(cache, middleware.RateLimitConfig{
		Name:    "otp_verify",
		Max:     10,
		Window:  5 * time.Minute,
		Message: "Too many OTP verification attempts. Please try again after 5 minutes.",
		KeyFunc: middleware.BodyFieldKey("txn_id", false),
		OnLimit: d.Metrics.RateLimited,
		Logger:  d.Logger,
	})

	group := r.Group("/registration")
	group.Post("/otp", requestLimit, h.RequestOTP)
	group.Post("/otp/resend", resendLimit, h.ResendOTP)
	group.Post("/otp/verify", verifyLimit, h.VerifyOTP)
	if !d.Cfg.IsProduction() {
		group.Get("/:txnId", h.Inspect)
	}
}
