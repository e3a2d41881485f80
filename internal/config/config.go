package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAppName        = "PledgeAPI"
	defaultAppEnv         = "development"
	defaultPort           = "8080"
	defaultLogLevel       = "info"
	defaultShutdownDelay  = 10 * time.Second
	defaultIdempotencyTTL = 24 * time.Hour
	defaultOTPTTL         = 180 * time.Second
	defaultOTPMaxResends  = 3
	defaultOTPMaxAttempts = 3
	defaultOTPHashCost    = 10
	defaultSMSProvider    = "log"
	defaultSMSTimeout     = 10 * time.Second
	defaultSMSModuleName  = "Pledge Registration"
	defaultSNSRegion      = "ap-south-1"
	defaultCountryCode    = "+91"
	defaultRiskyChars     = "=,-,@,|"
	defaultStatsCacheTTL  = 15 * time.Minute
)

// SMS delivery providers.
const (
	SMSProviderLog     = "log"
	SMSProviderGateway = "gateway"
	SMSProviderSNS     = "sns"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	DBAutoMigrate  bool
	AllowedOrigins string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration
	StatsCacheTTL  time.Duration
	RiskyChars     []string
	OTP            OTPConfig
	SMS            SMSConfig
}

// OTPConfig tunes the registration session.
type OTPConfig struct {
	TTL         time.Duration
	MaxResends  int
	MaxAttempts int
	HashCost    int
}

// SMSConfig selects and configures the OTP delivery channel.
type SMSConfig struct {
	Provider    string
	GatewayURL  string
	Username    string
	Password    string
	SenderID    string
	TemplateID  string
	EntityID    string
	Key         string
	Timeout     time.Duration
	ModuleName  string
	Template    string
	SNSRegion   string
	CountryCode string
}

// Load reads configuration values from the environment and populates a Config
// instance. A .env file in the working directory is loaded first when present;
// real environment variables take precedence.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		AppName:        getEnv("APP_NAME", defaultAppName),
		AppEnv:         getEnv("APP_ENV", defaultAppEnv),
		Port:           getEnv("PORT", defaultPort),
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		AllowedOrigins: getEnv("ALLOWED_ORIGINS", "*"),
		RiskyChars:     splitList(getEnv("RISKY_CHARS", defaultRiskyChars)),
		SMS: SMSConfig{
			Provider:    strings.ToLower(getEnv("SMS_PROVIDER", defaultSMSProvider)),
			GatewayURL:  os.Getenv("SMS_GATEWAY_URL"),
			Username:    os.Getenv("SMS_USERNAME"),
			Password:    os.Getenv("SMS_PASSWORD"),
			SenderID:    os.Getenv("SMS_SENDER_ID"),
			TemplateID:  os.Getenv("SMS_TEMPLATE_ID"),
			EntityID:    os.Getenv("DLT_ENTITY_ID"),
			Key:         os.Getenv("SMS_KEY"),
			ModuleName:  getEnv("SMS_MODULE_NAME", defaultSMSModuleName),
			Template:    os.Getenv("SMS_OTP_TEMPLATE"),
			SNSRegion:   getEnv("SNS_REGION", defaultSNSRegion),
			CountryCode: getEnv("SMS_COUNTRY_CODE", defaultCountryCode),
		},
	}

	var err error
	if cfg.ShutdownPeriod, err = durationEnv("SHUTDOWN_TIMEOUT", defaultShutdownDelay); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = durationEnv("IDEMPOTENCY_TTL", defaultIdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.StatsCacheTTL, err = durationEnv("STATS_CACHE_TTL", defaultStatsCacheTTL); err != nil {
		return Config{}, err
	}
	if cfg.OTP.TTL, err = durationEnv("OTP_TTL", defaultOTPTTL); err != nil {
		return Config{}, err
	}
	if cfg.SMS.Timeout, err = durationEnv("SMS_TIMEOUT", defaultSMSTimeout); err != nil {
		return Config{}, err
	}
	if cfg.OTP.MaxResends, err = intEnv("OTP_MAX_RESENDS", defaultOTPMaxResends); err != nil {
		return Config{}, err
	}
	if cfg.OTP.MaxAttempts, err = intEnv("OTP_MAX_ATTEMPTS", defaultOTPMaxAttempts); err != nil {
		return Config{}, err
	}
	if cfg.OTP.HashCost, err = intEnv("OTP_HASH_COST", defaultOTPHashCost); err != nil {
		return Config{}, err
	}
	if cfg.DBAutoMigrate, err = boolEnv("DB_AUTO_MIGRATE", cfg.IsDev()); err != nil {
		return Config{}, err
	}

	switch cfg.SMS.Provider {
	case SMSProviderLog, SMSProviderSNS:
	case SMSProviderGateway:
		if cfg.SMS.GatewayURL == "" {
			return Config{}, fmt.Errorf("SMS_GATEWAY_URL must be set when SMS_PROVIDER=%s", SMSProviderGateway)
		}
	default:
		return Config{}, fmt.Errorf("invalid SMS_PROVIDER %q", cfg.SMS.Provider)
	}

	if cfg.OTP.TTL <= 0 || cfg.OTP.MaxResends <= 0 || cfg.OTP.MaxAttempts <= 0 {
		return Config{}, fmt.Errorf("OTP_TTL, OTP_MAX_RESENDS and OTP_MAX_ATTEMPTS must be positive")
	}

	if !cfg.IsDev() {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set")
		}
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set")
		}
	}

	return cfg, nil
}

// IsDev reports whether the service runs in a development environment where
// in-memory backends are acceptable.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// IsProduction reports whether debug-only endpoints must be hidden.
func (c Config) IsProduction() bool {
	switch strings.ToLower(c.AppEnv) {
	case "prod", "production":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// durationEnv reads KEY_SECONDS as whole seconds, then KEY as a Go duration.
func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(key + "_SECONDS"); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s_SECONDS: %w", key, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", key, err)
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

func boolEnv(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
