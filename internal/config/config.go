package config

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv  string
	Port    string
	BaseURL string

	StoreDriver string
	DatabaseURL string
	RedisURL    string

	WebhookSecret      string
	WebhookMaxAttempts int
	WebhookBackoffBase time.Duration
	WebhookTimeout     time.Duration

	PaymentTTL     time.Duration
	OTPRequired    bool
	OTPLength      int
	OTPMaxAttempts int

	CurrencyCode   string
	CurrencySymbol string

	EmailEnabled bool
	SMTPHost     string
	SMTPPort     string
	SMTPUser     string
	SMTPPass     string
	SMTPFrom     string

	CORSAllowedOrigins []string
	CookieSecure       bool
	CookieSameSite     http.SameSite

	RateLimitEnabled bool
	RateLimitMax     int
	RateLimitWindow  time.Duration

	QueueRedisPrefix string
	QueueMaxAttempts int
	QueueVisibility  time.Duration
	LockTTL          time.Duration
	LockRetryBackoff time.Duration
}

const (
	// StoreMemory keeps payments in process memory.
	StoreMemory = "memory"
	// StorePostgres persists payments in PostgreSQL.
	StorePostgres = "postgres"
)

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:  valueOrDefault(k.String("APP_ENV"), "development"),
		Port:    valueOrDefault(k.String("PORT"), "8002"),
		BaseURL: valueOrDefault(k.String("BASE_URL"), "http://localhost:8002"),

		StoreDriver: strings.ToLower(valueOrDefault(k.String("STORE_DRIVER"), StoreMemory)),
		DatabaseURL: k.String("DATABASE_URL"),
		RedisURL:    k.String("REDIS_URL"),

		WebhookSecret:      k.String("WEBHOOK_SECRET"),
		WebhookMaxAttempts: parseInt(k.String("WEBHOOK_MAX_ATTEMPTS"), 3),
		WebhookBackoffBase: parseDuration(k.String("WEBHOOK_BACKOFF_BASE"), "5s"),
		WebhookTimeout:     parseDuration(k.String("WEBHOOK_TIMEOUT"), "10s"),

		PaymentTTL:     parseDuration(k.String("PAYMENT_TTL"), "15m"),
		OTPRequired:    parseBoolDefault(k.String("OTP_REQUIRED"), true),
		OTPLength:      parseInt(k.String("OTP_LENGTH"), 4),
		OTPMaxAttempts: parseInt(k.String("OTP_MAX_ATTEMPTS"), 5),

		CurrencyCode:   valueOrDefault(k.String("CURRENCY_CODE"), "UAH"),
		CurrencySymbol: valueOrDefault(k.String("CURRENCY_SYMBOL"), "₴"),

		EmailEnabled: parseBoolDefault(k.String("EMAIL_ENABLED"), false),
		SMTPHost:     k.String("SMTP_HOST"),
		SMTPPort:     valueOrDefault(k.String("SMTP_PORT"), "465"),
		SMTPUser:     k.String("SMTP_USER"),
		SMTPPass:     k.String("SMTP_PASS"),
		SMTPFrom:     k.String("SMTP_FROM"),

		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		CookieSecure:       parseBoolDefault(k.String("COOKIE_SECURE"), false),
		CookieSameSite:     parseSameSite(k.String("COOKIE_SAMESITE")),

		RateLimitEnabled: parseBoolDefault(k.String("RATE_LIMIT_ENABLED"), false),
		RateLimitMax:     parseInt(k.String("RATE_LIMIT_MAX"), 30),
		RateLimitWindow:  parseDuration(k.String("RATE_LIMIT_WINDOW"), "1m"),

		QueueRedisPrefix: valueOrDefault(k.String("QUEUE_REDIS_PREFIX"), "acquiremock"),
		QueueMaxAttempts: parseInt(k.String("QUEUE_MAX_ATTEMPTS"), 3),
		QueueVisibility:  parseDuration(k.String("QUEUE_VISIBILITY_TIMEOUT"), "30s"),
		LockTTL:          parseDuration(k.String("LOCK_TTL"), "30s"),
		LockRetryBackoff: parseDuration(k.String("LOCK_RETRY_BACKOFF"), "50ms"),
	}

	if cfg.CookieSameSite == http.SameSiteDefaultMode {
		cfg.CookieSameSite = http.SameSiteLaxMode
	}
	if cfg.OTPLength < 4 {
		cfg.OTPLength = 4
	}
	if cfg.OTPLength > 6 {
		cfg.OTPLength = 6
	}

	if cfg.WebhookSecret == "" {
		return nil, errors.New("WEBHOOK_SECRET is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	switch cfg.StoreDriver {
	case StoreMemory:
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	default:
		return nil, fmt.Errorf("unsupported STORE_DRIVER: %s", cfg.StoreDriver)
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8002"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// CheckoutURL builds the hosted checkout page URL for a payment.
func (c *Config) CheckoutURL(paymentID string) string {
	return strings.TrimRight(c.BaseURL, "/") + "/checkout/" + paymentID
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	n, err := strconv.Atoi(trimmed)
	if err != nil {
		return fallback
	}
	return n
}

func parseBoolDefault(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func parseSameSite(value string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	case "lax":
		return http.SameSiteLaxMode
	default:
		return http.SameSiteDefaultMode
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
