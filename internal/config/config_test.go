package config

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func baseEnv() map[string]string {
	return map[string]string{
		"WEBHOOK_SECRET": "secret",
		"REDIS_URL":      "redis://localhost:6379/0",
		"STORE_DRIVER":   "",
		"DATABASE_URL":   "",
		"OTP_LENGTH":     "",
		"PAYMENT_TTL":    "",
		"BASE_URL":       "",
		"PORT":           "",
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadForTests(baseEnv())
	require.NoError(t, err)

	require.Equal(t, StoreMemory, cfg.StoreDriver)
	require.Equal(t, ":8002", cfg.HTTPAddr())
	require.Equal(t, "15m0s", cfg.PaymentTTL.String())
	require.True(t, cfg.OTPRequired)
	require.Equal(t, 4, cfg.OTPLength)
	require.Equal(t, 5, cfg.OTPMaxAttempts)
	require.Equal(t, 3, cfg.WebhookMaxAttempts)
	require.Equal(t, http.SameSiteLaxMode, cfg.CookieSameSite)
	require.Equal(t, "acquiremock", cfg.QueueRedisPrefix)
}

func TestLoadRequiresWebhookSecret(t *testing.T) {
	env := baseEnv()
	env["WEBHOOK_SECRET"] = ""
	_, err := LoadForTests(env)
	require.ErrorContains(t, err, "WEBHOOK_SECRET")
}

func TestLoadRequiresRedisURL(t *testing.T) {
	env := baseEnv()
	env["REDIS_URL"] = ""
	_, err := LoadForTests(env)
	require.ErrorContains(t, err, "REDIS_URL")
}

func TestLoadPostgresRequiresDatabaseURL(t *testing.T) {
	env := baseEnv()
	env["STORE_DRIVER"] = "postgres"
	_, err := LoadForTests(env)
	require.ErrorContains(t, err, "DATABASE_URL")

	env["DATABASE_URL"] = "postgres://localhost:5432/acquiremock"
	cfg, err := LoadForTests(env)
	require.NoError(t, err)
	require.Equal(t, StorePostgres, cfg.StoreDriver)
}

func TestLoadRejectsUnknownStoreDriver(t *testing.T) {
	env := baseEnv()
	env["STORE_DRIVER"] = "cassandra"
	_, err := LoadForTests(env)
	require.ErrorContains(t, err, "STORE_DRIVER")
}

func TestLoadClampsOTPLength(t *testing.T) {
	env := baseEnv()
	env["OTP_LENGTH"] = "2"
	cfg, err := LoadForTests(env)
	require.NoError(t, err)
	require.Equal(t, 4, cfg.OTPLength)

	env["OTP_LENGTH"] = "9"
	cfg, err = LoadForTests(env)
	require.NoError(t, err)
	require.Equal(t, 6, cfg.OTPLength)
}

func TestCheckoutURL(t *testing.T) {
	env := baseEnv()
	env["BASE_URL"] = "https://pay.example.com/"
	cfg, err := LoadForTests(env)
	require.NoError(t, err)
	require.Equal(t, "https://pay.example.com/checkout/pay-1", cfg.CheckoutURL("pay-1"))
}
