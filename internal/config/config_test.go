package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/bookings?sslmode=disable")
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("ESEWA_SECRET_KEY", "8gBm/:&EnhH.1/q")
}

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		setRequiredEnv(t)

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "8080", cfg.Server.Port)
		assert.Equal(t, "NPR", cfg.Booking.Currency)
		assert.Equal(t, "EPAYTEST", cfg.Payment.Esewa.ProductCode)
		assert.Equal(t, 10*time.Second, cfg.Payment.HTTPTimeout)
		assert.Empty(t, cfg.Booking.ReconcileSchedule, "scheduled reconciliation is opt-in")
		assert.False(t, cfg.Redis.Enabled)
		assert.False(t, cfg.RabbitMQ.Enabled)
		assert.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
	})

	t.Run("overrides", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("PUBLIC_BASE_URL", "https://api.example.com/")
		t.Setenv("PAYMENT_HTTP_TIMEOUT", "3")
		t.Setenv("RECONCILE_STALE_AFTER", "2m")
		t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com ,")
		t.Setenv("REDIS_ENABLED", "true")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "https://api.example.com", cfg.Server.PublicBaseURL)
		assert.Equal(t, 3*time.Second, cfg.Payment.HTTPTimeout)
		assert.Equal(t, 2*time.Minute, cfg.Booking.StaleAfter)
		assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.CORS.AllowedOrigins)
		assert.True(t, cfg.Redis.Enabled)
	})

	t.Run("missing database url", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("DATABASE_URL", "")

		_, err := Load()
		assert.ErrorContains(t, err, "DATABASE_URL")
	})

	t.Run("no gateway configured", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("ESEWA_SECRET_KEY", "")
		t.Setenv("KHALTI_SECRET_KEY", "")

		_, err := Load()
		assert.ErrorContains(t, err, "ESEWA_SECRET_KEY")
	})

	t.Run("production requires https callback base", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("ENVIRONMENT", "production")
		t.Setenv("PUBLIC_BASE_URL", "http://api.example.com")

		_, err := Load()
		assert.ErrorContains(t, err, "https")
	})
}

func TestGetEnvAsDuration(t *testing.T) {
	t.Setenv("X_DURATION", "not-a-duration")
	assert.Equal(t, time.Minute, getEnvAsDuration("X_DURATION", time.Minute))

	t.Setenv("X_DURATION", "45")
	assert.Equal(t, 45*time.Second, getEnvAsDuration("X_DURATION", time.Minute))
}
