// Package app wires configuration into the booking engine's components.
// Both the HTTP server and the reconcile command build on it.
package app

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yatra/booking-backend/internal/config"
	"github.com/yatra/booking-backend/internal/database"
	"github.com/yatra/booking-backend/internal/events"
	"github.com/yatra/booking-backend/internal/lock"
	"github.com/yatra/booking-backend/internal/metrics"
	"github.com/yatra/booking-backend/internal/services"
	"github.com/yatra/booking-backend/internal/tracing"
	"github.com/yatra/booking-backend/pkg/payment"
)

// Components holds everything the entrypoints need
type Components struct {
	DB             *database.PostgresDB
	Bookings       *database.BookingRepository
	Inventory      *database.TripInventoryRepository
	Audits         *database.PaymentAuditRepository
	Gateways       *payment.Registry
	Metrics        *metrics.Recorder
	Orchestrator   *services.BookingOrchestratorService
	Reconciliation *services.ReconciliationService

	closers []func(context.Context) error
}

// Build connects to the database and optional infrastructure (Redis,
// RabbitMQ, Jaeger) and constructs the services. Optional infrastructure
// that is unreachable is logged and replaced by its in-process fallback.
func Build(cfg *config.Config, logger *logrus.Logger) (*Components, error) {
	c := &Components{Metrics: metrics.NewRecorder()}

	if cfg.Tracing.Enabled {
		shutdown, err := tracing.InitTracerProvider(cfg.Tracing.ServiceName, cfg.Tracing.JaegerEndpoint, logger)
		if err != nil {
			logger.WithError(err).Warn("Tracing disabled: failed to create Jaeger exporter")
		} else {
			c.closers = append(c.closers, shutdown)
		}
	}

	logger.Info("Connecting to database...")
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		return nil, err
	}
	c.DB = db
	c.closers = append(c.closers, func(context.Context) error { return db.Close() })
	logger.Info("Database connection established")

	c.Bookings = database.NewBookingRepository(db.DB)
	c.Inventory = database.NewTripInventoryRepository(db.DB)
	c.Audits = database.NewPaymentAuditRepository(db.DB, logger)

	c.Gateways = newRegistry(cfg, c.Metrics, logger)

	var locker lock.Locker
	if cfg.Redis.Enabled {
		if client := lock.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB); client != nil {
			locker = lock.NewRedisLocker(client, "booking:verify:")
			c.closers = append(c.closers, func(context.Context) error { return client.Close() })
			logger.WithField("addr", cfg.Redis.Addr).Info("✓ Redis verify lock enabled")
		} else {
			logger.WithField("addr", cfg.Redis.Addr).Warn("Redis unreachable, verify lock is process-local")
		}
	}

	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.RabbitMQ.Enabled {
		p, err := events.NewRabbitMQPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, logger)
		if err != nil {
			logger.WithError(err).Warn("RabbitMQ unavailable, booking events will not be published")
		} else {
			publisher = p
			c.closers = append(c.closers, func(context.Context) error { return p.Close() })
			logger.WithField("exchange", cfg.RabbitMQ.Exchange).Info("✓ Booking events publisher connected")
		}
	}

	orchestratorCfg := services.DefaultOrchestratorConfig()
	orchestratorCfg.Currency = cfg.Booking.Currency
	orchestratorCfg.CallbackBaseURL = cfg.Server.PublicBaseURL + "/api/v1/payments/callback"
	orchestratorCfg.VerifyLockTTL = cfg.Booking.VerifyLockTTL
	orchestratorCfg.VerifyLockWait = cfg.Booking.VerifyLockWait

	c.Orchestrator = services.NewBookingOrchestratorService(
		c.Inventory,
		c.Bookings,
		c.Audits,
		c.Gateways,
		publisher,
		locker,
		c.Metrics,
		orchestratorCfg,
		logger,
	)

	c.Reconciliation = services.NewReconciliationService(
		c.Bookings,
		c.Orchestrator,
		cfg.Booking.StaleAfter,
		cfg.Booking.ReconcileBatchSize,
		cfg.Booking.ReconcileConcurrency,
		logger,
	)

	return c, nil
}

// Close releases infrastructure in reverse order of acquisition
func (c *Components) Close(ctx context.Context, logger *logrus.Logger) {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			logger.WithError(err).Warn("Error during shutdown")
		}
	}
}

func newRegistry(cfg *config.Config, recorder *metrics.Recorder, logger *logrus.Logger) *payment.Registry {
	observe := payment.WithDurationObserver(recorder.ObserveGatewayCall)
	var gateways []payment.Gateway

	if cfg.Payment.Esewa.SecretKey != "" {
		gateways = append(gateways, payment.NewEsewaGateway(payment.EsewaConfig{
			ProductCode: cfg.Payment.Esewa.ProductCode,
			SecretKey:   cfg.Payment.Esewa.SecretKey,
			FormURL:     cfg.Payment.Esewa.FormURL,
			StatusURL:   cfg.Payment.Esewa.StatusURL,
			Timeout:     cfg.Payment.HTTPTimeout,
		}, observe))
		logger.Info("✓ eSewa gateway enabled")
	}
	if cfg.Payment.Khalti.SecretKey != "" {
		gateways = append(gateways, payment.NewKhaltiGateway(payment.KhaltiConfig{
			SecretKey:  cfg.Payment.Khalti.SecretKey,
			BaseURL:    cfg.Payment.Khalti.BaseURL,
			WebsiteURL: cfg.Payment.Khalti.WebsiteURL,
			SigningKey: cfg.Payment.Khalti.SigningKey,
			Timeout:    cfg.Payment.HTTPTimeout,
		}, observe))
		logger.Info("✓ Khalti gateway enabled")
	}
	return payment.NewRegistry(gateways...)
}

// NewLogger builds the JSON logrus logger used by every entrypoint
func NewLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logger.Warn("Invalid log level, using INFO")
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)
	return logger
}
