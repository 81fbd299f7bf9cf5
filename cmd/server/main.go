package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/yatra/booking-backend/internal/app"
	"github.com/yatra/booking-backend/internal/config"
	"github.com/yatra/booking-backend/internal/database"
	"github.com/yatra/booking-backend/internal/handlers"
	"github.com/yatra/booking-backend/internal/middleware"
	"github.com/yatra/booking-backend/internal/services"
	"github.com/yatra/booking-backend/pkg/jwt"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := app.NewLogger(cfg.Server.LogLevel)
	logger.SetOutput(os.Stdout)
	logger.Info("Starting Yatra Booking Backend")
	logger.Infof("Version: %s, Build Time: %s", version, buildTime)

	// Set Gin mode
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	components, err := app.Build(cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize: %v", err)
	}

	// Scheduled reconciliation of bookings stuck awaiting a callback
	var cronService *services.CronService
	if cfg.Booking.ReconcileSchedule != "" {
		cronService = services.NewCronService(components.Reconciliation, cfg.Booking.ReconcileSchedule, logger)
		if err := cronService.Start(); err != nil {
			logger.Fatalf("Failed to start cron service: %v", err)
		}
	} else {
		logger.Info("RECONCILE_SCHEDULE not set, scheduled reconciliation disabled")
	}

	jwtService := jwt.NewService(cfg.JWT.Secret, cfg.JWT.AccessTokenExpiry)
	bookingHandler := handlers.NewBookingHandler(components.Orchestrator, logger)
	callbackHandler := handlers.NewPaymentCallbackHandler(
		components.Orchestrator,
		components.Audits,
		cfg.Server.FrontendSuccessURL,
		cfg.Server.FrontendFailureURL,
		logger,
	)

	// Initialize Gin router
	router := gin.New()

	// Middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger))
	if cfg.Metrics.Enabled {
		router.Use(middleware.Metrics(components.Metrics))
		router.GET(cfg.Metrics.Path, gin.WrapH(components.Metrics.Handler()))
	}

	// CORS configuration
	corsConfig := cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: !containsWildcard(cfg.CORS.AllowedOrigins),
		MaxAge:           12 * time.Hour,
	}
	router.Use(cors.New(corsConfig))

	// Health check endpoint
	router.GET("/health", healthCheckHandler(components.DB))

	// API v1 routes
	v1 := router.Group("/api/v1")
	bookingHandler.RegisterRoutes(v1,
		middleware.AuthMiddleware(jwtService, logger),
		middleware.RequireRole(jwt.RoleAdmin),
	)
	callbackHandler.RegisterRoutes(v1)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Infof("Server listening on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}
	if cronService != nil {
		cronService.Stop()
	}
	components.Close(ctx, logger)

	logger.Info("Server exited")
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}

// healthCheckHandler returns a health check endpoint
func healthCheckHandler(db database.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"database": "unhealthy",
				"error":    err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"database":  "healthy",
			"version":   version,
			"timestamp": time.Now().Unix(),
		})
	}
}

