package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/smarttransit/afc-backend/internal/app"
	"github.com/smarttransit/afc-backend/internal/config"
	"github.com/smarttransit/afc-backend/internal/database"
	"github.com/smarttransit/afc-backend/internal/handlers"
	"github.com/smarttransit/afc-backend/internal/metrics"
	"github.com/smarttransit/afc-backend/internal/middleware"
	"github.com/smarttransit/afc-backend/pkg/jwt"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	logger.Info("Starting SmartTransit fare lifecycle backend")
	logger.Infof("Version: %s, Build Time: %s", version, buildTime)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Set log level
	logLevel, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logger.Warn("Invalid log level, using INFO")
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Set Gin mode
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Wire storage, peers and lifecycles for this role
	logger.WithField("role", cfg.Server.ServiceRole).Info("Initializing services...")
	a, err := app.New(cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize: %v", err)
	}
	defer a.Close()
	logger.Info("Database connection established")

	// Background work
	if cfg.Sweeper.Enabled {
		if err := a.Sweeper.Start(); err != nil {
			logger.Fatalf("Failed to start sweeper: %v", err)
		}
		logger.Info("✓ Expiry sweeper started")
	}

	relayCtx, stopRelay := context.WithCancel(context.Background())
	relayDone := make(chan struct{})
	if cfg.Saga.Enabled {
		go func() {
			defer close(relayDone)
			a.Relay.Run(relayCtx)
		}()
		logger.Info("✓ Outbox relay started")
	} else {
		close(relayDone)
	}

	// Initialize Gin router
	router := gin.New()

	// Middleware
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	// CORS configuration
	corsConfig := cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition", middleware.ReplayedHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	router.Use(cors.New(corsConfig))

	// Health and metrics endpoints
	router.GET("/health", healthCheckHandler(a.DB, cfg.Server.ServiceRole))
	router.GET("/metrics", metrics.Handler())

	auth := middleware.AuthMiddleware(a.JWT, logger)
	idempotent := idempotency(a, logger)
	peers := middleware.RequireRole(jwt.RoleService, jwt.RoleAdmin)
	admins := middleware.RequireRole(jwt.RoleAdmin)

	// API v1 routes
	v1 := router.Group("/api/v1")

	if a.Bookings != nil {
		bookingHandler := handlers.NewBookingHandler(a.Bookings, logger)

		// Public fare quote
		v1.POST("/fares/calculate", bookingHandler.CalculateFare)

		bookings := v1.Group("/bookings")
		bookings.Use(auth, idempotent)
		{
			bookings.POST("", bookingHandler.CreateBooking)
			bookings.GET("/mine", bookingHandler.ListMyBookings)
			bookings.GET("/number/:number", bookingHandler.GetBookingByNumber)
			bookings.GET("/:id", bookingHandler.GetBooking)
			bookings.PUT("/:id", bookingHandler.UpdateBooking)
			bookings.POST("/:id/cancel", bookingHandler.CancelBooking)

			// Called by the payment and ticket services
			bookings.POST("/:id/confirm", peers, bookingHandler.ConfirmBooking)
			bookings.POST("/:id/complete", peers, bookingHandler.CompleteBooking)
		}

		adminBookings := v1.Group("/admin/bookings")
		adminBookings.Use(auth, admins)
		{
			adminBookings.GET("", bookingHandler.SearchBookings)
			adminBookings.GET("/stats", bookingHandler.BookingStats)
		}
	}

	if a.Payments != nil {
		paymentHandler := handlers.NewPaymentHandler(a.Payments, logger)

		// Public endpoints
		v1.GET("/payments/methods", paymentHandler.ListMethods)
		v1.POST("/payments/fee-estimate", paymentHandler.EstimateFee)

		// Gateway callbacks authenticate by signature, not by token
		v1.POST("/webhooks/payments/:gateway", paymentHandler.HandleWebhook)

		payments := v1.Group("/payments")
		payments.Use(auth, idempotent)
		{
			payments.POST("", paymentHandler.CreatePayment)
			payments.GET("/number/:number", paymentHandler.GetPaymentByNumber)
			payments.GET("/booking/:booking_id", paymentHandler.GetBookingPayments)
			payments.GET("/:id", paymentHandler.GetPayment)
			payments.POST("/:id/verify", paymentHandler.VerifyPayment)
			payments.POST("/:id/process", peers, paymentHandler.ProcessPayment)
			payments.POST("/:id/refund", peers, paymentHandler.RefundPayment)
		}

		adminPayments := v1.Group("/admin/payments")
		adminPayments.Use(auth, admins)
		{
			adminPayments.GET("", paymentHandler.SearchPayments)
			adminPayments.GET("/stats", paymentHandler.PaymentStats)
		}
	}

	if a.Tickets != nil {
		ticketHandler := handlers.NewTicketHandler(a.Tickets, logger)
		validationHandler := handlers.NewValidationHandler(a.Validator, logger)

		tickets := v1.Group("/tickets")
		tickets.Use(auth, idempotent)
		{
			tickets.POST("", ticketHandler.CreateTicket)
			tickets.GET("/number/:number", ticketHandler.GetTicketByNumber)
			tickets.GET("/booking/:booking_id", ticketHandler.GetBookingTicket)
			tickets.GET("/:id", ticketHandler.GetTicket)
			tickets.GET("/:id/qr.png", ticketHandler.GetQRImage)
			tickets.GET("/:id/pdf", ticketHandler.GetTicketPDF)
			tickets.POST("/:id/activate", ticketHandler.ActivateTicket)
			tickets.POST("/:id/cancel", ticketHandler.CancelTicket)
			tickets.POST("/:id/regenerate-qr", ticketHandler.RegenerateQRCode)
			tickets.POST("/:id/transfer", ticketHandler.TransferTicket)

			// Operator actions
			tickets.POST("/:id/suspend", admins, ticketHandler.SuspendTicket)
			tickets.POST("/:id/reinstate", admins, ticketHandler.ReinstateTicket)
			tickets.POST("/bulk/cancel", admins, ticketHandler.BulkCancel)
			tickets.POST("/bulk/activate", admins, ticketHandler.BulkActivate)
			tickets.POST("/bulk/suspend", admins, ticketHandler.BulkSuspend)
		}

		validations := v1.Group("/validations")
		validations.Use(auth, middleware.RequireRole(jwt.RoleGate, jwt.RoleAdmin))
		{
			validations.POST("", validationHandler.Validate)
			validations.POST("/bulk", validationHandler.BulkValidate)
		}

		adminTickets := v1.Group("/admin/tickets")
		adminTickets.Use(auth, admins)
		{
			adminTickets.GET("", ticketHandler.SearchTickets)
			adminTickets.GET("/stats", ticketHandler.TicketStats)
		}
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Infof("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Stop accepting requests first, then drain background work
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	logger.Info("Stopping sweeper and outbox relay...")
	a.Sweeper.Stop()
	stopRelay()
	select {
	case <-relayDone:
	case <-ctx.Done():
		logger.Warn("Outbox relay did not stop before the shutdown deadline")
	}

	logger.Info("Server exited successfully")
}

// idempotency returns the Idempotency-Key middleware, or a pass-through when
// no Redis store is configured
func idempotency(a *app.App, logger *logrus.Logger) gin.HandlerFunc {
	if a.Idempotency == nil {
		logger.Warn("Redis disabled, Idempotency-Key headers will be ignored")
		return func(c *gin.Context) { c.Next() }
	}
	return middleware.Idempotency(a.Idempotency, a.Config.Redis.IdempotencyLock, a.Config.Redis.IdempotencyTTL, logger)
}

// requestLogger middleware for logging HTTP requests
func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		// Build log entry with basic fields
		fields := logrus.Fields{
			"status":     c.Writer.Status(),
			"method":     c.Request.Method,
			"path":       path,
			"query":      query,
			"ip":         c.ClientIP(),
			"latency_ms": latency.Milliseconds(),
			"user_agent": c.Request.UserAgent(),
		}

		// Add principal if available
		if userCtx, ok := middleware.GetUserContext(c); ok {
			if userCtx.Service != "" {
				fields["service"] = userCtx.Service
			} else {
				fields["user_id"] = userCtx.UserID
			}
			fields["roles"] = userCtx.Roles
		}
		if key := c.GetHeader(middleware.IdempotencyHeader); key != "" {
			fields["idempotency_key"] = key
		}

		entry := logger.WithFields(fields)

		// Log errors with more details
		if len(c.Errors) > 0 {
			for i, err := range c.Errors {
				entry = entry.WithField(fmt.Sprintf("error_%d", i), err.Error())
			}
			entry.Error("Request failed with errors")
			return
		}

		// Log based on status code
		status := c.Writer.Status()
		if status >= 500 {
			entry.Error("Request completed with server error")
		} else if status >= 400 {
			entry.Warn("Request completed with client error")
		} else {
			entry.Info("Request completed successfully")
		}
	}
}

// healthCheckHandler returns a health check endpoint
func healthCheckHandler(db *database.PostgresDB, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		// Check database connection
		if err := db.Health(ctx); err != nil {
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
			"role":      role,
			"version":   version,
			"timestamp": time.Now().Unix(),
		})
	}
}
