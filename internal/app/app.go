// Package app assembles the lifecycle managers, their stores and peers for
// the configured service role. Both the HTTP server and afcctl build on it.
package app

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/smarttransit/afc-backend/internal/clients"
	"github.com/smarttransit/afc-backend/internal/config"
	"github.com/smarttransit/afc-backend/internal/database"
	"github.com/smarttransit/afc-backend/internal/errs"
	"github.com/smarttransit/afc-backend/internal/fare"
	"github.com/smarttransit/afc-backend/internal/middleware"
	"github.com/smarttransit/afc-backend/internal/models"
	"github.com/smarttransit/afc-backend/internal/services"
	"github.com/smarttransit/afc-backend/pkg/events"
	"github.com/smarttransit/afc-backend/pkg/gateway"
	"github.com/smarttransit/afc-backend/pkg/jwt"
	"github.com/smarttransit/afc-backend/pkg/qrcrypt"
)

// Sweep job names
const (
	SweepBookings = "booking-expiry"
	SweepPayments = "payment-expiry"
	SweepTickets  = "ticket-expiry"
)

// App is the wired process. Lifecycles not hosted by the configured role
// are nil.
type App struct {
	Config *config.Config
	Logger *logrus.Logger

	DB          *database.PostgresDB
	Redis       *redis.Client
	JWT         *jwt.Service
	Publisher   events.Publisher
	Idempotency middleware.IdempotencyStore

	Bookings  *services.BookingService
	Payments  *services.PaymentService
	Tickets   *services.TicketService
	Validator *services.ValidationEngine
	Sweeper   *services.SweeperService
	Relay     *services.SagaRelay
}

// New connects to storage and builds every lifecycle the role hosts
func New(cfg *config.Config, logger *logrus.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	// 1. Storage
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		return nil, err
	}
	a.DB = db

	if cfg.Redis.Enabled {
		a.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.Redis.Ping(context.Background()).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.Idempotency = middleware.NewRedisIdempotencyStore(a.Redis)
	}

	a.JWT = jwt.NewService(
		cfg.JWT.Secret,
		cfg.JWT.RefreshSecret,
		cfg.JWT.AccessTokenExpiry,
		cfg.JWT.RefreshTokenExpiry,
		cfg.JWT.ServiceTokenExpiry,
	)

	if cfg.Kafka.Enabled {
		a.Publisher = events.NewProducer(events.Config{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic})
	} else {
		a.Publisher = events.Discard{}
	}

	// 2. Shared dependencies
	tx := database.NewTxManager(db.DB)
	sequences := database.NewSequenceRepository(db.DB)
	outbox := database.NewOutboxRepository(db.DB)
	name := cfg.Services.Name

	stations, err := a.stationDirectory()
	if err != nil {
		a.Close()
		return nil, err
	}

	// 3. Lifecycles hosted by this role
	if cfg.RunsBooking() {
		a.Bookings = services.NewBookingService(
			database.NewBookingRepository(db.DB),
			database.NewBookingHistoryRepository(db.DB),
			sequences,
			outbox,
			tx,
			stations,
			fare.NewCalculator(cfg.Fare),
			cfg.Booking,
			logger,
		)
	}

	var bookingPeer interface {
		services.BookingReader
		services.BookingConfirmer
		services.BookingCompleter
	}
	if a.Bookings != nil {
		bookingPeer = services.LocalBookings{Service: a.Bookings, Name: name}
	} else if cfg.Services.BookingURL != "" {
		bookingPeer = clients.NewBookingClient(cfg.Services.BookingURL, name, a.JWT, cfg.Services.RequestTimeout, logger)
	}

	if cfg.RunsPayment() {
		a.Payments = services.NewPaymentService(
			database.NewPaymentRepository(db.DB),
			database.NewPaymentTransactionRepository(db.DB, logger),
			database.NewPaymentHistoryRepository(db.DB),
			sequences,
			outbox,
			tx,
			a.gateways(),
			bookingPeer,
			cfg.Payment,
			logger,
		)
	}

	var paymentPeer interface {
		services.PaymentReader
		services.RefundRequester
	}
	if a.Payments != nil {
		paymentPeer = services.LocalPayments{Service: a.Payments, Name: name}
	} else if cfg.Services.PaymentURL != "" {
		paymentPeer = clients.NewPaymentClient(cfg.Services.PaymentURL, name, a.JWT, cfg.Services.RequestTimeout, logger)
	}

	if cfg.RunsTicket() {
		codec, err := qrcrypt.NewCodec(cfg.Ticket.QRSecret)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialise QR codec: %w", err)
		}
		tickets := database.NewTicketRepository(db.DB)
		validations := database.NewValidationRepository(db.DB)
		history := database.NewTicketHistoryRepository(db.DB)

		a.Tickets = services.NewTicketService(
			tickets,
			validations,
			history,
			sequences,
			outbox,
			tx,
			services.TicketPeers{
				Bookings: bookingPeer,
				Payments: paymentPeer,
				Refunds:  paymentPeer,
				Stations: stations,
			},
			codec,
			cfg.Ticket,
			logger,
		)
		a.Validator = services.NewValidationEngine(tickets, validations, history, outbox, tx, codec, bookingPeer, logger)
	}

	// 4. Background work
	var jobs []services.SweepJob
	if a.Bookings != nil {
		jobs = append(jobs, services.SweepJob{Name: SweepBookings, Schedule: cfg.Sweeper.BookingSchedule, Expirer: a.Bookings})
	}
	if a.Payments != nil {
		jobs = append(jobs, services.SweepJob{Name: SweepPayments, Schedule: cfg.Sweeper.PaymentSchedule, Expirer: a.Payments})
	}
	if a.Tickets != nil {
		jobs = append(jobs, services.SweepJob{Name: SweepTickets, Schedule: cfg.Sweeper.TicketSchedule, Expirer: a.Tickets})
	}
	a.Sweeper = services.NewSweeperService(cfg.Sweeper, logger, jobs...)

	// booking.confirm commands are only written by the payment lifecycle
	var confirmer services.BookingConfirmer = unavailablePeer{peer: "booking"}
	var refunds services.RefundRequester = unavailablePeer{peer: "payment"}
	if a.Payments != nil {
		confirmer = bookingPeer
		refunds = paymentPeer
	}
	a.Relay = services.NewSagaRelay(outbox, confirmer, refunds, a.Publisher, cfg.Saga, name, logger)

	return a, nil
}

// stationDirectory prefers a static file, falls back to the remote
// directory, and caches remote lookups in Redis when it is available
func (a *App) stationDirectory() (services.StationDirectory, error) {
	cfg := a.Config.Stations
	var source clients.StationSource

	switch {
	case cfg.StaticFile != "":
		static, err := clients.LoadStaticDirectory(cfg.StaticFile)
		if err != nil {
			return nil, err
		}
		a.Logger.WithField("file", cfg.StaticFile).Info("Station directory loaded from file")
		return static, nil
	case cfg.DirectoryURL != "":
		source = clients.NewHTTPDirectory(cfg.DirectoryURL, a.Config.Services.Name, a.JWT, a.Config.Services.RequestTimeout, a.Logger)
	default:
		return nil, fmt.Errorf("STATION_DIRECTORY_FILE or STATION_DIRECTORY_URL is required")
	}

	if a.Redis == nil {
		return source, nil
	}
	return clients.NewCachedDirectory(source, clients.NewRedisStationCache(a.Redis), cfg.CacheTTL, a.Logger), nil
}

func (a *App) gateways() *gateway.Registry {
	cfg := a.Config.Payment
	registry := gateway.NewRegistry()

	payable := gateway.NewPAYable(gateway.PAYableConfig{
		Environment:   cfg.Payable.Environment,
		MerchantKey:   cfg.Payable.MerchantKey,
		MerchantToken: cfg.Payable.MerchantToken,
		LogoURL:       cfg.Payable.LogoURL,
		ReturnURL:     cfg.Payable.ReturnURL,
		WebhookURL:    cfg.Payable.WebhookURL,
		FeeRate:       cfg.Payable.FeeRate,
	}, a.Logger)
	if payable.IsConfigured() {
		registry.Register(payable)
	} else {
		a.Logger.Warn("PAYable credentials missing, gateway disabled")
	}

	if cfg.Sandbox.Enabled {
		registry.Register(gateway.NewSandbox(cfg.Sandbox.WebhookSecret, cfg.Sandbox.FeeRate))
	}

	a.Logger.WithField("gateways", registry.Names()).Info("Payment gateways registered")
	return registry
}

// Close releases connections in reverse order of creation
func (a *App) Close() {
	if a.Publisher != nil {
		if err := a.Publisher.Close(); err != nil {
			a.Logger.WithError(err).Warn("Failed to close event publisher")
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.WithError(err).Warn("Failed to close redis client")
		}
	}
	if a.DB != nil {
		a.DB.Close()
	}
}

// unavailablePeer stands in for a lifecycle this process neither hosts nor
// calls. Any use is a wiring fault surfaced as a dependency failure.
type unavailablePeer struct {
	peer string
}

func (u unavailablePeer) ConfirmBooking(ctx context.Context, id uuid.UUID, req *models.ConfirmBookingRequest) (*models.Booking, error) {
	return nil, errs.Dependency(u.peer+" lifecycle is not reachable from this process", nil)
}

func (u unavailablePeer) RefundPayment(ctx context.Context, paymentID uuid.UUID, actor models.Actor, req *models.RefundRequest) (*models.Payment, error) {
	return nil, errs.Dependency(u.peer+" lifecycle is not reachable from this process", nil)
}
