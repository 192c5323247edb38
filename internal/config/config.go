package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Service roles. In "all" mode every lifecycle runs in one process and
// cross-lifecycle calls stay in memory.
const (
	RoleAll     = "all"
	RoleBooking = "booking"
	RolePayment = "payment"
	RoleTicket  = "ticket"
)

// Discount code policies
const (
	DiscountPolicyLenient = "lenient"
	DiscountPolicyStrict  = "strict"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	JWT      JWTConfig
	CORS     CORSConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Fare     FareConfig
	Booking  BookingConfig
	Payment  PaymentConfig
	Ticket   TicketConfig
	Sweeper  SweeperConfig
	Saga     SagaConfig
	Services ServicesConfig
	Stations StationsConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port            string
	Environment     string // development, staging, production
	LogLevel        string // debug, info, warn, error
	ServiceRole     string // all, booking, payment, ticket
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	URL                string
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
}

// JWTConfig holds JWT-related configuration
type JWTConfig struct {
	Secret             string
	RefreshSecret      string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
	ServiceTokenExpiry time.Duration
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// RedisConfig holds the cache and idempotency store connection
type RedisConfig struct {
	Enabled         bool
	Addr            string
	Password        string
	DB              int
	IdempotencyTTL  time.Duration
	IdempotencyLock time.Duration
}

// KafkaConfig holds lifecycle event publishing configuration
type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

// FareConfig holds fare calculation rules
type FareConfig struct {
	TaxRate            float64
	Currency           string
	DiscountCodePolicy string
	DiscountCodesFile  string
	DiscountCodes      map[string]float64
}

// BookingConfig holds booking lifecycle settings
type BookingConfig struct {
	HoldDuration  time.Duration
	MaxPassengers int
}

// PaymentConfig holds payment lifecycle and gateway configuration
type PaymentConfig struct {
	DefaultGateway    string
	ExpiryDuration    time.Duration
	ServiceFeeRate    float64
	ServiceFeeMin     float64
	ServiceFeeMax     float64
	ServiceFeeTaxRate float64
	Payable           PayableConfig
	Sandbox           SandboxConfig
}

// PayableConfig holds PAYable IPG configuration
type PayableConfig struct {
	Environment   string // "sandbox" or "production"
	MerchantKey   string
	MerchantToken string // never expose to client
	LogoURL       string
	ReturnURL     string
	WebhookURL    string
	FeeRate       float64
}

// SandboxConfig holds the in-house test gateway configuration
type SandboxConfig struct {
	Enabled       bool
	WebhookSecret string
	FeeRate       float64
}

// TicketConfig holds ticket lifecycle settings
type TicketConfig struct {
	QRSecret       string
	ValidityHours  int
	TransferWindow time.Duration
	MaxTransfers   int
	UsageSingle    int
	UsageReturn    int
	UsageDayPass   int
	Refundable     bool
}

// SweeperConfig holds the expiry sweep schedule
type SweeperConfig struct {
	Enabled         bool
	BookingSchedule string
	PaymentSchedule string
	TicketSchedule  string
	BatchSize       int
	Workers         int
	RetryAttempts   int
	RetryBaseDelay  time.Duration
	RetryMaxDelay   time.Duration
}

// SagaConfig holds the outbox relay settings
type SagaConfig struct {
	Enabled      bool
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
}

// ServicesConfig locates peer lifecycle services when they run out of process
type ServicesConfig struct {
	Name           string
	BookingURL     string
	PaymentURL     string
	RequestTimeout time.Duration
}

// StationsConfig locates the read-only station and route directory
type StationsConfig struct {
	DirectoryURL string
	StaticFile   string
	CacheTTL     time.Duration
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			Environment:     getEnv("ENVIRONMENT", "development"),
			LogLevel:        getEnv("LOG_LEVEL", "info"),
			ServiceRole:     getEnv("SERVICE_ROLE", RoleAll),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			URL:                getEnv("DATABASE_URL", ""),
			MaxConnections:     getEnvAsInt("DATABASE_MAX_CONNECTIONS", 10),
			MaxIdleConnections: getEnvAsInt("DATABASE_MAX_IDLE_CONNECTIONS", 5),
			ConnMaxLifetime:    time.Duration(getEnvAsInt("DATABASE_CONN_MAX_LIFETIME", 300)) * time.Second,
		},
		JWT: jwtFromEnv(),
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvAsSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
			AllowedHeaders: getEnvAsSlice("CORS_ALLOWED_HEADERS", []string{"Content-Type", "Authorization", "Idempotency-Key"}),
		},
		Redis: RedisConfig{
			Enabled:         getEnvAsBool("REDIS_ENABLED", false),
			Addr:            getEnv("REDIS_ADDR", "localhost:6379"),
			Password:        getEnv("REDIS_PASSWORD", ""),
			DB:              getEnvAsInt("REDIS_DB", 0),
			IdempotencyTTL:  getEnvAsDuration("IDEMPOTENCY_TTL", 24*time.Hour),
			IdempotencyLock: getEnvAsDuration("IDEMPOTENCY_LOCK", 10*time.Second),
		},
		Kafka: KafkaConfig{
			Enabled: getEnvAsBool("KAFKA_ENABLED", false),
			Brokers: getEnvAsSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			Topic:   getEnv("KAFKA_TOPIC", "afc.lifecycle"),
		},
		Fare: fareFromEnv(),
		Booking: BookingConfig{
			HoldDuration:  getEnvAsDuration("BOOKING_HOLD_DURATION", 15*time.Minute),
			MaxPassengers: getEnvAsInt("BOOKING_MAX_PASSENGERS", 10),
		},
		Payment: PaymentConfig{
			DefaultGateway:    getEnv("PAYMENT_DEFAULT_GATEWAY", "payable"),
			ExpiryDuration:    getEnvAsDuration("PAYMENT_EXPIRY_DURATION", 30*time.Minute),
			ServiceFeeRate:    getEnvAsFloat("PAYMENT_SERVICE_FEE_RATE", 0.02),
			ServiceFeeMin:     getEnvAsFloat("PAYMENT_SERVICE_FEE_MIN", 2),
			ServiceFeeMax:     getEnvAsFloat("PAYMENT_SERVICE_FEE_MAX", 20),
			ServiceFeeTaxRate: getEnvAsFloat("PAYMENT_SERVICE_FEE_TAX_RATE", 0.18),
			Payable: PayableConfig{
				Environment:   getEnv("PAYABLE_ENVIRONMENT", "sandbox"),
				MerchantKey:   getEnv("PAYABLE_MERCHANT_KEY", ""),
				MerchantToken: getEnv("PAYABLE_MERCHANT_TOKEN", ""),
				LogoURL:       getEnv("PAYABLE_LOGO_URL", ""),
				ReturnURL:     getEnv("PAYABLE_RETURN_URL", ""),
				WebhookURL:    getEnv("PAYABLE_WEBHOOK_URL", ""),
				FeeRate:       getEnvAsFloat("PAYABLE_FEE_RATE", 0.025),
			},
			Sandbox: SandboxConfig{
				Enabled:       getEnvAsBool("SANDBOX_GATEWAY_ENABLED", true),
				WebhookSecret: getEnv("SANDBOX_WEBHOOK_SECRET", ""),
				FeeRate:       getEnvAsFloat("SANDBOX_GATEWAY_FEE_RATE", 0.015),
			},
		},
		Ticket: TicketConfig{
			QRSecret:       getEnv("QR_SECRET", ""),
			ValidityHours:  getEnvAsInt("TICKET_VALIDITY_HOURS", 24),
			TransferWindow: getEnvAsDuration("TICKET_TRANSFER_WINDOW", 90*time.Minute),
			MaxTransfers:   getEnvAsInt("TICKET_MAX_TRANSFERS", 2),
			UsageSingle:    getEnvAsInt("TICKET_USAGE_SINGLE", 2),
			UsageReturn:    getEnvAsInt("TICKET_USAGE_RETURN", 4),
			UsageDayPass:   getEnvAsInt("TICKET_USAGE_DAY_PASS", 20),
			Refundable:     getEnvAsBool("TICKET_REFUNDABLE", true),
		},
		Sweeper: SweeperConfig{
			Enabled:         getEnvAsBool("SWEEPER_ENABLED", true),
			BookingSchedule: getEnv("SWEEPER_BOOKING_SCHEDULE", "@every 5m"),
			PaymentSchedule: getEnv("SWEEPER_PAYMENT_SCHEDULE", "@every 5m"),
			TicketSchedule:  getEnv("SWEEPER_TICKET_SCHEDULE", "@every 10m"),
			BatchSize:       getEnvAsInt("SWEEPER_BATCH_SIZE", 100),
			Workers:         getEnvAsInt("SWEEPER_WORKERS", 4),
			RetryAttempts:   getEnvAsInt("SWEEPER_RETRY_ATTEMPTS", 3),
			RetryBaseDelay:  getEnvAsDuration("SWEEPER_RETRY_BASE_DELAY", 2*time.Second),
			RetryMaxDelay:   getEnvAsDuration("SWEEPER_RETRY_MAX_DELAY", 30*time.Second),
		},
		Saga: SagaConfig{
			Enabled:      getEnvAsBool("SAGA_ENABLED", true),
			PollInterval: getEnvAsDuration("SAGA_POLL_INTERVAL", 2*time.Second),
			BatchSize:    getEnvAsInt("SAGA_BATCH_SIZE", 20),
			MaxAttempts:  getEnvAsInt("SAGA_MAX_ATTEMPTS", 5),
			BaseBackoff:  getEnvAsDuration("SAGA_BASE_BACKOFF", 5*time.Second),
			MaxBackoff:   getEnvAsDuration("SAGA_MAX_BACKOFF", 5*time.Minute),
		},
		Services: ServicesConfig{
			Name:           getEnv("SERVICE_NAME", "afc-backend"),
			BookingURL:     getEnv("BOOKING_SERVICE_URL", ""),
			PaymentURL:     getEnv("PAYMENT_SERVICE_URL", ""),
			RequestTimeout: getEnvAsDuration("SERVICE_REQUEST_TIMEOUT", 5*time.Second),
		},
		Stations: StationsConfig{
			DirectoryURL: getEnv("STATION_DIRECTORY_URL", ""),
			StaticFile:   getEnv("STATION_DIRECTORY_FILE", ""),
			CacheTTL:     getEnvAsDuration("STATION_CACHE_TTL", time.Hour),
		},
	}

	if err := config.Fare.loadCodes(); err != nil {
		return nil, err
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	switch c.Server.ServiceRole {
	case RoleAll, RoleBooking, RolePayment, RoleTicket:
	default:
		return fmt.Errorf("invalid SERVICE_ROLE: %s (must be all, booking, payment or ticket)", c.Server.ServiceRole)
	}

	if c.RunsTicket() && c.Ticket.QRSecret == "" {
		return fmt.Errorf("QR_SECRET is required")
	}
	if len(c.Ticket.QRSecret) > 0 && len(c.Ticket.QRSecret) < 32 {
		return fmt.Errorf("QR_SECRET must be at least 32 characters")
	}

	if err := c.Fare.Validate(); err != nil {
		return err
	}

	if c.Payment.ServiceFeeMin > c.Payment.ServiceFeeMax {
		return fmt.Errorf("PAYMENT_SERVICE_FEE_MIN must not exceed PAYMENT_SERVICE_FEE_MAX")
	}

	// Peer services must be reachable when this process runs a single role
	if c.Server.ServiceRole == RolePayment && c.Services.BookingURL == "" {
		return fmt.Errorf("BOOKING_SERVICE_URL is required for the payment role")
	}
	if c.Server.ServiceRole == RoleTicket {
		if c.Services.BookingURL == "" {
			return fmt.Errorf("BOOKING_SERVICE_URL is required for the ticket role")
		}
		if c.Services.PaymentURL == "" {
			return fmt.Errorf("PAYMENT_SERVICE_URL is required for the ticket role")
		}
	}

	if c.Payment.Payable.Environment == "production" {
		if c.Payment.Payable.MerchantKey == "" || c.Payment.Payable.MerchantToken == "" {
			return fmt.Errorf("PAYABLE_MERCHANT_KEY and PAYABLE_MERCHANT_TOKEN are required in production")
		}
	}

	return nil
}

// LoadFare loads only the fare rules, for tools that quote fares without
// the rest of the deployment's configuration
func LoadFare() (FareConfig, error) {
	_ = godotenv.Load()

	fare := fareFromEnv()
	if err := fare.loadCodes(); err != nil {
		return FareConfig{}, err
	}
	if err := fare.Validate(); err != nil {
		return FareConfig{}, err
	}
	return fare, nil
}

// LoadJWT loads only the token signing settings
func LoadJWT() (JWTConfig, error) {
	_ = godotenv.Load()

	cfg := jwtFromEnv()
	if cfg.Secret == "" {
		return JWTConfig{}, fmt.Errorf("JWT_SECRET is required")
	}
	return cfg, nil
}

func jwtFromEnv() JWTConfig {
	return JWTConfig{
		Secret:             getEnv("JWT_SECRET", ""),
		RefreshSecret:      getEnv("JWT_REFRESH_SECRET", ""),
		AccessTokenExpiry:  time.Duration(getEnvAsInt("JWT_ACCESS_TOKEN_EXPIRY", 3600)) * time.Second,
		RefreshTokenExpiry: time.Duration(getEnvAsInt("JWT_REFRESH_TOKEN_EXPIRY", 604800)) * time.Second,
		ServiceTokenExpiry: getEnvAsDuration("JWT_SERVICE_TOKEN_EXPIRY", 5*time.Minute),
	}
}

func fareFromEnv() FareConfig {
	return FareConfig{
		TaxRate:            getEnvAsFloat("FARE_TAX_RATE", 0.05),
		Currency:           getEnv("FARE_CURRENCY", "LKR"),
		DiscountCodePolicy: getEnv("DISCOUNT_CODE_POLICY", DiscountPolicyLenient),
		DiscountCodesFile:  getEnv("DISCOUNT_CODES_FILE", ""),
		DiscountCodes:      DefaultDiscountCodes(),
	}
}

func (f *FareConfig) loadCodes() error {
	if f.DiscountCodesFile == "" {
		return nil
	}
	codes, err := LoadDiscountCodes(f.DiscountCodesFile)
	if err != nil {
		return err
	}
	f.DiscountCodes = codes
	return nil
}

// Validate checks the fare rules
func (f FareConfig) Validate() error {
	switch f.DiscountCodePolicy {
	case DiscountPolicyLenient, DiscountPolicyStrict:
	default:
		return fmt.Errorf("invalid DISCOUNT_CODE_POLICY: %s (must be 'lenient' or 'strict')", f.DiscountCodePolicy)
	}

	if f.TaxRate < 0 || f.TaxRate > 1 {
		return fmt.Errorf("FARE_TAX_RATE must be between 0 and 1")
	}
	return nil
}

// RunsBooking reports whether this process hosts the booking lifecycle
func (c *Config) RunsBooking() bool {
	return c.Server.ServiceRole == RoleAll || c.Server.ServiceRole == RoleBooking
}

// RunsPayment reports whether this process hosts the payment lifecycle
func (c *Config) RunsPayment() bool {
	return c.Server.ServiceRole == RoleAll || c.Server.ServiceRole == RolePayment
}

// RunsTicket reports whether this process hosts the ticket lifecycle
func (c *Config) RunsTicket() bool {
	return c.Server.ServiceRole == RoleAll || c.Server.ServiceRole == RoleTicket
}

// DefaultDiscountCodes is the built-in promotional code table
func DefaultDiscountCodes() map[string]float64 {
	return map[string]float64{
		"WELCOME10": 0.10,
		"STUDENT15": 0.15,
		"SAVE20":    0.20,
		"FESTIVE25": 0.25,
	}
}

type discountCodesFile struct {
	Codes []struct {
		Code string  `yaml:"code"`
		Rate float64 `yaml:"rate"`
	} `yaml:"codes"`
}

// LoadDiscountCodes reads a YAML discount table of the form
//
//	codes:
//	  - code: WELCOME10
//	    rate: 0.10
func LoadDiscountCodes(path string) (map[string]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read discount codes file: %w", err)
	}
	return ParseDiscountCodes(data)
}

// ParseDiscountCodes decodes a YAML discount table
func ParseDiscountCodes(data []byte) (map[string]float64, error) {
	var file discountCodesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse discount codes: %w", err)
	}

	codes := make(map[string]float64, len(file.Codes))
	for _, c := range file.Codes {
		code := strings.ToUpper(strings.TrimSpace(c.Code))
		if code == "" {
			return nil, fmt.Errorf("discount code entry without a code")
		}
		if c.Rate <= 0 || c.Rate >= 1 {
			return nil, fmt.Errorf("discount code %s has rate %.2f outside (0,1)", code, c.Rate)
		}
		codes[code] = c.Rate
	}
	return codes, nil
}

// Helper functions to get environment variables

func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Invalid integer value for %s, using default: %d", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		log.Printf("Invalid float value for %s, using default: %g", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		log.Printf("Invalid boolean value for %s, using default: %t", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		log.Printf("Invalid duration value for %s, using default: %s", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var result []string
	for _, v := range strings.Split(valueStr, ",") {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
