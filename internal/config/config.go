package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverMemory   = "memory"
)

// Config holds all configuration for our application
type Config struct {
	Server    ServerConfig    `mapstructure:",squash"`
	Database  DatabaseConfig  `mapstructure:",squash"`
	Redis     RedisConfig     `mapstructure:",squash"`
	Scheduler SchedulerConfig `mapstructure:",squash"`
	Logging   LoggingConfig   `mapstructure:",squash"`
	Business  BusinessConfig  `mapstructure:",squash"`
	Catalog   CatalogConfig   `mapstructure:",squash"`
	Stripe    StripeConfig    `mapstructure:",squash"`
	Retry     RetryConfig     `mapstructure:",squash"`
	Auth      AuthConfig      `mapstructure:",squash"`
	Health    HealthConfig    `mapstructure:",squash"`
}

type ServerConfig struct {
	Port         string `mapstructure:"SERVER_PORT"`
	Host         string `mapstructure:"SERVER_HOST"`
	Env          string `mapstructure:"ENV"`
	ReadTimeout  string `mapstructure:"SERVER_READ_TIMEOUT"`
	WriteTimeout string `mapstructure:"SERVER_WRITE_TIMEOUT"`
}

type DatabaseConfig struct {
	Driver          string `mapstructure:"DATABASE_DRIVER"`
	URL             string `mapstructure:"DATABASE_URL"`
	MongoDatabase   string `mapstructure:"MONGO_DATABASE"`
	MaxOpenConns    int    `mapstructure:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `mapstructure:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime string `mapstructure:"DATABASE_CONN_MAX_LIFETIME"`
	AutoMigrate     bool   `mapstructure:"DATABASE_AUTO_MIGRATE"`
}

type RedisConfig struct {
	URL      string `mapstructure:"REDIS_URL"`
	Host     string `mapstructure:"REDIS_HOST"`
	Port     string `mapstructure:"REDIS_PORT"`
	Password string `mapstructure:"REDIS_PASSWORD"`
	DB       int    `mapstructure:"REDIS_DB"`
}

type SchedulerConfig struct {
	SweepSchedule string `mapstructure:"SWEEP_SCHEDULE"`
	Timezone      string `mapstructure:"SCHEDULER_TIMEZONE"`
	LockTTL       string `mapstructure:"SWEEP_LOCK_TTL"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"LOG_LEVEL"`
	Format string `mapstructure:"LOG_FORMAT"`
}

type BusinessConfig struct {
	LoanPeriodDays      int    `mapstructure:"LOAN_PERIOD_DAYS"`
	FineRateTRY         string `mapstructure:"FINE_RATE_TRY"`
	FineRateEUR         string `mapstructure:"FINE_RATE_EUR"`
	DefaultFineCurrency string `mapstructure:"DEFAULT_FINE_CURRENCY"`
	MaxActiveLoans      int    `mapstructure:"MAX_ACTIVE_LOANS"`
	PaymentTolerance    string `mapstructure:"PAYMENT_TOLERANCE"`
	MaxUpdateAttempts   int    `mapstructure:"MAX_UPDATE_ATTEMPTS"`
}

type CatalogConfig struct {
	BaseURL  string `mapstructure:"GOOGLE_BOOKS_BASE_URL"`
	APIKey   string `mapstructure:"GOOGLE_BOOKS_API_KEY"`
	Timeout  string `mapstructure:"CATALOG_TIMEOUT"`
	CacheTTL string `mapstructure:"CATALOG_CACHE_TTL"`
}

type StripeConfig struct {
	SecretKey     string `mapstructure:"STRIPE_SECRET_KEY"`
	WebhookSecret string `mapstructure:"STRIPE_WEBHOOK_SECRET"`
	Env           string `mapstructure:"STRIPE_ENV"`
}

type RetryConfig struct {
	MaxAttempts int    `mapstructure:"RETRY_MAX_ATTEMPTS"`
	BaseDelay   string `mapstructure:"RETRY_BASE_DELAY"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"JWT_SECRET"`
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
}

type HealthConfig struct {
	Timeout string `mapstructure:"HEALTH_CHECK_TIMEOUT"`
}

var defaults = map[string]any{
	"SERVER_PORT":                "8080",
	"SERVER_HOST":                "0.0.0.0",
	"ENV":                        "development",
	"SERVER_READ_TIMEOUT":        "15s",
	"SERVER_WRITE_TIMEOUT":       "15s",
	"DATABASE_DRIVER":            DriverPostgres,
	"DATABASE_URL":               "",
	"MONGO_DATABASE":             "digilibrary",
	"DATABASE_MAX_OPEN_CONNS":    20,
	"DATABASE_MAX_IDLE_CONNS":    10,
	"DATABASE_CONN_MAX_LIFETIME": "1h",
	"DATABASE_AUTO_MIGRATE":      false,
	"REDIS_URL":                  "",
	"REDIS_HOST":                 "localhost",
	"REDIS_PORT":                 "6379",
	"REDIS_PASSWORD":             "",
	"REDIS_DB":                   0,
	"SWEEP_SCHEDULE":             "0 0 0 * * *",
	"SCHEDULER_TIMEZONE":         "UTC",
	"SWEEP_LOCK_TTL":             "1h",
	"LOG_LEVEL":                  "info",
	"LOG_FORMAT":                 "json",
	"LOAN_PERIOD_DAYS":           14,
	"FINE_RATE_TRY":              "5.00",
	"FINE_RATE_EUR":              "0.50",
	"DEFAULT_FINE_CURRENCY":      "TRY",
	"MAX_ACTIVE_LOANS":           0,
	"PAYMENT_TOLERANCE":          "0.01",
	"MAX_UPDATE_ATTEMPTS":        5,
	"GOOGLE_BOOKS_BASE_URL":      "https://www.googleapis.com/books/v1",
	"GOOGLE_BOOKS_API_KEY":       "",
	"CATALOG_TIMEOUT":            "10s",
	"CATALOG_CACHE_TTL":          "24h",
	"STRIPE_SECRET_KEY":          "",
	"STRIPE_WEBHOOK_SECRET":      "",
	"STRIPE_ENV":                 "test",
	"RETRY_MAX_ATTEMPTS":         3,
	"RETRY_BASE_DELAY":           "200ms",
	"JWT_SECRET":                 "",
	"JWT_ISSUER":                 "digilibrary",
	"HEALTH_CHECK_TIMEOUT":       "5s",
}

// Load reads configuration from environment variables and an optional .env file
func Load() (*Config, error) {
	// Don't fail if .env file doesn't exist
	_ = godotenv.Load(".env", "./deployments/.env")

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("SERVER_PORT is required")
	}

	switch c.Database.Driver {
	case DriverPostgres, DriverMongo:
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required for driver %s", c.Database.Driver)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("DATABASE_DRIVER must be one of postgres, mongo, memory; got %q", c.Database.Driver)
	}

	if c.Business.LoanPeriodDays <= 0 {
		return fmt.Errorf("LOAN_PERIOD_DAYS must be greater than 0")
	}

	if c.Business.MaxActiveLoans < 0 {
		return fmt.Errorf("MAX_ACTIVE_LOANS must not be negative")
	}

	if c.Business.MaxUpdateAttempts <= 0 {
		return fmt.Errorf("MAX_UPDATE_ATTEMPTS must be greater than 0")
	}

	for key, raw := range map[string]string{
		"FINE_RATE_TRY":     c.Business.FineRateTRY,
		"FINE_RATE_EUR":     c.Business.FineRateEUR,
		"PAYMENT_TOLERANCE": c.Business.PaymentTolerance,
	} {
		value, err := decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("%s must be a valid decimal: %w", key, err)
		}
		if value.IsNegative() {
			return fmt.Errorf("%s must not be negative", key)
		}
	}

	switch strings.ToUpper(c.Business.DefaultFineCurrency) {
	case "TRY", "EUR":
	default:
		return fmt.Errorf("DEFAULT_FINE_CURRENCY must be TRY or EUR")
	}

	for key, raw := range map[string]string{
		"SERVER_READ_TIMEOUT":        c.Server.ReadTimeout,
		"SERVER_WRITE_TIMEOUT":       c.Server.WriteTimeout,
		"DATABASE_CONN_MAX_LIFETIME": c.Database.ConnMaxLifetime,
		"SWEEP_LOCK_TTL":             c.Scheduler.LockTTL,
		"CATALOG_TIMEOUT":            c.Catalog.Timeout,
		"CATALOG_CACHE_TTL":          c.Catalog.CacheTTL,
		"RETRY_BASE_DELAY":           c.Retry.BaseDelay,
		"HEALTH_CHECK_TIMEOUT":       c.Health.Timeout,
	} {
		if _, err := time.ParseDuration(raw); err != nil {
			return fmt.Errorf("%s must be a valid duration: %w", key, err)
		}
	}

	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("SCHEDULER_TIMEZONE must be a valid IANA zone: %w", err)
	}

	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be greater than 0")
	}

	return nil
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development" || c.Server.Env == "dev"
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production" || c.Server.Env == "prod"
}

// GetFineRates returns the configured daily fine rate per currency code.
func (c *Config) GetFineRates() map[string]decimal.Decimal {
	try, _ := decimal.NewFromString(c.Business.FineRateTRY)
	eur, _ := decimal.NewFromString(c.Business.FineRateEUR)
	return map[string]decimal.Decimal{
		"TRY": try,
		"EUR": eur,
	}
}

// GetPaymentTolerance returns the accepted drift between quoted and paid amounts.
func (c *Config) GetPaymentTolerance() decimal.Decimal {
	tolerance, _ := decimal.NewFromString(c.Business.PaymentTolerance)
	return tolerance
}

// GetReadTimeout returns the HTTP server read timeout.
func (c *Config) GetReadTimeout() time.Duration {
	return mustDuration(c.Server.ReadTimeout)
}

// GetWriteTimeout returns the HTTP server write timeout.
func (c *Config) GetWriteTimeout() time.Duration {
	return mustDuration(c.Server.WriteTimeout)
}

// GetConnMaxLifetime returns the SQL pool connection lifetime.
func (c *Config) GetConnMaxLifetime() time.Duration {
	return mustDuration(c.Database.ConnMaxLifetime)
}

// GetSweepLockTTL returns how long a sweep run may hold the scheduler lock.
func (c *Config) GetSweepLockTTL() time.Duration {
	return mustDuration(c.Scheduler.LockTTL)
}

// GetSchedulerLocation returns the time zone cron expressions are evaluated in.
func (c *Config) GetSchedulerLocation() *time.Location {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// GetCatalogTimeout returns the HTTP timeout for catalog lookups.
func (c *Config) GetCatalogTimeout() time.Duration {
	return mustDuration(c.Catalog.Timeout)
}

// GetCatalogCacheTTL returns how long catalog snapshots are cached.
func (c *Config) GetCatalogCacheTTL() time.Duration {
	return mustDuration(c.Catalog.CacheTTL)
}

// GetRetryBaseDelay returns the first backoff delay for collaborator calls.
func (c *Config) GetRetryBaseDelay() time.Duration {
	return mustDuration(c.Retry.BaseDelay)
}

// GetHealthTimeout returns the health check timeout as duration
func (c *Config) GetHealthTimeout() time.Duration {
	return mustDuration(c.Health.Timeout)
}

// RedisAddress returns host:port for the Redis server.
func (c *Config) RedisAddress() string {
	if c.Redis.Host == "" {
		return ""
	}
	return c.Redis.Host + ":" + c.Redis.Port
}

func mustDuration(raw string) time.Duration {
	duration, _ := time.ParseDuration(raw)
	return duration
}
