package bootstrap

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/multierr"

	"github.com/segyhp/library-engine/internal/catalog"
	"github.com/segyhp/library-engine/internal/config"
	"github.com/segyhp/library-engine/internal/payment"
	"github.com/segyhp/library-engine/internal/repository"
	"github.com/segyhp/library-engine/migrations"
	"github.com/segyhp/library-engine/pkg/logger"
	"github.com/segyhp/library-engine/pkg/redisstore"
	"github.com/segyhp/library-engine/pkg/utils"
)

// Store is an opened loan store together with the handles backing it.
type Store struct {
	Loans   repository.LoanRepository
	closers []func() error
}

// Ping checks the underlying database.
func (s *Store) Ping(ctx context.Context) error {
	return s.Loans.Ping(ctx)
}

// Close releases every connection the store opened.
func (s *Store) Close() error {
	var err error
	for i := len(s.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, s.closers[i]())
	}
	return err
}

// NewLogger builds the process logger from the logging settings.
func NewLogger(cfg *config.Config, service string) *logger.Logger {
	return logger.New(logger.Options{
		ServiceName: service,
		Level:       logger.ParseLevel(cfg.Logging.Level),
		Format:      cfg.Logging.Format,
	})
}

// OpenStore connects the loan repository selected by DATABASE_DRIVER.
func OpenStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Store, error) {
	switch cfg.Database.Driver {
	case config.DriverMemory:
		log.Warn(ctx, "using in-memory loan store; data is lost on restart")
		return &Store{Loans: repository.NewMemoryLoanRepository()}, nil
	case config.DriverMongo:
		return openMongo(ctx, cfg, log)
	case config.DriverPostgres:
		return openPostgres(ctx, cfg, log)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
}

// OpenPostgres opens the SQL pool with the configured limits.
func OpenPostgres(ctx context.Context, cfg *config.Config) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.GetConnMaxLifetime())

	return db, nil
}

func openPostgres(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Store, error) {
	db, err := OpenPostgres(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if cfg.Database.AutoMigrate {
		if err := migrations.Up(ctx, db.DB); err != nil {
			return nil, multierr.Append(fmt.Errorf("apply migrations: %w", err), db.Close())
		}
		log.Info(ctx, "database migrations applied")
	}

	return &Store{
		Loans:   repository.NewLoanRepository(db),
		closers: []func() error{db.Close},
	}, nil
}

func openMongo(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Database.URL))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	disconnect := func() error {
		return client.Disconnect(context.Background())
	}

	db := client.Database(cfg.Database.MongoDatabase)
	if err := repository.EnsureMongoIndexes(ctx, db); err != nil {
		return nil, multierr.Append(fmt.Errorf("ensure mongo indexes: %w", err), disconnect())
	}

	loans := repository.NewMongoLoanRepository(db)
	if err := loans.Ping(ctx); err != nil {
		return nil, multierr.Append(fmt.Errorf("ping mongo: %w", err), disconnect())
	}
	log.Info(log.WithField(ctx, "database", cfg.Database.MongoDatabase), "connected to mongo")

	return &Store{
		Loans:   loans,
		closers: []func() error{disconnect},
	}, nil
}

// OpenRedis connects to Redis when it is configured. It returns nil, nil
// when neither REDIS_URL nor REDIS_HOST is set.
func OpenRedis(ctx context.Context, cfg *config.Config) (*redisstore.Client, error) {
	address := cfg.RedisAddress()
	if cfg.Redis.URL == "" && address == "" {
		return nil, nil
	}
	return redisstore.New(ctx, redisstore.Options{
		URL:      cfg.Redis.URL,
		Address:  address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

// RetryPolicy is the backoff shared by outbound collaborator calls.
func RetryPolicy(cfg *config.Config) utils.RetryPolicy {
	return utils.RetryPolicy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.GetRetryBaseDelay(),
	}
}

// NewCatalog builds the Google Books client with retries, cached in Redis
// when redis is not nil.
func NewCatalog(cfg *config.Config, redis *redisstore.Client, log *logger.Logger) catalog.Catalog {
	var books catalog.Catalog = catalog.NewGoogleBooks(cfg.Catalog.APIKey,
		catalog.WithBaseURL(cfg.Catalog.BaseURL),
		catalog.WithTimeout(cfg.GetCatalogTimeout()),
	)
	books = catalog.WithRetry(books, RetryPolicy(cfg))
	if redis != nil {
		books = catalog.WithCache(books, redis, cfg.GetCatalogCacheTTL(), log)
	}
	return books
}

// NewPaymentProvider builds the Stripe provider. The returned Provider retries
// unavailable calls; the StripeProvider is exposed for its webhook secret.
func NewPaymentProvider(ctx context.Context, cfg *config.Config, log *logger.Logger) (payment.Provider, *payment.StripeProvider, error) {
	stripeProvider, err := payment.NewStripeProvider(ctx, cfg.Stripe, log)
	if err != nil {
		return nil, nil, fmt.Errorf("init stripe: %w", err)
	}
	return payment.WithRetry(stripeProvider, RetryPolicy(cfg)), stripeProvider, nil
}
