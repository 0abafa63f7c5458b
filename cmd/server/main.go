package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/segyhp/library-engine/internal/bootstrap"
	"github.com/segyhp/library-engine/internal/config"
	"github.com/segyhp/library-engine/internal/fine"
	"github.com/segyhp/library-engine/internal/handler"
	"github.com/segyhp/library-engine/internal/payment"
	"github.com/segyhp/library-engine/internal/service"
	"github.com/segyhp/library-engine/pkg/clock"
	"github.com/segyhp/library-engine/pkg/logger"
)

const (
	serviceName     = "library-api"
	webhookEventTTL = 72 * time.Hour
	shutdownTimeout = 30 * time.Second
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

// run returns only after its deferred closers have run. Failures are logged
// here; the returned error only sets the exit code.
func run() error {
	logg := logger.New(logger.Options{ServiceName: serviceName})

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return resourceFailed(context.Background(), logg, "config", err)
	}

	logg = bootstrap.NewLogger(cfg, serviceName)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":    cfg.Server.Env,
		"driver": cfg.Database.Driver,
	})

	// Initialize storage
	store, err := bootstrap.OpenStore(ctx, cfg, logg)
	if err != nil {
		return resourceFailed(ctx, logg, "database", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
		}
	}()

	// Redis backs the catalog cache and webhook dedupe; both degrade without it
	redisClient, err := bootstrap.OpenRedis(ctx, cfg)
	if err != nil {
		logg.Error(ctx, "redis unavailable, continuing without cache", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(ctx, "error closing redis", err)
			}
		}()
	}

	policy, err := fine.PolicyFromConfig(cfg)
	if err != nil {
		return resourceFailed(ctx, logg, "fine policy", err)
	}

	provider, stripeProvider, err := bootstrap.NewPaymentProvider(ctx, cfg, logg)
	if err != nil {
		return resourceFailed(ctx, logg, "payment provider", err)
	}

	// Initialize services
	loanService := service.NewLoanService(
		store.Loans,
		bootstrap.NewCatalog(cfg, redisClient, logg),
		policy,
		clock.New(),
		service.SettingsFromConfig(cfg),
		logg,
	)
	billingService := service.NewBillingService(loanService, provider)
	webhookService := payment.NewWebhookService(billingService, logg)

	checks := map[string]handler.Pinger{"database": store}
	webhook := handler.StripeWebhook(webhookService, stripeProvider.SigningSecret(), nil, logg)
	if redisClient != nil {
		guard, err := payment.NewIdempotencyGuard(redisClient, webhookEventTTL, "stripe")
		if err != nil {
			return resourceFailed(ctx, logg, "webhook idempotency", err)
		}
		webhook = handler.StripeWebhook(webhookService, stripeProvider.SigningSecret(), guard, logg)
		checks["redis"] = redisClient
	}

	router := handler.NewRouter(handler.RouterDeps{
		Loans:    handler.NewLoanHandler(loanService, billingService),
		Health:   handler.NewHealthHandler(checks, cfg.GetHealthTimeout()),
		Webhook:  webhook,
		Verifier: handler.NewTokenVerifier(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer),
		Gatherer: prometheus.DefaultGatherer,
		Logger:   logg,
	})

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.GetReadTimeout(),
		WriteTimeout: cfg.GetWriteTimeout(),
	}

	serverErr := make(chan error, 1)
	go func() {
		logg.Info(logg.WithField(ctx, "addr", server.Addr), "server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logg.Info(ctx, "shutting down server")
	case runErr = <-serverErr:
		if runErr != nil {
			logg.Error(ctx, "server failed", runErr)
		}
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error(ctx, "server forced to shutdown", err)
		return err
	}
	logg.Info(ctx, "server exited")
	return runErr
}

func resourceFailed(ctx context.Context, logg *logger.Logger, resource string, err error) error {
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	return err
}
