package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v84"

	"github.com/segyhp/library-engine/internal/config"
	"github.com/segyhp/library-engine/internal/domain"
	apperrors "github.com/segyhp/library-engine/pkg/errors"
	"github.com/segyhp/library-engine/pkg/logger"
)

const (
	testEnv = "test"
	liveEnv = "live"
)

var (
	errAPIKeyRequired   = errors.New("stripe api key is required")
	errInvalidStripeEnv = fmt.Errorf("stripe environment must be %q or %q", testEnv, liveEnv)
)

// intentAPI is the subset of the Stripe payment intent service in use.
type intentAPI interface {
	Create(ctx context.Context, params *stripe.PaymentIntentCreateParams) (*stripe.PaymentIntent, error)
	Retrieve(ctx context.Context, id string, params *stripe.PaymentIntentRetrieveParams) (*stripe.PaymentIntent, error)
}

// StripeProvider implements Provider with Stripe payment intents.
type StripeProvider struct {
	intents       intentAPI
	environment   string
	signingSecret string
}

// NewStripeProvider validates the configured key against the environment and
// builds a Stripe API client.
func NewStripeProvider(ctx context.Context, cfg config.StripeConfig, log *logger.Logger) (*StripeProvider, error) {
	env, err := normalizeEnv(cfg.Env)
	if err != nil {
		return nil, err
	}

	apiKey := strings.TrimSpace(cfg.SecretKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}
	if err := validateAPIKey(env, apiKey); err != nil {
		return nil, err
	}

	api := stripe.NewClient(apiKey)

	if log != nil {
		log.Info(ctx, fmt.Sprintf("stripe client initialized (%s)", env))
	}

	return &StripeProvider{
		intents:       api.V1PaymentIntents,
		environment:   env,
		signingSecret: strings.TrimSpace(cfg.WebhookSecret),
	}, nil
}

func newStripeProvider(intents intentAPI, secret string) *StripeProvider {
	return &StripeProvider{intents: intents, environment: testEnv, signingSecret: secret}
}

// Environment reports the normalized Stripe environment in use.
func (p *StripeProvider) Environment() string {
	if p == nil {
		return ""
	}
	return p.environment
}

// SigningSecret returns the webhook signing secret.
func (p *StripeProvider) SigningSecret() string {
	if p == nil {
		return ""
	}
	return p.signingSecret
}

// CreateIntent creates a payment intent with automatic payment methods.
func (p *StripeProvider) CreateIntent(ctx context.Context, req domain.IntentRequest) (*domain.PaymentHandle, error) {
	if req.AmountMinor <= 0 {
		return nil, apperrors.WrapInvalidPaymentAmount(fmt.Sprintf("%d", req.AmountMinor), "must be positive")
	}

	params := &stripe.PaymentIntentCreateParams{
		Amount:   stripe.Int64(req.AmountMinor),
		Currency: stripe.String(strings.ToLower(string(req.Currency))),
		AutomaticPaymentMethods: &stripe.PaymentIntentCreateAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	for key, value := range req.Metadata {
		params.AddMetadata(key, value)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	intent, err := p.intents.Create(ctx, params)
	if err != nil {
		return nil, classify("create payment intent", err)
	}

	return &domain.PaymentHandle{
		PaymentID:    intent.ID,
		ClientSecret: intent.ClientSecret,
		AmountMinor:  intent.Amount,
		Currency:     domain.Currency(strings.ToUpper(string(intent.Currency))),
	}, nil
}

// Retrieve fetches the current state of a payment intent.
func (p *StripeProvider) Retrieve(ctx context.Context, paymentID string) (*domain.ProviderPayment, error) {
	intent, err := p.intents.Retrieve(ctx, paymentID, &stripe.PaymentIntentRetrieveParams{})
	if err != nil {
		return nil, classify("retrieve payment intent", err)
	}
	return fromIntent(intent), nil
}

func fromIntent(intent *stripe.PaymentIntent) *domain.ProviderPayment {
	return &domain.ProviderPayment{
		ID:          intent.ID,
		Status:      domain.ProviderPaymentStatus(intent.Status),
		AmountMinor: intent.Amount,
		Currency:    domain.Currency(strings.ToUpper(string(intent.Currency))),
		Metadata:    intent.Metadata,
	}
}

// classify splits Stripe failures into retryable transport problems and
// definitive rejections.
func classify(operation string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode >= http.StatusInternalServerError ||
			stripeErr.HTTPStatusCode == http.StatusTooManyRequests ||
			stripeErr.Type == stripe.ErrorTypeAPI {
			return apperrors.WrapProviderUnavailable(operation, err)
		}
		return apperrors.WrapProviderError(operation, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return apperrors.WrapProviderUnavailable(operation, err)
}

func normalizeEnv(raw string) (string, error) {
	env := strings.TrimSpace(strings.ToLower(raw))
	if env == "" {
		env = testEnv
	}
	switch env {
	case testEnv, liveEnv:
		return env, nil
	default:
		return "", errInvalidStripeEnv
	}
}

func validateAPIKey(env, key string) error {
	switch env {
	case testEnv:
		if strings.HasPrefix(key, "sk_test") || strings.HasPrefix(key, "rk_test") {
			return nil
		}
		return fmt.Errorf("stripe environment %q requires a test secret key (sk_test/rk_test)", testEnv)
	case liveEnv:
		if strings.HasPrefix(key, "sk_live") || strings.HasPrefix(key, "rk_live") {
			return nil
		}
		return fmt.Errorf("stripe environment %q requires a live secret key (sk_live/rk_live)", liveEnv)
	default:
		return errInvalidStripeEnv
	}
}
