package payment

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"

	"github.com/segyhp/library-engine/internal/config"
	"github.com/segyhp/library-engine/internal/domain"
	apperrors "github.com/segyhp/library-engine/pkg/errors"
)

type fakeIntents struct {
	created     *stripe.PaymentIntentCreateParams
	createResp  *stripe.PaymentIntent
	createErr   error
	retrieveID  string
	retrieveErr error
	intents     map[string]*stripe.PaymentIntent
}

func (f *fakeIntents) Create(_ context.Context, params *stripe.PaymentIntentCreateParams) (*stripe.PaymentIntent, error) {
	f.created = params
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.createResp, nil
}

func (f *fakeIntents) Retrieve(_ context.Context, id string, _ *stripe.PaymentIntentRetrieveParams) (*stripe.PaymentIntent, error) {
	f.retrieveID = id
	if f.retrieveErr != nil {
		return nil, f.retrieveErr
	}
	intent, ok := f.intents[id]
	if !ok {
		return nil, &stripe.Error{HTTPStatusCode: http.StatusNotFound, Type: stripe.ErrorTypeInvalidRequest, Msg: "No such payment_intent"}
	}
	return intent, nil
}

func TestStripeProviderCreateIntent(t *testing.T) {
	intents := &fakeIntents{createResp: &stripe.PaymentIntent{
		ID:           "pi_123",
		ClientSecret: "pi_123_secret_abc",
		Amount:       2500,
		Currency:     stripe.Currency("try"),
	}}
	provider := newStripeProvider(intents, "whsec_test")

	handle, err := provider.CreateIntent(context.Background(), domain.IntentRequest{
		AmountMinor:    2500,
		Currency:       domain.CurrencyTRY,
		Description:    "Overdue fine - Dune (5 days)",
		Metadata:       map[string]string{domain.PaymentMetaLoanID: "loan-1"},
		IdempotencyKey: "fine:loan-1:v2",
	})
	require.NoError(t, err)

	assert.Equal(t, "pi_123", handle.PaymentID)
	assert.Equal(t, "pi_123_secret_abc", handle.ClientSecret)
	assert.Equal(t, int64(2500), handle.AmountMinor)
	assert.Equal(t, domain.CurrencyTRY, handle.Currency)

	require.NotNil(t, intents.created)
	assert.Equal(t, int64(2500), *intents.created.Amount)
	assert.Equal(t, "try", *intents.created.Currency)
	assert.Equal(t, "Overdue fine - Dune (5 days)", *intents.created.Description)
	assert.Equal(t, "loan-1", intents.created.Metadata[domain.PaymentMetaLoanID])
	assert.True(t, *intents.created.AutomaticPaymentMethods.Enabled)
	assert.Equal(t, "fine:loan-1:v2", *intents.created.IdempotencyKey)
}

func TestStripeProviderRejectsNonPositiveAmounts(t *testing.T) {
	provider := newStripeProvider(&fakeIntents{}, "")
	_, err := provider.CreateIntent(context.Background(), domain.IntentRequest{AmountMinor: 0, Currency: domain.CurrencyEUR})
	assert.ErrorIs(t, err, apperrors.ErrInvalidAmount)
}

func TestStripeProviderRetrieve(t *testing.T) {
	intents := &fakeIntents{intents: map[string]*stripe.PaymentIntent{
		"pi_ok": {
			ID:       "pi_ok",
			Status:   stripe.PaymentIntentStatusSucceeded,
			Amount:   150,
			Currency: stripe.Currency("eur"),
			Metadata: map[string]string{domain.PaymentMetaLoanID: "loan-9"},
		},
	}}
	provider := newStripeProvider(intents, "")

	payment, err := provider.Retrieve(context.Background(), "pi_ok")
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderPaymentSucceeded, payment.Status)
	assert.Equal(t, int64(150), payment.AmountMinor)
	assert.Equal(t, domain.CurrencyEUR, payment.Currency)
	assert.Equal(t, "loan-9", payment.Metadata[domain.PaymentMetaLoanID])

	_, err = provider.Retrieve(context.Background(), "pi_missing")
	assert.ErrorIs(t, err, apperrors.ErrProviderError)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "server error", err: &stripe.Error{HTTPStatusCode: http.StatusBadGateway}, want: apperrors.ErrProviderUnavailable},
		{name: "rate limited", err: &stripe.Error{HTTPStatusCode: http.StatusTooManyRequests}, want: apperrors.ErrProviderUnavailable},
		{name: "api error", err: &stripe.Error{HTTPStatusCode: http.StatusOK, Type: stripe.ErrorTypeAPI}, want: apperrors.ErrProviderUnavailable},
		{name: "card declined", err: &stripe.Error{HTTPStatusCode: http.StatusPaymentRequired, Type: stripe.ErrorTypeCard}, want: apperrors.ErrProviderError},
		{name: "network", err: errors.New("dial tcp: connection refused"), want: apperrors.ErrProviderUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, classify("op", tt.err), tt.want)
		})
	}

	assert.ErrorIs(t, classify("op", context.Canceled), context.Canceled)
}

func TestNewStripeProviderValidatesKeys(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.StripeConfig
		wantErr bool
		env     string
	}{
		{name: "missing key", cfg: config.StripeConfig{Env: "test"}, wantErr: true},
		{name: "live key in test", cfg: config.StripeConfig{Env: "test", SecretKey: "sk_live_123"}, wantErr: true},
		{name: "test key in live", cfg: config.StripeConfig{Env: "live", SecretKey: "sk_test_123"}, wantErr: true},
		{name: "unknown env", cfg: config.StripeConfig{Env: "staging", SecretKey: "sk_test_123"}, wantErr: true},
		{name: "default env", cfg: config.StripeConfig{SecretKey: "sk_test_123"}, env: "test"},
		{name: "restricted live key", cfg: config.StripeConfig{Env: "LIVE", SecretKey: "rk_live_123", WebhookSecret: " whsec_1 "}, env: "live"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := NewStripeProvider(context.Background(), tt.cfg, nil)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.env, provider.Environment())
			assert.Equal(t, strings.TrimSpace(tt.cfg.WebhookSecret), provider.SigningSecret())
		})
	}
}
