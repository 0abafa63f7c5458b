package payment

import (
	"context"

	"github.com/segyhp/library-engine/internal/domain"
	apperrors "github.com/segyhp/library-engine/pkg/errors"
	"github.com/segyhp/library-engine/pkg/utils"
)

// Provider creates and inspects payments at an external processor. Errors
// are apperrors business errors: ProviderUnavailable for transport failures
// and ProviderError for rejected requests.
type Provider interface {
	CreateIntent(ctx context.Context, req domain.IntentRequest) (*domain.PaymentHandle, error)
	Retrieve(ctx context.Context, paymentID string) (*domain.ProviderPayment, error)
}

type retrying struct {
	next   Provider
	policy utils.RetryPolicy
}

// WithRetry retries ProviderUnavailable failures with exponential backoff.
// Creation is only retried when the request carries an idempotency key.
func WithRetry(next Provider, policy utils.RetryPolicy) Provider {
	return &retrying{next: next, policy: policy}
}

func isUnavailable(err error) bool {
	return apperrors.CodeOf(err) == apperrors.ErrCodeProviderUnavailable
}

func (r *retrying) CreateIntent(ctx context.Context, req domain.IntentRequest) (*domain.PaymentHandle, error) {
	if req.IdempotencyKey == "" {
		return r.next.CreateIntent(ctx, req)
	}

	var handle *domain.PaymentHandle
	err := r.policy.Do(ctx, func(ctx context.Context) error {
		created, err := r.next.CreateIntent(ctx, req)
		if err != nil {
			return err
		}
		handle = created
		return nil
	}, isUnavailable)
	if err != nil {
		return nil, err
	}
	return handle, nil
}

func (r *retrying) Retrieve(ctx context.Context, paymentID string) (*domain.ProviderPayment, error) {
	var payment *domain.ProviderPayment
	err := r.policy.Do(ctx, func(ctx context.Context) error {
		found, err := r.next.Retrieve(ctx, paymentID)
		if err != nil {
			return err
		}
		payment = found
		return nil
	}, isUnavailable)
	if err != nil {
		return nil, err
	}
	return payment, nil
}
