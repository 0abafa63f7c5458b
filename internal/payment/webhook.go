package payment

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/segyhp/library-engine/internal/domain"
	apperrors "github.com/segyhp/library-engine/pkg/errors"
	"github.com/segyhp/library-engine/pkg/logger"
)

// Confirmer settles a loan's fine from a provider payment.
type Confirmer interface {
	ConfirmPayment(ctx context.Context, loanID, paymentID string) (*domain.Loan, error)
}

// ParseEvent verifies the Stripe-Signature header and decodes the event.
func ParseEvent(payload []byte, signature, secret string) (stripe.Event, error) {
	if secret == "" {
		return stripe.Event{}, apperrors.WrapUnauthorized("stripe webhook secret is not configured")
	}
	event, err := webhook.ConstructEvent(payload, signature, secret)
	if err != nil {
		return stripe.Event{}, apperrors.WrapUnauthorized(fmt.Sprintf("invalid stripe signature: %v", err))
	}
	return event, nil
}

// WebhookService reconciles loans from Stripe events.
type WebhookService struct {
	confirmer Confirmer
	log       *logger.Logger
}

func NewWebhookService(confirmer Confirmer, log *logger.Logger) *WebhookService {
	if log == nil {
		log = logger.Nop()
	}
	return &WebhookService{confirmer: confirmer, log: log}
}

// HandleEvent confirms the payment behind payment_intent.succeeded events.
// Other event types are acknowledged and ignored.
func (s *WebhookService) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return apperrors.WrapValidation(fmt.Errorf("event payload missing"))
	}

	ctx = s.log.WithFields(ctx, map[string]any{"event_id": event.ID, "event_type": string(event.Type)})

	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded:
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return apperrors.WrapValidation(fmt.Errorf("decode payment intent: %w", err))
		}
		loanID := intent.Metadata[domain.PaymentMetaLoanID]
		if loanID == "" {
			s.log.Warn(ctx, "payment intent without loan metadata ignored")
			return nil
		}
		ctx = s.log.WithLoanID(ctx, loanID)
		if _, err := s.confirmer.ConfirmPayment(ctx, loanID, intent.ID); err != nil {
			return err
		}
		s.log.Info(ctx, "fine settled from webhook")
		return nil
	default:
		s.log.Debug(ctx, "stripe event ignored")
		return nil
	}
}
