package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v84"

	"github.com/segyhp/library-engine/internal/payment"
	apperrors "github.com/segyhp/library-engine/pkg/errors"
	"github.com/segyhp/library-engine/pkg/logger"
	"github.com/segyhp/library-engine/pkg/response"
)

const maxWebhookBody = 1 << 16

// StripeEventHandler applies a verified Stripe event.
type StripeEventHandler interface {
	HandleEvent(ctx context.Context, event *stripe.Event) error
}

type webhookGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

// StripeWebhook handles POST /webhooks/stripe. Redeliveries of an event that
// was already applied are acknowledged without reprocessing; guard may be nil.
// Events rejected for a permanent business reason are logged and acknowledged.
func StripeWebhook(svc StripeEventHandler, signingSecret string, guard webhookGuard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			response.BadRequest(w, "Unable to read request body", err)
			return
		}

		sigHeader := r.Header.Get("Stripe-Signature")
		if sigHeader == "" {
			response.FromError(w, apperrors.WrapUnauthorized("stripe signature missing"))
			return
		}

		event, err := payment.ParseEvent(payload, sigHeader, signingSecret)
		if err != nil {
			response.FromError(w, err)
			return
		}

		if guard != nil {
			alreadyProcessed, err := guard.CheckAndMark(ctx, event.ID)
			if err != nil {
				response.FromError(w, apperrors.WrapCacheError(err))
				return
			}
			if alreadyProcessed {
				response.Success(w, nil)
				return
			}
		}

		if err := svc.HandleEvent(ctx, &event); err != nil {
			eventCtx := logg.WithField(ctx, "event_id", event.ID)
			// Redelivery cannot change a business rejection; keep the mark
			// and acknowledge so the provider stops retrying
			if apperrors.Permanent(err) {
				logg.Error(eventCtx, "stripe event rejected; manual review required", err)
				response.Success(w, nil)
				return
			}
			if guard != nil {
				_ = guard.Delete(ctx, event.ID)
			}
			logg.Error(eventCtx, "stripe event failed", err)
			response.FromError(w, err)
			return
		}

		logg.Info(logg.WithField(ctx, "event_id", event.ID), "stripe event processed")
		response.Success(w, nil)
	}
}
