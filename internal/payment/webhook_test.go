package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"

	"github.com/segyhp/library-engine/internal/domain"
	apperrors "github.com/segyhp/library-engine/pkg/errors"
)

const testSecret = "whsec_test"

func buildSignedEvent(t *testing.T, eventType stripe.EventType, metadata map[string]string) ([]byte, string) {
	t.Helper()
	intent := &stripe.PaymentIntent{
		ID:       "pi_" + uuid.NewString(),
		Status:   stripe.PaymentIntentStatusSucceeded,
		Amount:   2500,
		Currency: stripe.Currency("try"),
		Metadata: metadata,
	}
	raw, err := json.Marshal(intent)
	require.NoError(t, err)

	event := &stripe.Event{
		ID:         "evt_" + uuid.NewString(),
		Type:       eventType,
		Object:     "event",
		APIVersion: stripe.APIVersion,
		Data:       &stripe.EventData{Raw: raw},
	}
	payload, err := json.Marshal(event)
	require.NoError(t, err)
	return payload, signatureHeader(payload, testSecret, time.Now().Unix())
}

func signatureHeader(payload []byte, secret string, ts int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.%s", ts, payload)))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

type recordingConfirmer struct {
	mu    sync.Mutex
	calls [][2]string
	err   error
}

func (c *recordingConfirmer) ConfirmPayment(_ context.Context, loanID, paymentID string) (*domain.Loan, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, [2]string{loanID, paymentID})
	if c.err != nil {
		return nil, c.err
	}
	return &domain.Loan{ID: loanID, FinePaid: true}, nil
}

func TestParseEvent(t *testing.T) {
	payload, header := buildSignedEvent(t, stripe.EventTypePaymentIntentSucceeded, map[string]string{domain.PaymentMetaLoanID: "loan-1"})

	event, err := ParseEvent(payload, header, testSecret)
	require.NoError(t, err)
	assert.Equal(t, stripe.EventTypePaymentIntentSucceeded, event.Type)

	_, err = ParseEvent(payload, "t=1,v1=invalid", testSecret)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)

	_, err = ParseEvent(payload, header, "")
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestWebhookServiceConfirmsSucceededIntents(t *testing.T) {
	payload, header := buildSignedEvent(t, stripe.EventTypePaymentIntentSucceeded, map[string]string{domain.PaymentMetaLoanID: "loan-1"})
	event, err := ParseEvent(payload, header, testSecret)
	require.NoError(t, err)

	confirmer := &recordingConfirmer{}
	svc := NewWebhookService(confirmer, nil)

	require.NoError(t, svc.HandleEvent(context.Background(), &event))
	require.Len(t, confirmer.calls, 1)
	assert.Equal(t, "loan-1", confirmer.calls[0][0])
	assert.Contains(t, confirmer.calls[0][1], "pi_")
}

func TestWebhookServiceIgnoresOtherEvents(t *testing.T) {
	confirmer := &recordingConfirmer{}
	svc := NewWebhookService(confirmer, nil)

	payload, header := buildSignedEvent(t, stripe.EventTypePaymentIntentPaymentFailed, map[string]string{domain.PaymentMetaLoanID: "loan-1"})
	event, err := ParseEvent(payload, header, testSecret)
	require.NoError(t, err)
	require.NoError(t, svc.HandleEvent(context.Background(), &event))

	payload, header = buildSignedEvent(t, stripe.EventTypePaymentIntentSucceeded, nil)
	event, err = ParseEvent(payload, header, testSecret)
	require.NoError(t, err)
	require.NoError(t, svc.HandleEvent(context.Background(), &event))

	assert.Empty(t, confirmer.calls)
}

func TestWebhookServicePropagatesConfirmFailures(t *testing.T) {
	payload, header := buildSignedEvent(t, stripe.EventTypePaymentIntentSucceeded, map[string]string{domain.PaymentMetaLoanID: "loan-1"})
	event, err := ParseEvent(payload, header, testSecret)
	require.NoError(t, err)

	confirmer := &recordingConfirmer{err: apperrors.WrapProviderUnavailable("retrieve", errors.New("timeout"))}
	svc := NewWebhookService(confirmer, nil)

	err = svc.HandleEvent(context.Background(), &event)
	assert.ErrorIs(t, err, apperrors.ErrProviderUnavailable)
}
