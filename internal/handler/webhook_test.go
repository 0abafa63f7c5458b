package handler

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"

	"github.com/segyhp/library-engine/internal/domain"
	"github.com/segyhp/library-engine/internal/payment"
	apperrors "github.com/segyhp/library-engine/pkg/errors"
	"github.com/segyhp/library-engine/pkg/logger"
)

const webhookSecret = "whsec_test"

type fakeEventHandler struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeEventHandler) HandleEvent(ctx context.Context, event *stripe.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

type memoryGuard struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (g *memoryGuard) CheckAndMark(ctx context.Context, eventID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.seen[eventID] {
		return true, nil
	}
	g.seen[eventID] = true
	return false, nil
}

func (g *memoryGuard) Delete(ctx context.Context, eventID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.seen, eventID)
	return nil
}

func signedEvent(t *testing.T, eventID string) ([]byte, string) {
	t.Helper()
	return signedIntentEvent(t, eventID, json.RawMessage(`{"id":"pi_1","object":"payment_intent"}`))
}

func signedIntentEvent(t *testing.T, eventID string, intent json.RawMessage) ([]byte, string) {
	t.Helper()
	event := &stripe.Event{
		ID:         eventID,
		Type:       stripe.EventTypePaymentIntentSucceeded,
		Object:     "event",
		APIVersion: stripe.APIVersion,
		Data:       &stripe.EventData{Raw: intent},
	}
	payload, err := json.Marshal(event)
	require.NoError(t, err)

	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	mac.Write([]byte(fmt.Sprintf("%d.%s", ts, payload)))
	return payload, fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func postWebhook(h http.HandlerFunc, payload []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestStripeWebhook_ProcessesEventOnce(t *testing.T) {
	svc := &fakeEventHandler{}
	guard := &memoryGuard{seen: map[string]bool{}}
	h := StripeWebhook(svc, webhookSecret, guard, logger.Nop())

	payload, signature := signedEvent(t, "evt_1")
	first := postWebhook(h, payload, signature)
	second := postWebhook(h, payload, signature)

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, 1, svc.calls)
}

func TestStripeWebhook_FailureAllowsRedelivery(t *testing.T) {
	svc := &fakeEventHandler{err: errors.New("store unavailable")}
	guard := &memoryGuard{seen: map[string]bool{}}
	h := StripeWebhook(svc, webhookSecret, guard, logger.Nop())

	payload, signature := signedEvent(t, "evt_2")
	rec := postWebhook(h, payload, signature)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	svc.err = nil
	rec = postWebhook(h, payload, signature)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, svc.calls)
}

func TestStripeWebhook_BusinessRejections(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		expectedCode int
		expectedRuns int
	}{
		{name: "payment bound to another loan", err: apperrors.WrapPaymentLoanMismatch("pi_1", "L1"), expectedCode: http.StatusOK, expectedRuns: 1},
		{name: "payment short of the fine", err: apperrors.WrapInvalidPaymentAmount("0.01", "short"), expectedCode: http.StatusOK, expectedRuns: 1},
		{name: "fine already paid", err: apperrors.WrapFineAlreadyPaid("L1"), expectedCode: http.StatusOK, expectedRuns: 1},
		{name: "payment still processing", err: apperrors.WrapPaymentNotSucceeded("pi_1", "processing"), expectedCode: http.StatusUnprocessableEntity, expectedRuns: 2},
		{name: "provider unavailable", err: apperrors.WrapProviderUnavailable("retrieve", errors.New("eof")), expectedCode: http.StatusServiceUnavailable, expectedRuns: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeEventHandler{err: tt.err}
			guard := &memoryGuard{seen: map[string]bool{}}
			h := StripeWebhook(svc, webhookSecret, guard, logger.Nop())

			payload, signature := signedEvent(t, "evt_rejected")
			first := postWebhook(h, payload, signature)
			postWebhook(h, payload, signature)

			assert.Equal(t, tt.expectedCode, first.Code)
			assert.Equal(t, tt.expectedRuns, svc.calls)
		})
	}
}

func TestStripeWebhook_RejectsBadSignatures(t *testing.T) {
	svc := &fakeEventHandler{}
	h := StripeWebhook(svc, webhookSecret, nil, logger.Nop())
	payload, _ := signedEvent(t, "evt_3")

	missing := postWebhook(h, payload, "")
	assert.Equal(t, http.StatusUnauthorized, missing.Code)

	forged := postWebhook(h, payload, fmt.Sprintf("t=%d,v1=deadbeef", time.Now().Unix()))
	assert.Equal(t, http.StatusUnauthorized, forged.Code)

	unconfigured := StripeWebhook(svc, "", nil, logger.Nop())
	_, signature := signedEvent(t, "evt_4")
	assert.Equal(t, http.StatusUnauthorized, postWebhook(unconfigured, payload, signature).Code)

	assert.Equal(t, 0, svc.calls)
}

func succeededIntent(paymentID, loanID string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(
		`{"id":%q,"object":"payment_intent","status":"succeeded","metadata":{%q:%q}}`,
		paymentID, domain.PaymentMetaLoanID, loanID))
}

func TestStripeWebhook_SettlementOutcomes(t *testing.T) {
	ts := newTestServer(t, nil)
	ctx := context.Background()
	loan := ts.borrow(t, "user-1")
	ts.clock.Set(time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC))

	guard := &memoryGuard{seen: map[string]bool{}}
	h := StripeWebhook(payment.NewWebhookService(ts.billing, logger.Nop()), webhookSecret, guard, logger.Nop())

	captured := func(id string, amountMinor int64, owner string) *domain.ProviderPayment {
		return &domain.ProviderPayment{
			ID:          id,
			Status:      domain.ProviderPaymentSucceeded,
			AmountMinor: amountMinor,
			Currency:    domain.CurrencyTRY,
			Metadata:    map[string]string{domain.PaymentMetaLoanID: owner},
		}
	}

	// Under-payment is rejected for good and acknowledged
	ts.provider.On("Retrieve", mock.Anything, "pi_short").Return(captured("pi_short", 1, loan.ID), nil).Once()
	payload, signature := signedIntentEvent(t, "evt_short", succeededIntent("pi_short", loan.ID))
	assert.Equal(t, http.StatusOK, postWebhook(h, payload, signature).Code)
	assert.Equal(t, http.StatusOK, postWebhook(h, payload, signature).Code)

	stored, err := ts.repo.GetByID(ctx, loan.ID)
	require.NoError(t, err)
	assert.False(t, stored.FinePaid)
	assert.Empty(t, stored.PaymentHistory)

	// Full payment settles the fine
	ts.provider.On("Retrieve", mock.Anything, "pi_1").Return(captured("pi_1", 2500, loan.ID), nil).Once()
	payload, signature = signedIntentEvent(t, "evt_paid", succeededIntent("pi_1", loan.ID))
	assert.Equal(t, http.StatusOK, postWebhook(h, payload, signature).Code)

	// A second capture for the settled fine is kept for refunding
	ts.provider.On("Retrieve", mock.Anything, "pi_2").Return(captured("pi_2", 2500, loan.ID), nil).Once()
	payload, signature = signedIntentEvent(t, "evt_duplicate", succeededIntent("pi_2", loan.ID))
	assert.Equal(t, http.StatusOK, postWebhook(h, payload, signature).Code)

	stored, err = ts.repo.GetByID(ctx, loan.ID)
	require.NoError(t, err)
	assert.True(t, stored.FinePaid)
	assert.True(t, stored.FineAmount.Equal(decimal.NewFromInt(25)))
	require.Len(t, stored.PaymentHistory, 2)
	assert.Equal(t, domain.PaymentRecordSucceeded, stored.PaymentHistory[0].Status)
	assert.Equal(t, domain.PaymentRecordDuplicate, stored.PaymentHistory[1].Status)

	ts.provider.AssertExpectations(t)
}
