package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/segyhp/library-engine/internal/domain"
	"github.com/segyhp/library-engine/internal/fine"
	"github.com/segyhp/library-engine/internal/mocks"
	"github.com/segyhp/library-engine/internal/repository"
	"github.com/segyhp/library-engine/internal/service"
	"github.com/segyhp/library-engine/pkg/clock"
	"github.com/segyhp/library-engine/pkg/logger"
)

const (
	testJWTSecret = "test-secret"
	testIssuer    = "digilibrary"
)

type testServer struct {
	handler  http.Handler
	catalog  *mocks.MockCatalog
	provider *mocks.MockProvider
	clock    *clock.Mock
	repo     repository.LoanRepository
	billing  *service.BillingService
}

func newTestServer(t *testing.T, checks map[string]Pinger) *testServer {
	t.Helper()

	policy, err := fine.NewPolicy(14, map[domain.Currency]decimal.Decimal{
		domain.CurrencyTRY: decimal.RequireFromString("5.00"),
		domain.CurrencyEUR: decimal.RequireFromString("0.50"),
	})
	require.NoError(t, err)

	ts := &testServer{
		catalog:  &mocks.MockCatalog{},
		provider: &mocks.MockProvider{},
		clock:    clock.NewMock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		repo:     repository.NewMemoryLoanRepository(),
	}
	loans := service.NewLoanService(ts.repo, ts.catalog, policy, ts.clock, service.DefaultSettings(), logger.Nop())
	ts.billing = service.NewBillingService(loans, ts.provider)

	ts.handler = NewRouter(RouterDeps{
		Loans:    NewLoanHandler(loans, ts.billing),
		Health:   NewHealthHandler(checks, time.Second),
		Verifier: NewTokenVerifier(testJWTSecret, testIssuer),
		Gatherer: prometheus.NewRegistry(),
		Logger:   logger.Nop(),
	})
	return ts
}

func signToken(t *testing.T, userID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    testIssuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return signed
}

func (ts *testServer) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+signToken(t, userID))
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Success bool            `json:"success"`
	Code    string          `json:"code"`
	Data    json.RawMessage `json:"data"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func (ts *testServer) borrow(t *testing.T, userID string) domain.Loan {
	t.Helper()
	ts.catalog.On("Lookup", mock.Anything, "book-1").Return(&domain.BookSnapshot{
		ID:      "book-1",
		Title:   "Dune",
		Authors: []string{"Frank Herbert"},
	}, nil).Once()

	rec := ts.do(t, http.MethodPost, "/api/v1/loans", userID, map[string]string{"book_id": "book-1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var loan domain.Loan
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &loan))
	return loan
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		name   string
		header string
	}{
		{name: "no header", header: ""},
		{name: "not bearer", header: "Basic abc"},
		{name: "garbage token", header: "Bearer not-a-jwt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/loans/active", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			ts.handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "UNAUTHORIZED", decodeEnvelope(t, rec).Code)
		})
	}
}

func TestTokenVerifier_RejectsWrongIssuerAndSecret(t *testing.T) {
	verifier := NewTokenVerifier(testJWTSecret, testIssuer)

	other := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "u", Issuer: "elsewhere"})
	signed, err := other.SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	_, err = verifier.Verify(signed)
	assert.Error(t, err)

	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "u", Issuer: testIssuer})
	signed, err = forged.SignedString([]byte("wrong"))
	require.NoError(t, err)
	_, err = verifier.Verify(signed)
	assert.Error(t, err)

	userID, err := verifier.Verify(signToken(t, "user-9"))
	require.NoError(t, err)
	assert.Equal(t, "user-9", userID)
}

func TestLoanLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t, nil)
	loan := ts.borrow(t, "user-1")
	assert.Equal(t, domain.LoanStatusActive, loan.Status)
	assert.Equal(t, "Dune", loan.BookTitle)

	rec := ts.do(t, http.MethodGet, "/api/v1/loans/active", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var active []domain.LoanView
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &active))
	require.Len(t, active, 1)
	assert.Equal(t, 14, active[0].DaysRemaining)

	ts.clock.Set(time.Date(2024, 1, 18, 0, 0, 0, 0, time.UTC))
	rec = ts.do(t, http.MethodGet, "/api/v1/loans/"+loan.ID+"/fine?currency=EUR", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var quote domain.FineQuote
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &quote))
	assert.Equal(t, 3, quote.FineDays)
	assert.True(t, quote.FineAmount.Equal(decimal.RequireFromString("1.50")))

	rec = ts.do(t, http.MethodPost, "/api/v1/loans/"+loan.ID+"/return", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/loans/"+loan.ID+"/return", "user-1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "INVALID_STATE", decodeEnvelope(t, rec).Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/loans/history", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history []domain.Loan
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &history))
	require.Len(t, history, 1)
	assert.True(t, history[0].FineAmount.Equal(decimal.NewFromInt(15)))
}

func TestLoansOfOtherUsersAreHidden(t *testing.T) {
	ts := newTestServer(t, nil)
	loan := ts.borrow(t, "owner")

	for _, path := range []string{"/api/v1/loans/" + loan.ID, "/api/v1/loans/" + loan.ID + "/fine"} {
		rec := ts.do(t, http.MethodGet, path, "intruder", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}

	rec := ts.do(t, http.MethodPost, "/api/v1/loans/"+loan.ID+"/return", "intruder", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	stored, err := ts.repo.GetByID(context.Background(), loan.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LoanStatusActive, stored.Status)
}

func TestBorrowValidation(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/api/v1/loans", "user-1", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeEnvelope(t, rec).Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/loans", "user-1", map[string]string{"book_id": "b", "currency": "USD"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_CURRENCY", decodeEnvelope(t, rec).Code)

	ts.catalog.On("Lookup", mock.Anything, "ghost").Return(nil, errors.New("dial tcp: i/o timeout")).Once()
	rec = ts.do(t, http.MethodPost, "/api/v1/loans", "user-1", map[string]string{"book_id": "ghost"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestFinePaymentOverHTTP(t *testing.T) {
	ts := newTestServer(t, nil)
	loan := ts.borrow(t, "user-1")
	ts.clock.Set(time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC))

	ts.provider.On("CreateIntent", mock.Anything, mock.MatchedBy(func(req domain.IntentRequest) bool {
		return req.AmountMinor == 2500 && req.Currency == domain.CurrencyTRY
	})).Return(&domain.PaymentHandle{PaymentID: "pi_1", ClientSecret: "pi_1_secret"}, nil).Once()

	rec := ts.do(t, http.MethodPost, "/api/v1/loans/"+loan.ID+"/payments", "user-1",
		map[string]string{"amount": "25.00", "currency": "TRY"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var handle domain.PaymentHandle
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &handle))
	assert.Equal(t, "pi_1_secret", handle.ClientSecret)

	rec = ts.do(t, http.MethodPost, "/api/v1/loans/"+loan.ID+"/payments", "user-1",
		map[string]string{"amount": "3.00", "currency": "TRY"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_AMOUNT", decodeEnvelope(t, rec).Code)

	ts.provider.On("Retrieve", mock.Anything, "pi_1").Return(&domain.ProviderPayment{
		ID:          "pi_1",
		Status:      domain.ProviderPaymentSucceeded,
		AmountMinor: 2500,
		Currency:    domain.CurrencyTRY,
		Metadata:    map[string]string{domain.PaymentMetaLoanID: loan.ID},
	}, nil).Once()

	rec = ts.do(t, http.MethodPost, "/api/v1/loans/"+loan.ID+"/payments/confirm", "user-1",
		map[string]string{"payment_id": "pi_1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var paid domain.Loan
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &paid))
	assert.True(t, paid.FinePaid)
	assert.Len(t, paid.PaymentHistory, 1)

	ts.provider.AssertExpectations(t)
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func TestHealth(t *testing.T) {
	healthy := newTestServer(t, map[string]Pinger{"store": fakePinger{}, "redis": nil})
	rec := healthy.do(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	broken := newTestServer(t, map[string]Pinger{"store": fakePinger{err: errors.New("down")}})
	rec = broken.do(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "failed: down")

	rec = broken.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/metrics", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
}
