package domain

import (
	"github.com/shopspring/decimal"
)

// ProviderPaymentStatus is the settlement state reported by the payment
// provider. Only succeeded is final and settled.
type ProviderPaymentStatus string

const (
	ProviderPaymentSucceeded             ProviderPaymentStatus = "succeeded"
	ProviderPaymentProcessing            ProviderPaymentStatus = "processing"
	ProviderPaymentRequiresAction        ProviderPaymentStatus = "requires_action"
	ProviderPaymentRequiresPaymentMethod ProviderPaymentStatus = "requires_payment_method"
	ProviderPaymentCanceled              ProviderPaymentStatus = "canceled"
)

// Metadata keys attached to provider payments.
const (
	PaymentMetaLoanID    = "loanId"
	PaymentMetaUserID    = "userId"
	PaymentMetaBookTitle = "bookTitle"
	PaymentMetaFineDays  = "fineDays"
	PaymentMetaCurrency  = "currency"
)

// IntentRequest asks the provider for a client-confirmable payment.
// AmountMinor is in cents/kuruş. Repeating a request with the same
// IdempotencyKey returns the original payment.
type IntentRequest struct {
	AmountMinor    int64
	Currency       Currency
	Description    string
	Metadata       map[string]string
	IdempotencyKey string
}

// PaymentHandle is what the client needs to complete a payment externally.
type PaymentHandle struct {
	PaymentID    string          `json:"payment_id"`
	ClientSecret string          `json:"client_secret"`
	LoanID       string          `json:"loan_id"`
	Amount       decimal.Decimal `json:"amount"`
	AmountMinor  int64           `json:"amount_minor"`
	Currency     Currency        `json:"currency"`
}

// ProviderPayment is the provider's view of one payment.
type ProviderPayment struct {
	ID          string
	Status      ProviderPaymentStatus
	AmountMinor int64
	Currency    Currency
	Metadata    map[string]string
}

type InitiatePaymentRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency" validate:"required,len=3"`
}

type ConfirmPaymentRequest struct {
	PaymentID string `json:"payment_id" validate:"required,max=255"`
}
