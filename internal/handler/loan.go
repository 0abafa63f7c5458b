package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/segyhp/library-engine/internal/domain"
	apperrors "github.com/segyhp/library-engine/pkg/errors"
	"github.com/segyhp/library-engine/pkg/response"
)

// LoanService is the lifecycle surface the handlers drive.
type LoanService interface {
	Borrow(ctx context.Context, userID string, request domain.BorrowRequest) (*domain.Loan, error)
	Return(ctx context.Context, loanID string) (*domain.Loan, error)
	MarkLost(ctx context.Context, loanID string) (*domain.Loan, error)
	GetLoan(ctx context.Context, loanID string) (*domain.Loan, error)
	GetFineQuote(ctx context.Context, loanID string, currency string) (*domain.FineQuote, error)
	ListActive(ctx context.Context, userID string) ([]domain.LoanView, error)
	ListHistory(ctx context.Context, userID string) ([]*domain.Loan, error)
}

// BillingService is the fine payment surface the handlers drive.
type BillingService interface {
	InitiatePayment(ctx context.Context, loanID string, amount decimal.Decimal, currency string) (*domain.PaymentHandle, error)
	ConfirmPayment(ctx context.Context, loanID, paymentID string) (*domain.Loan, error)
}

type LoanHandler struct {
	loans     LoanService
	billing   BillingService
	validator *validator.Validate
}

func NewLoanHandler(loans LoanService, billing BillingService) *LoanHandler {
	return &LoanHandler{
		loans:     loans,
		billing:   billing,
		validator: validator.New(),
	}
}

// Borrow handles POST /api/v1/loans
func (h *LoanHandler) Borrow(w http.ResponseWriter, r *http.Request) {
	var request domain.BorrowRequest
	if !h.decode(w, r, &request) {
		return
	}

	loan, err := h.loans.Borrow(r.Context(), UserIDFromContext(r.Context()), request)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Created(w, loan)
}

// Active handles GET /api/v1/loans/active
func (h *LoanHandler) Active(w http.ResponseWriter, r *http.Request) {
	loans, err := h.loans.ListActive(r.Context(), UserIDFromContext(r.Context()))
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, loans)
}

// History handles GET /api/v1/loans/history
func (h *LoanHandler) History(w http.ResponseWriter, r *http.Request) {
	loans, err := h.loans.ListHistory(r.Context(), UserIDFromContext(r.Context()))
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, loans)
}

// Get handles GET /api/v1/loans/{loanId}
func (h *LoanHandler) Get(w http.ResponseWriter, r *http.Request) {
	loan, ok := h.ownedLoan(w, r)
	if !ok {
		return
	}
	response.Success(w, loan)
}

// Return handles POST /api/v1/loans/{loanId}/return
func (h *LoanHandler) Return(w http.ResponseWriter, r *http.Request) {
	loan, ok := h.ownedLoan(w, r)
	if !ok {
		return
	}

	returned, err := h.loans.Return(r.Context(), loan.ID)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, returned)
}

// MarkLost handles POST /api/v1/loans/{loanId}/lost
func (h *LoanHandler) MarkLost(w http.ResponseWriter, r *http.Request) {
	loan, ok := h.ownedLoan(w, r)
	if !ok {
		return
	}

	lost, err := h.loans.MarkLost(r.Context(), loan.ID)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, lost)
}

// Fine handles GET /api/v1/loans/{loanId}/fine?currency=EUR
func (h *LoanHandler) Fine(w http.ResponseWriter, r *http.Request) {
	loan, ok := h.ownedLoan(w, r)
	if !ok {
		return
	}

	quote, err := h.loans.GetFineQuote(r.Context(), loan.ID, r.URL.Query().Get("currency"))
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, quote)
}

// InitiatePayment handles POST /api/v1/loans/{loanId}/payments
func (h *LoanHandler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	var request domain.InitiatePaymentRequest
	if !h.decode(w, r, &request) {
		return
	}
	loan, ok := h.ownedLoan(w, r)
	if !ok {
		return
	}

	handle, err := h.billing.InitiatePayment(r.Context(), loan.ID, request.Amount, request.Currency)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Created(w, handle)
}

// ConfirmPayment handles POST /api/v1/loans/{loanId}/payments/confirm
func (h *LoanHandler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	var request domain.ConfirmPaymentRequest
	if !h.decode(w, r, &request) {
		return
	}
	loan, ok := h.ownedLoan(w, r)
	if !ok {
		return
	}

	paid, err := h.billing.ConfirmPayment(r.Context(), loan.ID, request.PaymentID)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, paid)
}

// ownedLoan loads the path's loan and hides loans of other users.
func (h *LoanHandler) ownedLoan(w http.ResponseWriter, r *http.Request) (*domain.Loan, bool) {
	loanID := mux.Vars(r)["loanId"]

	loan, err := h.loans.GetLoan(r.Context(), loanID)
	if err != nil {
		response.FromError(w, err)
		return nil, false
	}
	if loan.UserID != UserIDFromContext(r.Context()) {
		response.FromError(w, apperrors.WrapLoanNotFound(loanID))
		return nil, false
	}
	return loan, true
}

func (h *LoanHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		response.BadRequest(w, "Invalid request body", err)
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		response.FromError(w, apperrors.WrapValidation(err))
		return false
	}
	return true
}
