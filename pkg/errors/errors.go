package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Domain errors
var (
	ErrLoanNotFound         = errors.New("loan not found")
	ErrBookNotFound         = errors.New("book not found")
	ErrInvalidState         = errors.New("operation not valid for loan state")
	ErrInvalidAmount        = errors.New("invalid payment amount")
	ErrInvalidCurrency      = errors.New("unsupported currency")
	ErrCatalogLookupFailed  = errors.New("catalog lookup failed")
	ErrProviderUnavailable  = errors.New("payment provider unavailable")
	ErrProviderError        = errors.New("payment provider rejected the request")
	ErrPaymentNotSucceeded  = errors.New("payment has not succeeded")
	ErrComputation          = errors.New("fine cannot be computed")
	ErrDuplicateKey         = errors.New("duplicate key")
	ErrConcurrentUpdate     = errors.New("loan was modified concurrently")
	ErrLoanLimitReached     = errors.New("active loan limit reached")
	ErrUnauthorized         = errors.New("authentication required")
	ErrValidation           = errors.New("validation failed")
	ErrNoOutstandingBalance = errors.New("no outstanding fine")
)

// BusinessError represents a business logic error
type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

// NewBusinessError creates a new business error
func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Error codes
const (
	ErrCodeLoanNotFound         = "LOAN_NOT_FOUND"
	ErrCodeBookNotFound         = "BOOK_NOT_FOUND"
	ErrCodeInvalidState         = "INVALID_STATE"
	ErrCodeInvalidAmount        = "INVALID_AMOUNT"
	ErrCodeInvalidCurrency      = "INVALID_CURRENCY"
	ErrCodeCatalogLookupFailed  = "CATALOG_LOOKUP_FAILED"
	ErrCodeProviderUnavailable  = "PROVIDER_UNAVAILABLE"
	ErrCodeProviderError        = "PROVIDER_ERROR"
	ErrCodePaymentNotSucceeded  = "PAYMENT_NOT_SUCCEEDED"
	ErrCodeComputationError     = "COMPUTATION_ERROR"
	ErrCodeDuplicateKey         = "DUPLICATE_KEY"
	ErrCodeConcurrentUpdate     = "CONCURRENT_UPDATE"
	ErrCodeLoanLimitReached     = "LOAN_LIMIT_REACHED"
	ErrCodeNoOutstandingBalance = "NO_OUTSTANDING_BALANCE"
	ErrCodeUnauthorized         = "UNAUTHORIZED"
	ErrCodeValidation           = "VALIDATION_ERROR"
	ErrCodeDatabaseError        = "DATABASE_ERROR"
	ErrCodeCacheError           = "CACHE_ERROR"
	ErrCodeInternal             = "INTERNAL_ERROR"
)

var statusByCode = map[string]int{
	ErrCodeLoanNotFound:         http.StatusNotFound,
	ErrCodeBookNotFound:         http.StatusNotFound,
	ErrCodeInvalidState:         http.StatusConflict,
	ErrCodeInvalidAmount:        http.StatusBadRequest,
	ErrCodeInvalidCurrency:      http.StatusBadRequest,
	ErrCodeCatalogLookupFailed:  http.StatusBadGateway,
	ErrCodeProviderUnavailable:  http.StatusServiceUnavailable,
	ErrCodeProviderError:        http.StatusBadGateway,
	ErrCodePaymentNotSucceeded:  http.StatusUnprocessableEntity,
	ErrCodeComputationError:     http.StatusInternalServerError,
	ErrCodeDuplicateKey:         http.StatusConflict,
	ErrCodeConcurrentUpdate:     http.StatusConflict,
	ErrCodeLoanLimitReached:     http.StatusConflict,
	ErrCodeNoOutstandingBalance: http.StatusBadRequest,
	ErrCodeUnauthorized:         http.StatusUnauthorized,
	ErrCodeValidation:           http.StatusBadRequest,
	ErrCodeDatabaseError:        http.StatusInternalServerError,
	ErrCodeCacheError:           http.StatusInternalServerError,
	ErrCodeInternal:             http.StatusInternalServerError,
}

// As extracts the BusinessError from err's chain, if any.
func As(err error) *BusinessError {
	if err == nil {
		return nil
	}
	var typed *BusinessError
	if errors.As(err, &typed) {
		return typed
	}
	return nil
}

// CodeOf returns the business code carried by err, or INTERNAL_ERROR.
func CodeOf(err error) string {
	if typed := As(err); typed != nil {
		return typed.Code
	}
	return ErrCodeInternal
}

// HTTPStatus maps err to the status code a request handler should answer with.
func HTTPStatus(err error) int {
	if status, ok := statusByCode[CodeOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// Retryable reports whether the caller may retry the failed operation as-is.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case ErrCodeProviderUnavailable, ErrCodeCatalogLookupFailed, ErrCodeConcurrentUpdate, ErrCodePaymentNotSucceeded:
		return true
	default:
		return false
	}
}

// Permanent reports whether err is a business outcome that retrying the same
// request cannot change.
func Permanent(err error) bool {
	if As(err) == nil || Retryable(err) {
		return false
	}
	status := HTTPStatus(err)
	return status >= http.StatusBadRequest && status < http.StatusInternalServerError
}

// Wrap common errors with business context
func WrapLoanNotFound(loanID string) *BusinessError {
	return NewBusinessError(
		ErrCodeLoanNotFound,
		fmt.Sprintf("Loan with ID %s not found", loanID),
		ErrLoanNotFound,
	)
}

func WrapBookNotFound(bookID string) *BusinessError {
	return NewBusinessError(
		ErrCodeBookNotFound,
		fmt.Sprintf("Book with ID %s not found in catalog", bookID),
		ErrBookNotFound,
	)
}

func WrapInvalidState(loanID, status, operation string) *BusinessError {
	return NewBusinessError(
		ErrCodeInvalidState,
		fmt.Sprintf("Loan with ID %s cannot %s while %s", loanID, operation, status),
		ErrInvalidState,
	)
}

func WrapFineAlreadyPaid(loanID string) *BusinessError {
	return NewBusinessError(
		ErrCodeInvalidState,
		fmt.Sprintf("Fine for loan with ID %s is already paid", loanID),
		ErrInvalidState,
	)
}

func WrapPaymentLoanMismatch(paymentID, loanID string) *BusinessError {
	return NewBusinessError(
		ErrCodeInvalidState,
		fmt.Sprintf("Payment %s does not belong to loan %s", paymentID, loanID),
		ErrInvalidState,
	)
}

func WrapInvalidPaymentAmount(amount string, reason string) *BusinessError {
	return NewBusinessError(
		ErrCodeInvalidAmount,
		fmt.Sprintf("Invalid payment amount %s: %s", amount, reason),
		ErrInvalidAmount,
	)
}

func WrapNoOutstandingBalance(loanID string) *BusinessError {
	return NewBusinessError(
		ErrCodeNoOutstandingBalance,
		fmt.Sprintf("Loan with ID %s has no outstanding fine", loanID),
		fmt.Errorf("%w: %w", ErrInvalidAmount, ErrNoOutstandingBalance),
	)
}

func WrapInvalidCurrency(currency string) *BusinessError {
	return NewBusinessError(
		ErrCodeInvalidCurrency,
		fmt.Sprintf("Currency %q is not supported", currency),
		ErrInvalidCurrency,
	)
}

func WrapCatalogLookupFailed(bookID string, err error) *BusinessError {
	return NewBusinessError(
		ErrCodeCatalogLookupFailed,
		fmt.Sprintf("Catalog lookup for book %s failed", bookID),
		fmt.Errorf("%w: %w", ErrCatalogLookupFailed, err),
	)
}

func WrapProviderUnavailable(operation string, err error) *BusinessError {
	return NewBusinessError(
		ErrCodeProviderUnavailable,
		fmt.Sprintf("Payment provider unavailable during %s", operation),
		fmt.Errorf("%w: %w", ErrProviderUnavailable, err),
	)
}

func WrapProviderError(operation string, err error) *BusinessError {
	return NewBusinessError(
		ErrCodeProviderError,
		fmt.Sprintf("Payment provider rejected %s", operation),
		fmt.Errorf("%w: %w", ErrProviderError, err),
	)
}

func WrapPaymentNotSucceeded(paymentID, status string) *BusinessError {
	return NewBusinessError(
		ErrCodePaymentNotSucceeded,
		fmt.Sprintf("Payment %s is %s", paymentID, status),
		ErrPaymentNotSucceeded,
	)
}

func WrapComputationError(loanID string, err error) *BusinessError {
	return NewBusinessError(
		ErrCodeComputationError,
		fmt.Sprintf("Fine for loan with ID %s cannot be computed", loanID),
		fmt.Errorf("%w: %w", ErrComputation, err),
	)
}

func WrapDuplicateKey(loanID string) *BusinessError {
	return NewBusinessError(
		ErrCodeDuplicateKey,
		fmt.Sprintf("Loan with ID %s already exists", loanID),
		ErrDuplicateKey,
	)
}

func WrapConcurrentUpdate(loanID string) *BusinessError {
	return NewBusinessError(
		ErrCodeConcurrentUpdate,
		fmt.Sprintf("Loan with ID %s kept changing; retry the request", loanID),
		ErrConcurrentUpdate,
	)
}

func WrapLoanLimitReached(userID string, limit int) *BusinessError {
	return NewBusinessError(
		ErrCodeLoanLimitReached,
		fmt.Sprintf("User %s already has %d active loans", userID, limit),
		ErrLoanLimitReached,
	)
}

func WrapUnauthorized(reason string) *BusinessError {
	return NewBusinessError(
		ErrCodeUnauthorized,
		reason,
		ErrUnauthorized,
	)
}

func WrapValidation(err error) *BusinessError {
	return NewBusinessError(
		ErrCodeValidation,
		"request validation failed",
		fmt.Errorf("%w: %w", ErrValidation, err),
	)
}

func WrapDatabaseError(err error) *BusinessError {
	return NewBusinessError(
		ErrCodeDatabaseError,
		"database operation failed",
		err,
	)
}

func WrapCacheError(err error) *BusinessError {
	return NewBusinessError(
		ErrCodeCacheError,
		"Cache operation failed",
		err,
	)
}
