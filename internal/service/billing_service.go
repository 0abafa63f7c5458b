package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/segyhp/library-engine/internal/domain"
	"github.com/segyhp/library-engine/internal/payment"
	"github.com/segyhp/library-engine/internal/repository"
	apperrors "github.com/segyhp/library-engine/pkg/errors"
	"github.com/segyhp/library-engine/pkg/utils"
)

// BillingService settles overdue fines through the payment provider.
type BillingService struct {
	loans    *LoanService
	provider payment.Provider
}

func NewBillingService(loans *LoanService, provider payment.Provider) *BillingService {
	return &BillingService{
		loans:    loans,
		provider: provider,
	}
}

// InitiatePayment opens a provider payment for the outstanding fine. The
// amount must match the fine owed within the configured tolerance.
func (s *BillingService) InitiatePayment(ctx context.Context, loanID string, amount decimal.Decimal, rawCurrency string) (*domain.PaymentHandle, error) {
	// 1. Validate the request itself
	if !amount.IsPositive() {
		return nil, apperrors.WrapInvalidPaymentAmount(amount.String(), "amount must be greater than zero")
	}
	currency, err := s.loans.parseSupported(rawCurrency)
	if err != nil {
		return nil, err
	}

	// 2. Load the loan and quote what is owed in the requested currency
	loan, err := loadLoan(ctx, s.loans.loans, loanID)
	if err != nil {
		return nil, err
	}
	if loan.FinePaid {
		return nil, apperrors.WrapFineAlreadyPaid(loan.ID)
	}

	quote, err := s.loans.quote(ctx, loan, string(currency))
	if err != nil {
		return nil, err
	}
	if !quote.FineAmount.IsPositive() {
		return nil, apperrors.WrapNoOutstandingBalance(loan.ID)
	}

	// 3. The amount must match the live quote or the persisted fine
	if !s.matchesOutstanding(loan, quote, amount, currency) {
		return nil, apperrors.WrapInvalidPaymentAmount(amount.String(),
			fmt.Sprintf("outstanding fine is %s %s", quote.FineAmount.StringFixed(2), currency))
	}

	// 4. Ask the provider for a client-confirmable payment
	amountMinor := utils.ToMinorUnits(amount)
	request := domain.IntentRequest{
		AmountMinor: amountMinor,
		Currency:    currency,
		Description: fmt.Sprintf("Overdue fine - %s (%d days)", loan.BookTitle, quote.FineDays),
		Metadata: map[string]string{
			domain.PaymentMetaLoanID:    loan.ID,
			domain.PaymentMetaUserID:    loan.UserID,
			domain.PaymentMetaBookTitle: loan.BookTitle,
			domain.PaymentMetaFineDays:  strconv.Itoa(quote.FineDays),
			domain.PaymentMetaCurrency:  string(currency),
		},
		IdempotencyKey: fmt.Sprintf("fine:%s:v%d:%d:%s", loan.ID, loan.Version, amountMinor, currency),
	}

	handle, err := s.provider.CreateIntent(ctx, request)
	if err != nil {
		return nil, providerFailure("create payment", err)
	}

	handle.LoanID = loan.ID
	handle.AmountMinor = amountMinor
	handle.Amount = utils.FromMinorUnits(amountMinor)
	handle.Currency = currency

	ctx = s.loans.log.WithFields(ctx, map[string]any{"loan_id": loan.ID, "payment_id": handle.PaymentID})
	s.loans.log.Info(ctx, "fine payment initiated")
	return handle, nil
}

func (s *BillingService) matchesOutstanding(loan *domain.Loan, quote *domain.FineQuote, amount decimal.Decimal, currency domain.Currency) bool {
	tolerance := s.loans.settings.PaymentTolerance
	if amount.Sub(quote.FineAmount).Abs().LessThanOrEqual(tolerance) {
		return true
	}
	return currency == s.loans.loanCurrency(loan) &&
		loan.FineAmount.IsPositive() &&
		amount.Sub(loan.FineAmount).Abs().LessThanOrEqual(tolerance)
}

// ConfirmPayment verifies a provider payment and marks the fine paid.
// Confirming a payment that is already recorded is a no-op. A payment captured
// after another one settled the fine is recorded as a duplicate and the fine
// is left as it was.
func (s *BillingService) ConfirmPayment(ctx context.Context, loanID, paymentID string) (*domain.Loan, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return nil, apperrors.WrapValidation(errors.New("payment_id is required"))
	}

	// 1. Short-circuit replays without touching the provider
	loan, err := loadLoan(ctx, s.loans.loans, loanID)
	if err != nil {
		return nil, err
	}
	if loan.HasPayment(paymentID) {
		return loan, nil
	}

	// 2. Verify with the provider; the payment must be bound to this loan
	settled, err := s.provider.Retrieve(ctx, paymentID)
	if err != nil {
		return nil, providerFailure("retrieve payment", err)
	}
	if settled.Metadata[domain.PaymentMetaLoanID] != loan.ID {
		return nil, apperrors.WrapPaymentLoanMismatch(paymentID, loan.ID)
	}
	if settled.Status != domain.ProviderPaymentSucceeded {
		if loan.FinePaid {
			return nil, apperrors.WrapFineAlreadyPaid(loan.ID)
		}
		return nil, apperrors.WrapPaymentNotSucceeded(paymentID, string(settled.Status))
	}

	currency, err := s.loans.parseSupported(string(settled.Currency))
	if err != nil {
		return nil, err
	}
	record := domain.PaymentRecord{
		PaymentID: paymentID,
		Amount:    utils.FromMinorUnits(settled.AmountMinor),
		Currency:  currency,
		Status:    domain.PaymentRecordSucceeded,
	}

	// 3. Record it
	duplicate := false
	updated, err := updateLoan(ctx, s.loans.loans, s.loans.settings.MaxUpdateAttempts, loanID, func(ctx context.Context, loan *domain.Loan) (*domain.LoanPatch, error) {
		duplicate = false
		if loan.HasPayment(paymentID) {
			return nil, nil
		}

		other, err := s.loans.loans.FindByPaymentID(ctx, paymentID)
		switch {
		case err == nil && other.ID != loan.ID:
			return nil, apperrors.WrapPaymentLoanMismatch(paymentID, loan.ID)
		case err != nil && !errors.Is(err, repository.ErrNotFound):
			return nil, apperrors.WrapDatabaseError(err)
		}

		now := s.loans.clock.Now().UTC()
		entry := record
		entry.Date = now

		if loan.FinePaid {
			duplicate = true
			entry.Status = domain.PaymentRecordDuplicate
			return &domain.LoanPatch{AppendPayment: &entry}, nil
		}

		if err := s.coversOutstanding(ctx, loan, settled, entry.Amount, currency); err != nil {
			return nil, err
		}

		paid := true
		zero := 0
		patch := &domain.LoanPatch{
			FinePaid:      &paid,
			PaidAt:        &now,
			FineDays:      &zero,
			AppendPayment: &entry,
		}

		// Accrual stops here; the settled amount is what the loan owed
		if entry.Currency == s.loans.loanCurrency(loan) {
			patch.FineAmount = &entry.Amount
		}
		return patch, nil
	})
	if err != nil {
		return nil, err
	}

	ctx = s.loans.log.WithFields(ctx, map[string]any{"loan_id": updated.ID, "payment_id": paymentID})
	if duplicate {
		s.loans.log.Error(ctx, "payment captured for an already settled fine; refund required",
			apperrors.WrapFineAlreadyPaid(updated.ID))
		return updated, nil
	}
	s.loans.log.Info(ctx, "fine payment confirmed")
	return updated, nil
}

// coversOutstanding checks that amount settles what loan owes in currency.
// The live quote, the fine frozen on the loan and the fine quoted when the
// payment was opened all count, so a sweep between initiation and capture
// does not strand the payment.
func (s *BillingService) coversOutstanding(ctx context.Context, loan *domain.Loan, settled *domain.ProviderPayment, amount decimal.Decimal, currency domain.Currency) error {
	quote, err := s.loans.quote(ctx, loan, string(currency))
	if err != nil {
		return err
	}

	owed := []decimal.Decimal{quote.FineAmount}
	if currency == s.loans.loanCurrency(loan) {
		owed = append(owed, loan.FineAmount)
	}
	if days, err := strconv.Atoi(settled.Metadata[domain.PaymentMetaFineDays]); err == nil && days > 0 {
		if quoted, err := s.loans.policy.AmountFor(days, currency); err == nil {
			owed = append(owed, quoted)
		}
	}

	payable := amount.Add(s.loans.settings.PaymentTolerance)
	outstanding := false
	for _, fine := range owed {
		if !fine.IsPositive() {
			continue
		}
		outstanding = true
		if payable.GreaterThanOrEqual(fine) {
			return nil
		}
	}
	if !outstanding {
		return apperrors.WrapNoOutstandingBalance(loan.ID)
	}
	return apperrors.WrapInvalidPaymentAmount(amount.StringFixed(2),
		fmt.Sprintf("does not cover the outstanding fine of %s %s", quote.FineAmount.StringFixed(2), currency))
}

// providerFailure keeps typed provider errors and treats anything else as
// the provider being unreachable.
func providerFailure(operation string, err error) error {
	if errors.Is(err, context.Canceled) || apperrors.As(err) != nil {
		return err
	}
	return apperrors.WrapProviderUnavailable(operation, err)
}
