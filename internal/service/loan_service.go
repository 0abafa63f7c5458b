package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/segyhp/library-engine/internal/catalog"
	"github.com/segyhp/library-engine/internal/domain"
	"github.com/segyhp/library-engine/internal/fine"
	"github.com/segyhp/library-engine/internal/repository"
	"github.com/segyhp/library-engine/pkg/clock"
	apperrors "github.com/segyhp/library-engine/pkg/errors"
	"github.com/segyhp/library-engine/pkg/logger"
	"github.com/segyhp/library-engine/pkg/utils"
)

type LoanService struct {
	loans    repository.LoanRepository
	catalog  catalog.Catalog
	policy   *fine.Policy
	clock    clock.Clock
	settings Settings
	log      *logger.Logger
}

func NewLoanService(
	loans repository.LoanRepository,
	books catalog.Catalog,
	policy *fine.Policy,
	clk clock.Clock,
	settings Settings,
	log *logger.Logger,
) *LoanService {
	if log == nil {
		log = logger.Nop()
	}
	return &LoanService{
		loans:    loans,
		catalog:  books,
		policy:   policy,
		clock:    clk,
		settings: settings,
		log:      log,
	}
}

// Borrow opens a new loan for userID, snapshotting the catalog metadata.
func (s *LoanService) Borrow(ctx context.Context, userID string, request domain.BorrowRequest) (*domain.Loan, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, apperrors.WrapUnauthorized("missing user")
	}
	bookID := strings.TrimSpace(request.BookID)
	if bookID == "" {
		return nil, apperrors.WrapValidation(errors.New("book_id is required"))
	}

	// 1. Resolve the fine currency, fixed for the life of the loan
	currency, err := s.resolveCurrency(request.Currency)
	if err != nil {
		return nil, err
	}

	// 2. Enforce the per-user limit. Best-effort: the count and the insert are
	// separate calls, so concurrent borrows by one user can overshoot it.
	if s.settings.MaxActiveLoans > 0 {
		count, err := s.loans.CountActiveByUser(ctx, userID)
		if err != nil {
			return nil, apperrors.WrapDatabaseError(err)
		}
		if count >= s.settings.MaxActiveLoans {
			return nil, apperrors.WrapLoanLimitReached(userID, s.settings.MaxActiveLoans)
		}
	}

	// 3. Snapshot the book
	book, err := s.catalog.Lookup(ctx, bookID)
	if err != nil {
		if errors.Is(err, apperrors.ErrBookNotFound) {
			return nil, err
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, apperrors.WrapCatalogLookupFailed(bookID, err)
	}

	// Nothing is persisted once the caller has gone away
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 4. Persist
	now := s.clock.Now().UTC()
	authors := book.Authors
	if authors == nil {
		authors = []string{}
	}
	loan := &domain.Loan{
		UserID:         userID,
		BookID:         bookID,
		BookTitle:      book.Title,
		BookAuthors:    authors,
		BookCoverURL:   book.CoverURL,
		BorrowDate:     now,
		DueDate:        s.policy.DueDate(now),
		Status:         domain.LoanStatusActive,
		FineCurrency:   currency,
		PaymentHistory: []domain.PaymentRecord{},
	}

	if _, err := s.loans.Create(ctx, loan); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			return nil, apperrors.WrapDuplicateKey(loan.ID)
		}
		return nil, apperrors.WrapDatabaseError(err)
	}

	ctx = s.log.WithFields(ctx, map[string]any{"loan_id": loan.ID, "user_id": userID, "book_id": bookID})
	s.log.Info(ctx, "loan created")
	return loan, nil
}

// Return closes an open loan. The fine is frozen at the return instant.
func (s *LoanService) Return(ctx context.Context, loanID string) (*domain.Loan, error) {
	loan, err := updateLoan(ctx, s.loans, s.settings.MaxUpdateAttempts, loanID, func(ctx context.Context, loan *domain.Loan) (*domain.LoanPatch, error) {
		if !loan.Status.IsOpen() {
			return nil, apperrors.WrapInvalidState(loan.ID, string(loan.Status), "return")
		}
		now := s.clock.Now().UTC()
		patch, err := s.closePatch(ctx, loan, now)
		if err != nil {
			return nil, err
		}
		status := domain.LoanStatusReturned
		patch.Status = &status
		patch.ReturnDate = &now
		return patch, nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info(s.log.WithLoanID(ctx, loan.ID), "loan returned")
	return loan, nil
}

// MarkLost closes an open loan whose item will not come back.
func (s *LoanService) MarkLost(ctx context.Context, loanID string) (*domain.Loan, error) {
	loan, err := updateLoan(ctx, s.loans, s.settings.MaxUpdateAttempts, loanID, func(ctx context.Context, loan *domain.Loan) (*domain.LoanPatch, error) {
		if !loan.Status.IsOpen() {
			return nil, apperrors.WrapInvalidState(loan.ID, string(loan.Status), "mark lost")
		}
		now := s.clock.Now().UTC()
		patch, err := s.closePatch(ctx, loan, now)
		if err != nil {
			return nil, err
		}
		status := domain.LoanStatusLost
		patch.Status = &status
		patch.LostAt = &now
		return patch, nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info(s.log.WithLoanID(ctx, loan.ID), "loan marked lost")
	return loan, nil
}

// closePatch freezes the fine of a loan that is about to close. A settled
// fine is left as it was; a zero fine is settled on the spot.
func (s *LoanService) closePatch(ctx context.Context, loan *domain.Loan, now time.Time) (*domain.LoanPatch, error) {
	zero := 0
	patch := &domain.LoanPatch{FineDays: &zero}
	if loan.FinePaid {
		return patch, nil
	}

	assessment, err := s.assess(ctx, loan, now, s.loanCurrency(loan))
	if err != nil {
		return nil, err
	}
	patch.FineAmount = &assessment.Amount
	if assessment.Amount.IsZero() {
		paid := true
		patch.FinePaid = &paid
	}
	return patch, nil
}

// GetFineQuote computes the fine owed right now, optionally in another
// supported currency. Nothing is persisted.
func (s *LoanService) GetFineQuote(ctx context.Context, loanID string, currency string) (*domain.FineQuote, error) {
	loan, err := loadLoan(ctx, s.loans, loanID)
	if err != nil {
		return nil, err
	}
	return s.quote(ctx, loan, currency)
}

func (s *LoanService) quote(ctx context.Context, loan *domain.Loan, rawCurrency string) (*domain.FineQuote, error) {
	now := s.clock.Now().UTC()

	if loan.FinePaid {
		return &domain.FineQuote{
			LoanID:     loan.ID,
			FineDays:   0,
			FineAmount: loan.FineAmount,
			Currency:   s.loanCurrency(loan),
			DueDate:    loan.DueDate,
			AsOf:       now,
			FinePaid:   true,
		}, nil
	}

	currency := s.loanCurrency(loan)
	if rawCurrency != "" {
		parsed, err := s.parseSupported(rawCurrency)
		if err != nil {
			return nil, err
		}
		currency = parsed
	}

	assessment, err := s.assess(ctx, loan, loan.AccrualEnd(now), currency)
	if err != nil {
		return nil, err
	}

	return &domain.FineQuote{
		LoanID:     loan.ID,
		FineDays:   assessment.Days,
		FineAmount: assessment.Amount,
		Currency:   currency,
		DueDate:    loan.DueDate,
		AsOf:       now,
		FinePaid:   false,
	}, nil
}

// GetLoan returns one loan by id.
func (s *LoanService) GetLoan(ctx context.Context, loanID string) (*domain.Loan, error) {
	return loadLoan(ctx, s.loans, loanID)
}

// ListActive returns the user's open loans, newest first.
func (s *LoanService) ListActive(ctx context.Context, userID string) ([]domain.LoanView, error) {
	loans, err := s.loans.FindActiveByUser(ctx, userID)
	if err != nil {
		return nil, apperrors.WrapDatabaseError(err)
	}

	now := s.clock.Now().UTC()
	views := make([]domain.LoanView, 0, len(loans))
	for _, loan := range loans {
		views = append(views, domain.LoanView{
			Loan:          loan,
			DaysRemaining: utils.DaysRemaining(loan.DueDate, now),
		})
	}
	return views, nil
}

// ListHistory returns the user's returned loans, newest first.
func (s *LoanService) ListHistory(ctx context.Context, userID string) ([]*domain.Loan, error) {
	loans, err := s.loans.FindHistoryByUser(ctx, userID)
	if err != nil {
		return nil, apperrors.WrapDatabaseError(err)
	}
	return loans, nil
}

func (s *LoanService) assess(ctx context.Context, loan *domain.Loan, at time.Time, currency domain.Currency) (fine.Assessment, error) {
	return assessFine(ctx, s.log, s.policy, loan, at, currency)
}

func (s *LoanService) loanCurrency(loan *domain.Loan) domain.Currency {
	if loan.FineCurrency != "" {
		return loan.FineCurrency
	}
	return s.settings.DefaultCurrency
}

func (s *LoanService) resolveCurrency(raw string) (domain.Currency, error) {
	if strings.TrimSpace(raw) == "" {
		return s.settings.DefaultCurrency, nil
	}
	return s.parseSupported(raw)
}

func (s *LoanService) parseSupported(raw string) (domain.Currency, error) {
	currency, err := domain.ParseCurrency(raw)
	if err != nil || !s.policy.Supports(currency) {
		return "", apperrors.WrapInvalidCurrency(raw)
	}
	return currency, nil
}

// assessFine runs the fine policy and reports failures as computation errors.
func assessFine(ctx context.Context, log *logger.Logger, policy *fine.Policy, loan *domain.Loan, at time.Time, currency domain.Currency) (fine.Assessment, error) {
	assessment, err := policy.Compute(loan.DueDate, at, currency)
	if err != nil {
		if errors.Is(err, apperrors.ErrInvalidCurrency) {
			return fine.Assessment{}, err
		}
		log.Error(log.WithLoanID(ctx, loan.ID), "fine computation failed", err)
		return fine.Assessment{}, apperrors.WrapComputationError(loan.ID, err)
	}
	return assessment, nil
}
