package service

import (
	"context"
	"errors"

	"github.com/segyhp/library-engine/internal/domain"
	"github.com/segyhp/library-engine/internal/repository"
	apperrors "github.com/segyhp/library-engine/pkg/errors"
)

// mutation inspects the freshly read loan and returns the patch to apply.
// A nil or empty patch means there is nothing to write.
type mutation func(ctx context.Context, loan *domain.Loan) (*domain.LoanPatch, error)

// updateLoan serializes writes to one loan through the store's version check.
// On a conflict the loan is re-read and the mutation re-evaluated against the
// new state, so concurrent operations compose instead of overwriting.
func updateLoan(ctx context.Context, loans repository.LoanRepository, attempts int, loanID string, mutate mutation) (*domain.Loan, error) {
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		loan, err := loadLoan(ctx, loans, loanID)
		if err != nil {
			return nil, err
		}

		patch, err := mutate(ctx, loan)
		if err != nil {
			return nil, err
		}
		if patch.Empty() {
			return loan, nil
		}

		updated, err := loans.Update(ctx, loan.ID, loan.Version, patch)
		switch {
		case err == nil:
			return updated, nil
		case errors.Is(err, repository.ErrVersionConflict), errors.Is(err, repository.ErrDuplicateKey):
			continue
		case errors.Is(err, repository.ErrNotFound):
			return nil, apperrors.WrapLoanNotFound(loanID)
		default:
			return nil, apperrors.WrapDatabaseError(err)
		}
	}

	return nil, apperrors.WrapConcurrentUpdate(loanID)
}

func loadLoan(ctx context.Context, loans repository.LoanRepository, loanID string) (*domain.Loan, error) {
	loan, err := loans.GetByID(ctx, loanID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.WrapLoanNotFound(loanID)
		}
		return nil, apperrors.WrapDatabaseError(err)
	}
	return loan, nil
}
