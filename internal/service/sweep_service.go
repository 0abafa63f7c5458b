package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/segyhp/library-engine/internal/domain"
	"github.com/segyhp/library-engine/internal/fine"
	"github.com/segyhp/library-engine/internal/repository"
	apperrors "github.com/segyhp/library-engine/pkg/errors"
	"github.com/segyhp/library-engine/pkg/logger"
	"github.com/segyhp/library-engine/pkg/metrics"
	"github.com/segyhp/library-engine/pkg/utils"
)

type sweepOutcome int

const (
	outcomeUnchanged sweepOutcome = iota
	outcomeFlagged
	outcomeRefreshed
)

// SweepService flags overdue loans and keeps persisted fines current.
type SweepService struct {
	loans    repository.LoanRepository
	policy   *fine.Policy
	settings Settings
	metrics  *metrics.JobMetrics
	log      *logger.Logger
}

func NewSweepService(
	loans repository.LoanRepository,
	policy *fine.Policy,
	settings Settings,
	jobMetrics *metrics.JobMetrics,
	log *logger.Logger,
) *SweepService {
	if log == nil {
		log = logger.Nop()
	}
	return &SweepService{
		loans:    loans,
		policy:   policy,
		settings: settings,
		metrics:  jobMetrics,
		log:      log,
	}
}

// RunSweep evaluates every ACTIVE loan past due and every OVERDUE loan with
// an unpaid fine as of now. A loan that fails is counted and reported but
// does not stop the rest. Running twice with the same now changes nothing
// the second time.
func (s *SweepService) RunSweep(ctx context.Context, now time.Time) (*domain.SweepResult, error) {
	now = now.UTC()
	result := &domain.SweepResult{RanAt: now}

	dueLoans, err := s.loans.FindOverdueAsOf(ctx, now)
	if err != nil {
		return result, apperrors.WrapDatabaseError(err)
	}
	accruing, err := s.loans.FindAccruing(ctx)
	if err != nil {
		return result, apperrors.WrapDatabaseError(err)
	}

	seen := make(map[string]struct{}, len(dueLoans)+len(accruing))
	var errs error
	for _, loan := range append(dueLoans, accruing...) {
		if _, dup := seen[loan.ID]; dup {
			continue
		}
		seen[loan.ID] = struct{}{}

		if err := ctx.Err(); err != nil {
			errs = multierr.Append(errs, err)
			break
		}

		result.Scanned++
		outcome, err := s.sweepLoan(ctx, loan.ID, now)
		if err != nil {
			result.Failed++
			errs = multierr.Append(errs, fmt.Errorf("loan %s: %w", loan.ID, err))
			s.log.Error(s.log.WithLoanID(ctx, loan.ID), "sweep failed for loan", err)
			continue
		}

		switch outcome {
		case outcomeFlagged:
			result.Flagged++
		case outcomeRefreshed:
			result.Refreshed++
		default:
			result.Unchanged++
		}
	}

	s.metrics.AddSweepLoans("flagged", result.Flagged)
	s.metrics.AddSweepLoans("refreshed", result.Refreshed)
	s.metrics.AddSweepLoans("unchanged", result.Unchanged)
	s.metrics.AddSweepLoans("failed", result.Failed)

	s.log.Info(s.log.WithFields(ctx, map[string]any{
		"scanned":   result.Scanned,
		"flagged":   result.Flagged,
		"refreshed": result.Refreshed,
		"unchanged": result.Unchanged,
		"failed":    result.Failed,
	}), "overdue sweep finished")

	return result, errs
}

func (s *SweepService) sweepLoan(ctx context.Context, loanID string, now time.Time) (sweepOutcome, error) {
	outcome := outcomeUnchanged

	_, err := updateLoan(ctx, s.loans, s.settings.MaxUpdateAttempts, loanID, func(ctx context.Context, loan *domain.Loan) (*domain.LoanPatch, error) {
		outcome = outcomeUnchanged

		// Re-read state may have moved on since the scan
		if loan.FinePaid || !loan.Status.IsOpen() || !utils.IsDateOverdue(loan.DueDate, now) {
			return nil, nil
		}

		currency := loan.FineCurrency
		if currency == "" {
			currency = s.settings.DefaultCurrency
		}
		assessment, err := assessFine(ctx, s.log, s.policy, loan, now, currency)
		if err != nil {
			return nil, err
		}
		if assessment.Days == 0 {
			return nil, nil
		}

		patch := &domain.LoanPatch{}
		if loan.Status == domain.LoanStatusActive {
			status := domain.LoanStatusOverdue
			patch.Status = &status
			outcome = outcomeFlagged
		}
		if loan.FineDays != assessment.Days || !loan.FineAmount.Equal(assessment.Amount) {
			patch.FineDays = &assessment.Days
			patch.FineAmount = &assessment.Amount
			if outcome == outcomeUnchanged {
				outcome = outcomeRefreshed
			}
		}
		if loan.FineCurrency == "" {
			patch.FineCurrency = &currency
		}
		if patch.Empty() {
			return nil, nil
		}
		return patch, nil
	})
	if err != nil {
		return outcomeUnchanged, err
	}
	return outcome, nil
}
