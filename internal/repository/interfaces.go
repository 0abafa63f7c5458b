package repository

import (
	"context"
	"errors"
	"time"

	"github.com/segyhp/library-engine/internal/domain"
)

// Store-level errors. Services translate these into business errors.
var (
	ErrNotFound        = errors.New("repository: loan not found")
	ErrDuplicateKey    = errors.New("repository: duplicate key")
	ErrVersionConflict = errors.New("repository: version conflict")
)

// LoanRepository defines the interface for loan data operations
type LoanRepository interface {
	Pinger

	// Create persists a new loan. An empty ID is assigned; the loan's Version
	// is set to 1.
	Create(ctx context.Context, loan *domain.Loan) (string, error)

	// GetByID retrieves a loan by its ID
	GetByID(ctx context.Context, id string) (*domain.Loan, error)

	// FindActiveByUser returns ACTIVE and OVERDUE loans, newest borrow first
	FindActiveByUser(ctx context.Context, userID string) ([]*domain.Loan, error)

	// FindHistoryByUser returns RETURNED loans, newest borrow first
	FindHistoryByUser(ctx context.Context, userID string) ([]*domain.Loan, error)

	// FindOverdueAsOf returns ACTIVE loans whose due date is before now
	FindOverdueAsOf(ctx context.Context, now time.Time) ([]*domain.Loan, error)

	// FindAccruing returns OVERDUE loans with an unpaid fine
	FindAccruing(ctx context.Context) ([]*domain.Loan, error)

	// FindByPaymentID returns the loan whose history holds paymentID
	FindByPaymentID(ctx context.Context, paymentID string) (*domain.Loan, error)

	// CountActiveByUser counts ACTIVE and OVERDUE loans
	CountActiveByUser(ctx context.Context, userID string) (int, error)

	// Update applies patch if the stored version still equals expectedVersion,
	// bumping the version. It returns ErrNotFound, ErrVersionConflict, or
	// ErrDuplicateKey when an appended payment id is already recorded.
	Update(ctx context.Context, id string, expectedVersion int64, patch *domain.LoanPatch) (*domain.Loan, error)
}

// Pinger is implemented by stores that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}
