package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/segyhp/library-engine/internal/domain"
)

type memoryLoanRepository struct {
	mu       sync.RWMutex
	loans    map[string]*domain.Loan
	payments map[string]string
	now      func() time.Time
}

// NewMemoryLoanRepository returns a process-local store, used for tests and
// the "memory" driver.
func NewMemoryLoanRepository() LoanRepository {
	return &memoryLoanRepository{
		loans:    make(map[string]*domain.Loan),
		payments: make(map[string]string),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (r *memoryLoanRepository) Create(ctx context.Context, loan *domain.Loan) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if loan.ID == "" {
		loan.ID = uuid.NewString()
	}
	if _, exists := r.loans[loan.ID]; exists {
		return "", ErrDuplicateKey
	}

	now := r.now()
	if loan.CreatedAt.IsZero() {
		loan.CreatedAt = now
	}
	loan.UpdatedAt = now
	loan.Version = 1

	stored := loan.Clone()
	r.loans[stored.ID] = stored
	for _, record := range stored.PaymentHistory {
		r.payments[record.PaymentID] = stored.ID
	}
	return stored.ID, nil
}

func (r *memoryLoanRepository) GetByID(ctx context.Context, id string) (*domain.Loan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	loan, ok := r.loans[id]
	if !ok {
		return nil, ErrNotFound
	}
	return loan.Clone(), nil
}

func (r *memoryLoanRepository) FindActiveByUser(ctx context.Context, userID string) ([]*domain.Loan, error) {
	return r.filter(ctx, func(l *domain.Loan) bool {
		return l.UserID == userID && l.Status.IsOpen()
	}, byBorrowDateDesc)
}

func (r *memoryLoanRepository) FindHistoryByUser(ctx context.Context, userID string) ([]*domain.Loan, error) {
	return r.filter(ctx, func(l *domain.Loan) bool {
		return l.UserID == userID && l.Status == domain.LoanStatusReturned
	}, byBorrowDateDesc)
}

func (r *memoryLoanRepository) FindOverdueAsOf(ctx context.Context, now time.Time) ([]*domain.Loan, error) {
	return r.filter(ctx, func(l *domain.Loan) bool {
		return l.Status == domain.LoanStatusActive && l.DueDate.Before(now)
	}, byDueDateAsc)
}

func (r *memoryLoanRepository) FindAccruing(ctx context.Context) ([]*domain.Loan, error) {
	return r.filter(ctx, func(l *domain.Loan) bool {
		return l.Status == domain.LoanStatusOverdue && !l.FinePaid
	}, byDueDateAsc)
}

func (r *memoryLoanRepository) FindByPaymentID(ctx context.Context, paymentID string) (*domain.Loan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	loanID, ok := r.payments[paymentID]
	if !ok {
		return nil, ErrNotFound
	}
	return r.loans[loanID].Clone(), nil
}

func (r *memoryLoanRepository) CountActiveByUser(ctx context.Context, userID string) (int, error) {
	loans, err := r.FindActiveByUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return len(loans), nil
}

func (r *memoryLoanRepository) Update(ctx context.Context, id string, expectedVersion int64, patch *domain.LoanPatch) (*domain.Loan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.loans[id]
	if !ok {
		return nil, ErrNotFound
	}
	if current.Version != expectedVersion {
		return nil, ErrVersionConflict
	}
	if patch.AppendPayment != nil {
		if _, taken := r.payments[patch.AppendPayment.PaymentID]; taken {
			return nil, ErrDuplicateKey
		}
	}

	next := current.Clone()
	patch.Apply(next)
	next.Version++
	next.UpdatedAt = r.now()

	r.loans[id] = next
	if patch.AppendPayment != nil {
		r.payments[patch.AppendPayment.PaymentID] = id
	}
	return next.Clone(), nil
}

func (r *memoryLoanRepository) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (r *memoryLoanRepository) filter(ctx context.Context, keep func(*domain.Loan) bool, less func(a, b *domain.Loan) bool) ([]*domain.Loan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	loans := make([]*domain.Loan, 0)
	for _, loan := range r.loans {
		if keep(loan) {
			loans = append(loans, loan.Clone())
		}
	}
	sort.SliceStable(loans, func(i, j int) bool { return less(loans[i], loans[j]) })
	return loans, nil
}

func byBorrowDateDesc(a, b *domain.Loan) bool {
	if a.BorrowDate.Equal(b.BorrowDate) {
		return a.ID > b.ID
	}
	return a.BorrowDate.After(b.BorrowDate)
}

func byDueDateAsc(a, b *domain.Loan) bool {
	if a.DueDate.Equal(b.DueDate) {
		return a.ID < b.ID
	}
	return a.DueDate.Before(b.DueDate)
}
