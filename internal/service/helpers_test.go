package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/segyhp/library-engine/internal/domain"
	"github.com/segyhp/library-engine/internal/fine"
	"github.com/segyhp/library-engine/internal/mocks"
	"github.com/segyhp/library-engine/internal/repository"
	"github.com/segyhp/library-engine/pkg/clock"
	"github.com/segyhp/library-engine/pkg/logger"
)

var borrowedAt = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	repo     repository.LoanRepository
	catalog  *mocks.MockCatalog
	provider *mocks.MockProvider
	clock    *clock.Mock
	loans    *LoanService
	billing  *BillingService
	sweep    *SweepService
}

func testPolicy(t *testing.T) *fine.Policy {
	t.Helper()
	policy, err := fine.NewPolicy(14, map[domain.Currency]decimal.Decimal{
		domain.CurrencyTRY: decimal.RequireFromString("5.00"),
		domain.CurrencyEUR: decimal.RequireFromString("0.50"),
	})
	require.NoError(t, err)
	return policy
}

func newFixture(t *testing.T, repo repository.LoanRepository) *fixture {
	t.Helper()
	if repo == nil {
		repo = repository.NewMemoryLoanRepository()
	}

	f := &fixture{
		repo:     repo,
		catalog:  &mocks.MockCatalog{},
		provider: &mocks.MockProvider{},
		clock:    clock.NewMock(borrowedAt),
	}
	policy := testPolicy(t)
	settings := DefaultSettings()
	f.loans = NewLoanService(repo, f.catalog, policy, f.clock, settings, logger.Nop())
	f.billing = NewBillingService(f.loans, f.provider)
	f.sweep = NewSweepService(repo, policy, settings, nil, logger.Nop())
	return f
}

func sampleBook(id string) *domain.BookSnapshot {
	return &domain.BookSnapshot{
		ID:       id,
		Title:    "The Go Programming Language",
		Authors:  []string{"Alan Donovan", "Brian Kernighan"},
		CoverURL: "https://books.example/cover.jpg",
	}
}

// borrow opens a loan at the fixture's current time.
func (f *fixture) borrow(t *testing.T, userID, bookID string) *domain.Loan {
	t.Helper()
	f.catalog.On("Lookup", mock.Anything, bookID).Return(sampleBook(bookID), nil).Once()
	loan, err := f.loans.Borrow(context.Background(), userID, domain.BorrowRequest{BookID: bookID})
	require.NoError(t, err)
	return loan
}

func fixedClock() *clock.Mock {
	return clock.NewMock(borrowedAt)
}
