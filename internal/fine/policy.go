package fine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/segyhp/library-engine/internal/config"
	"github.com/segyhp/library-engine/internal/domain"
	"github.com/segyhp/library-engine/pkg/errors"
	"github.com/segyhp/library-engine/pkg/utils"
)

// DefaultLoanPeriodDays is used when a policy is built without a loan period.
const DefaultLoanPeriodDays = 14

// Assessment is the outcome of one fine computation.
type Assessment struct {
	Days     int
	Amount   decimal.Decimal
	Currency domain.Currency
}

// Policy computes overdue days and fine amounts. It holds no state beyond its
// configuration and is safe for concurrent use.
type Policy struct {
	loanPeriodDays int
	rates          map[domain.Currency]decimal.Decimal
}

// NewPolicy builds a policy from a loan period and per-currency daily rates.
func NewPolicy(loanPeriodDays int, rates map[domain.Currency]decimal.Decimal) (*Policy, error) {
	if loanPeriodDays <= 0 {
		loanPeriodDays = DefaultLoanPeriodDays
	}
	copied := make(map[domain.Currency]decimal.Decimal, len(rates))
	for currency, rate := range rates {
		if rate.IsNegative() {
			return nil, fmt.Errorf("daily rate for %s must not be negative", currency)
		}
		copied[currency] = rate
	}
	if len(copied) == 0 {
		return nil, fmt.Errorf("at least one daily rate is required")
	}
	return &Policy{loanPeriodDays: loanPeriodDays, rates: copied}, nil
}

// PolicyFromConfig builds a policy from the business configuration.
func PolicyFromConfig(cfg *config.Config) (*Policy, error) {
	rates := make(map[domain.Currency]decimal.Decimal)
	for code, rate := range cfg.GetFineRates() {
		currency, err := domain.ParseCurrency(code)
		if err != nil {
			return nil, err
		}
		rates[currency] = rate
	}
	return NewPolicy(cfg.Business.LoanPeriodDays, rates)
}

// LoanPeriodDays returns the configured loan period.
func (p *Policy) LoanPeriodDays() int {
	return p.loanPeriodDays
}

// DueDate returns borrowDate plus the loan period.
func (p *Policy) DueDate(borrowDate time.Time) time.Time {
	return utils.CalculateDueDate(borrowDate, p.loanPeriodDays)
}

// Rate returns the daily fine for currency.
func (p *Policy) Rate(currency domain.Currency) (decimal.Decimal, error) {
	rate, ok := p.rates[currency]
	if !ok {
		return decimal.Zero, errors.WrapInvalidCurrency(string(currency))
	}
	return rate, nil
}

// Supports reports whether currency has a configured rate.
func (p *Policy) Supports(currency domain.Currency) bool {
	_, ok := p.rates[currency]
	return ok
}

// Compute returns the fine owed for a loan due at dueDate as of now.
// Partial days count as whole days and amounts are rounded half away from
// zero to two decimal places. A zero dueDate is a computation error, never a
// zero fine.
func (p *Policy) Compute(dueDate, now time.Time, currency domain.Currency) (Assessment, error) {
	if dueDate.IsZero() {
		return Assessment{}, fmt.Errorf("due date is not set")
	}
	if now.IsZero() {
		return Assessment{}, fmt.Errorf("evaluation time is not set")
	}

	days := utils.OverdueDays(dueDate, now)
	amount, err := p.AmountFor(days, currency)
	if err != nil {
		return Assessment{}, err
	}
	return Assessment{Days: days, Amount: amount, Currency: currency}, nil
}

// AmountFor returns the fine for days overdue days in currency.
func (p *Policy) AmountFor(days int, currency domain.Currency) (decimal.Decimal, error) {
	rate, err := p.Rate(currency)
	if err != nil {
		return decimal.Zero, err
	}
	if days <= 0 {
		return decimal.Zero, nil
	}
	return rate.Mul(decimal.NewFromInt(int64(days))).Round(2), nil
}
