package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/segyhp/library-engine/pkg/utils"
)

// LoanStatus tracks where the borrowed item physically is. Whether the fine
// has been settled is tracked separately by Loan.FinePaid.
type LoanStatus string

const (
	LoanStatusActive   LoanStatus = "ACTIVE"
	LoanStatusOverdue  LoanStatus = "OVERDUE"
	LoanStatusReturned LoanStatus = "RETURNED"
	LoanStatusLost     LoanStatus = "LOST"
)

// IsOpen reports whether the item is still out with the borrower.
func (s LoanStatus) IsOpen() bool {
	return s == LoanStatusActive || s == LoanStatusOverdue
}

func (s LoanStatus) Valid() bool {
	switch s {
	case LoanStatusActive, LoanStatusOverdue, LoanStatusReturned, LoanStatusLost:
		return true
	}
	return false
}

type Currency string

const (
	CurrencyTRY Currency = "TRY"
	CurrencyEUR Currency = "EUR"
)

// ParseCurrency accepts currency codes in any case.
func ParseCurrency(raw string) (Currency, error) {
	switch c := Currency(strings.ToUpper(strings.TrimSpace(raw))); c {
	case CurrencyTRY, CurrencyEUR:
		return c, nil
	default:
		return "", fmt.Errorf("unsupported currency %q", raw)
	}
}

// PaymentRecord is one settled payment against a loan's fine.
type PaymentRecord struct {
	PaymentID string          `json:"payment_id"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  Currency        `json:"currency"`
	Date      time.Time       `json:"date"`
	Status    string          `json:"status"`
}

const (
	PaymentRecordSucceeded = "succeeded"
	// PaymentRecordDuplicate marks a payment captured after the fine was
	// already settled; it is kept for refunding and never changes the fine.
	PaymentRecordDuplicate = "duplicate"
)

// Loan represents one borrowing of one catalog item by one user
type Loan struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	BookID         string          `json:"book_id"`
	BookTitle      string          `json:"book_title"`
	BookAuthors    []string        `json:"book_authors"`
	BookCoverURL   string          `json:"book_cover_url,omitempty"`
	BorrowDate     time.Time       `json:"borrow_date"`
	DueDate        time.Time       `json:"due_date"`
	ReturnDate     *time.Time      `json:"return_date,omitempty"`
	LostAt         *time.Time      `json:"lost_at,omitempty"`
	Status         LoanStatus      `json:"status"`
	RenewalCount   int             `json:"renewal_count"`
	FineAmount     decimal.Decimal `json:"fine_amount"`
	FineDays       int             `json:"fine_days"`
	FineCurrency   Currency        `json:"fine_currency"`
	FinePaid       bool            `json:"fine_paid"`
	PaidAt         *time.Time      `json:"paid_at,omitempty"`
	PaymentHistory []PaymentRecord `json:"payment_history"`
	Version        int64           `json:"-"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// HasPayment reports whether paymentID is already recorded on the loan.
func (l *Loan) HasPayment(paymentID string) bool {
	for _, record := range l.PaymentHistory {
		if record.PaymentID == paymentID {
			return true
		}
	}
	return false
}

// AccrualEnd is the instant fines stop accruing: returnDate or lostAt once
// the loan is closed, otherwise now. It never lies past now.
func (l *Loan) AccrualEnd(now time.Time) time.Time {
	return utils.EarlierOf(utils.EarlierOf(now, l.ReturnDate), l.LostAt)
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	cp := *l
	cp.BookAuthors = append([]string(nil), l.BookAuthors...)
	cp.PaymentHistory = append([]PaymentRecord(nil), l.PaymentHistory...)
	cp.ReturnDate = cloneTime(l.ReturnDate)
	cp.LostAt = cloneTime(l.LostAt)
	cp.PaidAt = cloneTime(l.PaidAt)
	return &cp
}

// LoanPatch is a partial update. Nil fields are left untouched; AppendPayment
// is appended to PaymentHistory.
type LoanPatch struct {
	Status        *LoanStatus
	ReturnDate    *time.Time
	LostAt        *time.Time
	FineAmount    *decimal.Decimal
	FineDays      *int
	FineCurrency  *Currency
	FinePaid      *bool
	PaidAt        *time.Time
	AppendPayment *PaymentRecord
}

// Apply mutates loan with the patch. Stores that cannot express the patch
// natively use it to build the next state.
func (p *LoanPatch) Apply(loan *Loan) {
	if p.Status != nil {
		loan.Status = *p.Status
	}
	if p.ReturnDate != nil {
		loan.ReturnDate = cloneTime(p.ReturnDate)
	}
	if p.LostAt != nil {
		loan.LostAt = cloneTime(p.LostAt)
	}
	if p.FineAmount != nil {
		loan.FineAmount = *p.FineAmount
	}
	if p.FineDays != nil {
		loan.FineDays = *p.FineDays
	}
	if p.FineCurrency != nil {
		loan.FineCurrency = *p.FineCurrency
	}
	if p.FinePaid != nil {
		loan.FinePaid = *p.FinePaid
	}
	if p.PaidAt != nil {
		loan.PaidAt = cloneTime(p.PaidAt)
	}
	if p.AppendPayment != nil {
		loan.PaymentHistory = append(loan.PaymentHistory, *p.AppendPayment)
	}
}

// Empty reports whether applying the patch would change nothing.
func (p *LoanPatch) Empty() bool {
	return p == nil || *p == LoanPatch{}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// BookSnapshot is the catalog metadata copied onto a loan at borrow time.
type BookSnapshot struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Authors  []string `json:"authors"`
	CoverURL string   `json:"cover_url,omitempty"`
}

// FineQuote is a display-time fine computation; it is never persisted.
type FineQuote struct {
	LoanID     string          `json:"loan_id"`
	FineDays   int             `json:"fine_days"`
	FineAmount decimal.Decimal `json:"fine_amount"`
	Currency   Currency        `json:"currency"`
	DueDate    time.Time       `json:"due_date"`
	AsOf       time.Time       `json:"as_of"`
	FinePaid   bool            `json:"fine_paid"`
}

// LoanView decorates a loan with display-only fields.
type LoanView struct {
	*Loan
	DaysRemaining int `json:"days_remaining"`
}

// SweepResult summarizes one overdue sweep run.
type SweepResult struct {
	RanAt     time.Time `json:"ran_at"`
	Scanned   int       `json:"scanned"`
	Flagged   int       `json:"flagged"`
	Refreshed int       `json:"refreshed"`
	Unchanged int       `json:"unchanged"`
	Failed    int       `json:"failed"`
}

// DTOs for requests and responses

type BorrowRequest struct {
	BookID   string `json:"book_id" validate:"required,max=128"`
	Currency string `json:"currency" validate:"omitempty,len=3"`
}
