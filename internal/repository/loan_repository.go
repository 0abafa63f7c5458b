package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/segyhp/library-engine/internal/domain"
)

const uniqueViolation = "23505"

const loanColumns = `id, user_id, book_id, book_title, book_authors, book_cover_url, borrow_date, due_date,
		return_date, lost_at, status, renewal_count, fine_amount, fine_days, fine_currency, fine_paid,
		paid_at, version, created_at, updated_at`

type loanRow struct {
	ID           string          `db:"id"`
	UserID       string          `db:"user_id"`
	BookID       string          `db:"book_id"`
	BookTitle    string          `db:"book_title"`
	BookAuthors  pq.StringArray  `db:"book_authors"`
	BookCoverURL string          `db:"book_cover_url"`
	BorrowDate   time.Time       `db:"borrow_date"`
	DueDate      time.Time       `db:"due_date"`
	ReturnDate   *time.Time      `db:"return_date"`
	LostAt       *time.Time      `db:"lost_at"`
	Status       string          `db:"status"`
	RenewalCount int             `db:"renewal_count"`
	FineAmount   decimal.Decimal `db:"fine_amount"`
	FineDays     int             `db:"fine_days"`
	FineCurrency string          `db:"fine_currency"`
	FinePaid     bool            `db:"fine_paid"`
	PaidAt       *time.Time      `db:"paid_at"`
	Version      int64           `db:"version"`
	CreatedAt    time.Time       `db:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at"`
}

func (row *loanRow) toDomain() *domain.Loan {
	return &domain.Loan{
		ID:             row.ID,
		UserID:         row.UserID,
		BookID:         row.BookID,
		BookTitle:      row.BookTitle,
		BookAuthors:    []string(row.BookAuthors),
		BookCoverURL:   row.BookCoverURL,
		BorrowDate:     row.BorrowDate.UTC(),
		DueDate:        row.DueDate.UTC(),
		ReturnDate:     utcPtr(row.ReturnDate),
		LostAt:         utcPtr(row.LostAt),
		Status:         domain.LoanStatus(row.Status),
		RenewalCount:   row.RenewalCount,
		FineAmount:     row.FineAmount,
		FineDays:       row.FineDays,
		FineCurrency:   domain.Currency(row.FineCurrency),
		FinePaid:       row.FinePaid,
		PaidAt:         utcPtr(row.PaidAt),
		PaymentHistory: []domain.PaymentRecord{},
		Version:        row.Version,
		CreatedAt:      row.CreatedAt.UTC(),
		UpdatedAt:      row.UpdatedAt.UTC(),
	}
}

type loanRepository struct {
	db *sqlx.DB
}

// NewLoanRepository returns the Postgres-backed store.
func NewLoanRepository(db *sqlx.DB) LoanRepository {
	return &loanRepository{db: db}
}

func (r *loanRepository) Create(ctx context.Context, loan *domain.Loan) (string, error) {
	if loan.ID == "" {
		loan.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if loan.CreatedAt.IsZero() {
		loan.CreatedAt = now
	}
	loan.UpdatedAt = now
	loan.Version = 1

	query := `
		INSERT INTO loans (` + loanColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, query,
		loan.ID,
		loan.UserID,
		loan.BookID,
		loan.BookTitle,
		pq.StringArray(loan.BookAuthors),
		loan.BookCoverURL,
		loan.BorrowDate,
		loan.DueDate,
		loan.ReturnDate,
		loan.LostAt,
		string(loan.Status),
		loan.RenewalCount,
		loan.FineAmount,
		loan.FineDays,
		string(loan.FineCurrency),
		loan.FinePaid,
		loan.PaidAt,
		loan.Version,
		loan.CreatedAt,
		loan.UpdatedAt,
	)
	if err != nil {
		return "", translateError(err)
	}

	for _, record := range loan.PaymentHistory {
		if err := insertPayment(ctx, tx, loan.ID, record); err != nil {
			return "", err
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return loan.ID, nil
}

func (r *loanRepository) GetByID(ctx context.Context, id string) (*domain.Loan, error) {
	return r.getByID(ctx, r.db, id)
}

func (r *loanRepository) getByID(ctx context.Context, q sqlx.QueryerContext, id string) (*domain.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE id = $1`

	var row loanRow
	if err := sqlx.GetContext(ctx, q, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	loans := []*domain.Loan{row.toDomain()}
	if err := attachPayments(ctx, q, loans); err != nil {
		return nil, err
	}
	return loans[0], nil
}

func (r *loanRepository) FindActiveByUser(ctx context.Context, userID string) ([]*domain.Loan, error) {
	query := `
		SELECT ` + loanColumns + `
		FROM loans
		WHERE user_id = $1 AND status IN ('ACTIVE', 'OVERDUE')
		ORDER BY borrow_date DESC, id DESC
	`
	return r.selectLoans(ctx, query, userID)
}

func (r *loanRepository) FindHistoryByUser(ctx context.Context, userID string) ([]*domain.Loan, error) {
	query := `
		SELECT ` + loanColumns + `
		FROM loans
		WHERE user_id = $1 AND status = 'RETURNED'
		ORDER BY borrow_date DESC, id DESC
	`
	return r.selectLoans(ctx, query, userID)
}

func (r *loanRepository) FindOverdueAsOf(ctx context.Context, now time.Time) ([]*domain.Loan, error) {
	query := `
		SELECT ` + loanColumns + `
		FROM loans
		WHERE status = 'ACTIVE' AND due_date < $1
		ORDER BY due_date, id
	`
	return r.selectLoans(ctx, query, now)
}

func (r *loanRepository) FindAccruing(ctx context.Context) ([]*domain.Loan, error) {
	query := `
		SELECT ` + loanColumns + `
		FROM loans
		WHERE status = 'OVERDUE' AND fine_paid = FALSE
		ORDER BY due_date, id
	`
	return r.selectLoans(ctx, query)
}

func (r *loanRepository) FindByPaymentID(ctx context.Context, paymentID string) (*domain.Loan, error) {
	var loanID string
	err := r.db.GetContext(ctx, &loanID, `SELECT loan_id FROM loan_payments WHERE payment_id = $1`, paymentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return r.GetByID(ctx, loanID)
}

func (r *loanRepository) CountActiveByUser(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM loans WHERE user_id = $1 AND status IN ('ACTIVE', 'OVERDUE')`, userID)
	return count, err
}

func (r *loanRepository) Update(ctx context.Context, id string, expectedVersion int64, patch *domain.LoanPatch) (*domain.Loan, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	sets, args := patchAssignments(patch)
	sets = append(sets, "version = version + 1", "updated_at = NOW()")
	args = append(args, id, expectedVersion)

	query := fmt.Sprintf(`UPDATE loans SET %s WHERE id = $%d AND version = $%d`,
		strings.Join(sets, ", "), len(args)-1, len(args))

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, translateError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		var exists bool
		if err := tx.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM loans WHERE id = $1)`, id); err != nil {
			return nil, err
		}
		if !exists {
			return nil, ErrNotFound
		}
		return nil, ErrVersionConflict
	}

	if patch.AppendPayment != nil {
		if err := insertPayment(ctx, tx, id, *patch.AppendPayment); err != nil {
			return nil, err
		}
	}

	updated, err := r.getByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return updated, nil
}

// Ping checks the database connection.
func (r *loanRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *loanRepository) selectLoans(ctx context.Context, query string, args ...any) ([]*domain.Loan, error) {
	var rows []loanRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}

	loans := make([]*domain.Loan, 0, len(rows))
	for i := range rows {
		loans = append(loans, rows[i].toDomain())
	}
	if err := attachPayments(ctx, r.db, loans); err != nil {
		return nil, err
	}
	return loans, nil
}

func patchAssignments(patch *domain.LoanPatch) ([]string, []any) {
	var sets []string
	var args []any
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.Status != nil {
		add("status", string(*patch.Status))
	}
	if patch.ReturnDate != nil {
		add("return_date", *patch.ReturnDate)
	}
	if patch.LostAt != nil {
		add("lost_at", *patch.LostAt)
	}
	if patch.FineAmount != nil {
		add("fine_amount", *patch.FineAmount)
	}
	if patch.FineDays != nil {
		add("fine_days", *patch.FineDays)
	}
	if patch.FineCurrency != nil {
		add("fine_currency", string(*patch.FineCurrency))
	}
	if patch.FinePaid != nil {
		add("fine_paid", *patch.FinePaid)
	}
	if patch.PaidAt != nil {
		add("paid_at", *patch.PaidAt)
	}
	return sets, args
}

func translateError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ErrDuplicateKey
	}
	return err
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
