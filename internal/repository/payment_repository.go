package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/segyhp/library-engine/internal/domain"
)

// Payment history lives in loan_payments, one row per settled payment. The
// payment_id primary key is what makes confirmation idempotent across loans.

type paymentRow struct {
	LoanID    string          `db:"loan_id"`
	PaymentID string          `db:"payment_id"`
	Amount    decimal.Decimal `db:"amount"`
	Currency  string          `db:"currency"`
	PaidAt    time.Time       `db:"paid_at"`
	Status    string          `db:"status"`
}

func insertPayment(ctx context.Context, tx *sqlx.Tx, loanID string, record domain.PaymentRecord) error {
	query := `
		INSERT INTO loan_payments (payment_id, loan_id, amount, currency, paid_at, status)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := tx.ExecContext(ctx, query,
		record.PaymentID,
		loanID,
		record.Amount,
		string(record.Currency),
		record.Date,
		record.Status,
	)
	return translateError(err)
}

// attachPayments loads the history of every loan in one query, preserving
// insertion order.
func attachPayments(ctx context.Context, q sqlx.QueryerContext, loans []*domain.Loan) error {
	if len(loans) == 0 {
		return nil
	}

	byID := make(map[string]*domain.Loan, len(loans))
	ids := make([]string, 0, len(loans))
	for _, loan := range loans {
		byID[loan.ID] = loan
		ids = append(ids, loan.ID)
	}

	query := `
		SELECT loan_id, payment_id, amount, currency, paid_at, status
		FROM loan_payments
		WHERE loan_id = ANY($1)
		ORDER BY seq
	`

	var rows []paymentRow
	if err := sqlx.SelectContext(ctx, q, &rows, query, pq.Array(ids)); err != nil {
		return err
	}

	for _, row := range rows {
		loan, ok := byID[row.LoanID]
		if !ok {
			continue
		}
		loan.PaymentHistory = append(loan.PaymentHistory, domain.PaymentRecord{
			PaymentID: row.PaymentID,
			Amount:    row.Amount,
			Currency:  domain.Currency(row.Currency),
			Date:      row.PaidAt.UTC(),
			Status:    row.Status,
		})
	}
	return nil
}
