package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoan_AccrualEnd(t *testing.T) {
	now := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	returned := time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC)
	lost := time.Date(2024, 1, 25, 0, 0, 0, 0, time.UTC)
	ahead := now.Add(time.Hour)

	tests := []struct {
		name     string
		loan     Loan
		expected time.Time
	}{
		{name: "open loan accrues until now", loan: Loan{Status: LoanStatusOverdue}, expected: now},
		{name: "returned loan stops at the return", loan: Loan{Status: LoanStatusReturned, ReturnDate: &returned}, expected: returned},
		{name: "lost loan stops when reported", loan: Loan{Status: LoanStatusLost, LostAt: &lost}, expected: lost},
		{name: "close stamped ahead of now", loan: Loan{Status: LoanStatusReturned, ReturnDate: &ahead}, expected: now},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.loan.AccrualEnd(now))
		})
	}
}

func TestLoan_HasPayment(t *testing.T) {
	loan := Loan{PaymentHistory: []PaymentRecord{
		{PaymentID: "pi_1", Status: PaymentRecordSucceeded},
		{PaymentID: "pi_2", Status: PaymentRecordDuplicate},
	}}

	assert.True(t, loan.HasPayment("pi_1"))
	assert.True(t, loan.HasPayment("pi_2"))
	assert.False(t, loan.HasPayment("pi_3"))
}
