package utils

import (
	"time"

	"github.com/shopspring/decimal"
)

const day = 24 * time.Hour

var hundred = decimal.NewFromInt(100)

// CalculateDueDate returns the due date for a loan borrowed at borrowDate.
// Periods are whole 24h days so dueDate - borrowDate is exact regardless of time zone.
func CalculateDueDate(borrowDate time.Time, loanPeriodDays int) time.Time {
	return borrowDate.Add(time.Duration(loanPeriodDays) * day)
}

// OverdueDays counts the days elapsed past dueDate as of now.
// Partial days round up, so one hour late counts as one day.
func OverdueDays(dueDate time.Time, now time.Time) int {
	elapsed := now.Sub(dueDate)
	if elapsed <= 0 {
		return 0
	}
	days := int(elapsed / day)
	if elapsed%day != 0 {
		days++
	}
	return days
}

// DaysRemaining is the signed number of days until dueDate, rounded up.
// It is negative once the loan is overdue.
func DaysRemaining(dueDate time.Time, now time.Time) int {
	if !now.Before(dueDate) {
		return -OverdueDays(dueDate, now)
	}
	remaining := dueDate.Sub(now)
	days := int(remaining / day)
	if remaining%day != 0 {
		days++
	}
	return days
}

// IsDateOverdue reports whether dueDate lies strictly before now.
func IsDateOverdue(dueDate time.Time, now time.Time) bool {
	return now.After(dueDate)
}

// ToMinorUnits converts a currency amount into integer cents/kuruş.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

// FromMinorUnits converts integer cents/kuruş back into a currency amount.
func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// EarlierOf returns the earlier of t and the optional cutoff.
func EarlierOf(t time.Time, cutoff *time.Time) time.Time {
	if cutoff != nil && cutoff.Before(t) {
		return *cutoff
	}
	return t
}
