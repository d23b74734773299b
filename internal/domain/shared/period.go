package shared

import (
	"fmt"
	"time"
)

// BillingPeriod is a calendar month, printed as YYYY-MM.
type BillingPeriod struct {
	Year  int
	Month time.Month
}

// NewBillingPeriod validates and builds a period.
func NewBillingPeriod(year, month int) (BillingPeriod, error) {
	if year < 2000 || year > 9999 {
		return BillingPeriod{}, NewDomainError(CodeInvalidInput, fmt.Sprintf("invalid billing year %d", year))
	}
	if month < 1 || month > 12 {
		return BillingPeriod{}, NewDomainError(CodeInvalidInput, fmt.Sprintf("invalid billing month %d", month))
	}
	return BillingPeriod{Year: year, Month: time.Month(month)}, nil
}

// ParseBillingPeriod parses "YYYY-MM".
func ParseBillingPeriod(s string) (BillingPeriod, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return BillingPeriod{}, NewDomainError(CodeInvalidInput, fmt.Sprintf("invalid billing period %q, expected YYYY-MM", s))
	}
	return BillingPeriod{Year: t.Year(), Month: t.Month()}, nil
}

// PeriodOf returns the period containing t.
func PeriodOf(t time.Time) BillingPeriod {
	return BillingPeriod{Year: t.Year(), Month: t.Month()}
}

// String formats the period as YYYY-MM.
func (p BillingPeriod) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// IsZero reports whether the period is unset.
func (p BillingPeriod) IsZero() bool {
	return p.Year == 0 && p.Month == 0
}

// Start is the first instant of the period in UTC.
func (p BillingPeriod) Start() time.Time {
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC)
}

// End is the first instant of the following period (exclusive bound).
func (p BillingPeriod) End() time.Time {
	return p.Start().AddDate(0, 1, 0)
}

// AddMonths shifts the period by n months.
func (p BillingPeriod) AddMonths(n int) BillingPeriod {
	return PeriodOf(p.Start().AddDate(0, n, 0))
}

// Before reports whether p precedes o.
func (p BillingPeriod) Before(o BillingPeriod) bool {
	if p.Year != o.Year {
		return p.Year < o.Year
	}
	return p.Month < o.Month
}
