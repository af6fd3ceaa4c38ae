package shared

import "time"

// PeriodBounds returns the first and last instant of a declaration period.
// The upper bound is exclusive.
func PeriodBounds(year, month int) (time.Time, time.Time) {
	first := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	return first, first.AddDate(0, 1, 0)
}

// PriorPeriod returns the period preceding (year, month). January rolls
// back to December of the prior year.
func PriorPeriod(year, month int) (int, int) {
	if month == 1 {
		return year - 1, 12
	}
	return year, month - 1
}

// ValidPeriod reports whether the year/month pair denotes a real period.
func ValidPeriod(year, month int) bool {
	return year >= 2000 && year <= 2100 && month >= 1 && month <= 12
}
