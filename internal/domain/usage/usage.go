// Package usage describes embedding token consumption against the configured budget.
package usage

import (
	"fmt"
	"time"

	"github.com/kailas-cloud/docqa/internal/domain"
)

// Period is the aggregation granularity.
type Period string

// Aggregation period constants (UTC calendar boundaries).
const (
	PeriodDay   Period = "day"
	PeriodMonth Period = "month"
)

// ParsePeriod validates a period name; empty means month.
func ParsePeriod(s string) (Period, error) {
	switch Period(s) {
	case "", PeriodMonth:
		return PeriodMonth, nil
	case PeriodDay:
		return PeriodDay, nil
	default:
		return "", fmt.Errorf("unknown usage period %q: %w", s, domain.ErrInvalidRequest)
	}
}

// Bounds returns the UTC period containing now.
func (p Period) Bounds(now time.Time) (start, end time.Time) {
	now = now.UTC()
	if p == PeriodDay {
		start = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 0, 1)
	}
	start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

// Report is an embedding token usage report for a time period.
type Report struct {
	period Period
	start  time.Time
	end    time.Time
	used   int64
	limit  int64
}

// NewReport creates a usage report. limit 0 means unlimited.
func NewReport(period Period, start, end time.Time, used, limit int64) Report {
	return Report{period: period, start: start, end: end, used: used, limit: limit}
}

// Period returns the aggregation granularity.
func (r *Report) Period() Period { return r.period }

// Start returns the period start.
func (r *Report) Start() time.Time { return r.start }

// End returns the period end, which is also when the budget resets.
func (r *Report) End() time.Time { return r.end }

// TokensUsed returns tokens consumed in the period.
func (r *Report) TokensUsed() int64 { return r.used }

// TokensLimit returns the token cap, 0 if unlimited.
func (r *Report) TokensLimit() int64 { return r.limit }

// TokensRemaining returns tokens left, -1 if unlimited.
func (r *Report) TokensRemaining() int64 {
	if r.limit == 0 {
		return -1
	}
	return max(r.limit-r.used, 0)
}

// IsExhausted reports whether the budget is spent.
func (r *Report) IsExhausted() bool { return r.limit > 0 && r.used >= r.limit }
