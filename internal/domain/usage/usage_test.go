package usage

import (
	"errors"
	"testing"
	"time"

	"github.com/kailas-cloud/docqa/internal/domain"
)

func TestParsePeriod(t *testing.T) {
	tests := []struct {
		in   string
		want Period
		err  bool
	}{
		{"", PeriodMonth, false},
		{"month", PeriodMonth, false},
		{"day", PeriodDay, false},
		{"year", "", true},
	}
	for _, tt := range tests {
		got, err := ParsePeriod(tt.in)
		if tt.err {
			if !errors.Is(err, domain.ErrInvalidRequest) {
				t.Errorf("%q: expected ErrInvalidRequest, got %v", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("%q: got %q, %v", tt.in, got, err)
		}
	}
}

func TestPeriodBounds(t *testing.T) {
	now := time.Date(2026, 12, 31, 23, 59, 0, 0, time.UTC)

	start, end := PeriodDay.Bounds(now)
	if !start.Equal(time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)) || !end.Equal(time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("day bounds: %s - %s", start, end)
	}

	start, end = PeriodMonth.Bounds(now)
	if !start.Equal(time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)) || !end.Equal(time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("month bounds: %s - %s", start, end)
	}
}

func TestReport_Budget(t *testing.T) {
	r := NewReport(PeriodDay, time.Time{}, time.Time{}, 700, 1000)
	if r.TokensRemaining() != 300 || r.IsExhausted() {
		t.Errorf("remaining=%d exhausted=%v", r.TokensRemaining(), r.IsExhausted())
	}

	r = NewReport(PeriodDay, time.Time{}, time.Time{}, 1200, 1000)
	if r.TokensRemaining() != 0 || !r.IsExhausted() {
		t.Errorf("overspent: remaining=%d exhausted=%v", r.TokensRemaining(), r.IsExhausted())
	}

	r = NewReport(PeriodMonth, time.Time{}, time.Time{}, 5, 0)
	if r.TokensRemaining() != -1 || r.IsExhausted() {
		t.Errorf("unlimited: remaining=%d exhausted=%v", r.TokensRemaining(), r.IsExhausted())
	}
}
