// Package usage reports embedding token consumption per period.
package usage

import (
	"context"
	"time"

	domusage "github.com/kailas-cloud/docqa/internal/domain/usage"
)

// Service handles usage reporting.
type Service struct {
	br  BudgetReader
	now func() time.Time
}

// New creates a Service. br can be nil (nothing tracked).
func New(br BudgetReader) *Service {
	return &Service{br: br, now: time.Now}
}

// GetReport builds a usage report for the period containing now.
func (s *Service) GetReport(_ context.Context, period domusage.Period) domusage.Report {
	start, end := period.Bounds(s.now())

	var used, limit int64
	if s.br != nil {
		if period == domusage.PeriodDay {
			used, limit = s.br.DailyUsage()
		} else {
			used, limit = s.br.MonthlyUsage()
		}
	}
	return domusage.NewReport(period, start, end, used, limit)
}
