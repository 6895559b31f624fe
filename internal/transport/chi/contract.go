package chi

import (
	"context"

	"github.com/kailas-cloud/docqa/internal/domain/chunk"
	"github.com/kailas-cloud/docqa/internal/domain/search/result"
	domusage "github.com/kailas-cloud/docqa/internal/domain/usage"
	healthuc "github.com/kailas-cloud/docqa/internal/usecase/health"
	"github.com/kailas-cloud/docqa/internal/usecase/rag"
)

// Engine is the retrieval engine consumed by the HTTP layer.
type Engine interface {
	Ingest(ctx context.Context, page chunk.Page) (rag.IngestReport, error)
	IngestPages(ctx context.Context, pages <-chan chunk.Page) (rag.IngestReport, error)
	Search(ctx context.Context, text string, limit int) ([]result.Result, error)
	Reset() error
}

// HealthChecker produces the readiness report.
type HealthChecker interface {
	Check(ctx context.Context) healthuc.Report
}

// UsageReporter reports embedding token consumption.
type UsageReporter interface {
	GetReport(ctx context.Context, period domusage.Period) domusage.Report
}
