package health

import (
	"context"

	"github.com/kailas-cloud/docqa/internal/usecase/rag"
)

// CachePinger checks embedding cache availability.
type CachePinger interface {
	Ping(ctx context.Context) error
}

// EmbeddingChecker checks embedding provider availability.
type EmbeddingChecker interface {
	HealthCheck(ctx context.Context) error
}

// Index reports the retrieval index state.
type Index interface {
	State() rag.State
	Len() int
}
