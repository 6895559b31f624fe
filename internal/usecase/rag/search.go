package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docqa/internal/domain"
	"github.com/kailas-cloud/docqa/internal/domain/chunk"
	"github.com/kailas-cloud/docqa/internal/domain/search/result"
	"github.com/kailas-cloud/docqa/internal/metrics"
)

// Query returns the chunks most similar to text, best first.
func (e *Engine) Query(ctx context.Context, text string, limit int) ([]chunk.Chunk, error) {
	results, err := e.Search(ctx, text, limit)
	if err != nil {
		return nil, err
	}
	return result.Chunks(results), nil
}

// Search embeds text and ranks the index against it.
// limit <= 0 uses Options.DefaultLimit; larger limits are capped at Options.MaxLimit.
// An empty index returns no results without calling the embedding provider.
func (e *Engine) Search(ctx context.Context, text string, limit int) ([]result.Result, error) {
	start := time.Now()
	results, err := e.search(ctx, text, limit)

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.SearchDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	return results, err
}

func (e *Engine) search(ctx context.Context, text string, limit int) ([]result.Result, error) {
	query := strings.TrimSpace(text)
	if query == "" {
		return nil, fmt.Errorf("query text is required: %w", domain.ErrInvalidRequest)
	}
	limit = e.effectiveLimit(limit)

	if e.store.Len() == 0 {
		return []result.Result{}, nil
	}

	emb, err := e.queryEmbedder.Embed(ctx, query)
	if err != nil {
		if errors.Is(err, domain.ErrEmbeddingUnavailable) {
			return nil, fmt.Errorf("%w: %w", domain.ErrRetrievalUnavailable, err)
		}
		return nil, fmt.Errorf("vectorize query: %w", err)
	}
	domain.UsageFromContext(ctx).AddTokens(emb.TotalTokens)

	results, err := e.store.Search(emb.Embedding, limit)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	results = e.applyMinScore(results)

	e.logger.Debug("Search completed",
		zap.Int("limit", limit),
		zap.Int("results", len(results)),
	)
	return results, nil
}

func (e *Engine) effectiveLimit(limit int) int {
	if limit <= 0 {
		limit = e.opts.DefaultLimit
	}
	return min(limit, e.opts.MaxLimit)
}

func (e *Engine) applyMinScore(results []result.Result) []result.Result {
	if e.opts.MinScore <= 0 {
		return results
	}
	// Results are sorted, so the first miss ends the list.
	for i := range results {
		if results[i].Score() < e.opts.MinScore {
			return results[:i]
		}
	}
	return results
}
