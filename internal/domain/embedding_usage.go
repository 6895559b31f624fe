package domain

import (
	"context"
	"sync/atomic"
)

type embeddingUsageKey struct{}

// EmbeddingUsage tallies embedding calls made on behalf of one request.
// Ingest workers write concurrently; the HTTP layer reads once the engine returns.
type EmbeddingUsage struct {
	tokens atomic.Int64
	calls  atomic.Int64
}

// NewContextWithUsage attaches a fresh tally to ctx.
func NewContextWithUsage(ctx context.Context) (context.Context, *EmbeddingUsage) {
	u := &EmbeddingUsage{}
	return context.WithValue(ctx, embeddingUsageKey{}, u), u
}

// UsageFromContext returns the tally attached to ctx, or nil.
// A nil tally accepts writes and reports zero.
func UsageFromContext(ctx context.Context) *EmbeddingUsage {
	u, _ := ctx.Value(embeddingUsageKey{}).(*EmbeddingUsage)
	return u
}

// AddTokens counts one embedding call that consumed n tokens (0 on a cache hit).
func (u *EmbeddingUsage) AddTokens(n int) {
	if u == nil {
		return
	}
	u.tokens.Add(int64(n))
	u.calls.Add(1)
}

// Snapshot returns the totals recorded so far.
func (u *EmbeddingUsage) Snapshot() (tokens, calls int) {
	if u == nil {
		return 0, 0
	}
	return int(u.tokens.Load()), int(u.calls.Load())
}
