package result

import "github.com/kailas-cloud/docqa/internal/domain/chunk"

// Result is a single search hit.
type Result struct {
	chunk chunk.Chunk
	score float64
}

// New creates a search result.
func New(c chunk.Chunk, score float64) Result {
	return Result{chunk: c, score: score}
}

// Chunk returns the matched chunk.
func (r *Result) Chunk() chunk.Chunk { return r.chunk }

// Score returns the cosine similarity in [-1, 1]; degenerate values are reported as 0.
func (r *Result) Score() float64 { return r.score }

// Chunks strips scores, keeping rank order.
func Chunks(results []Result) []chunk.Chunk {
	out := make([]chunk.Chunk, len(results))
	for i := range results {
		out[i] = results[i].chunk
	}
	return out
}
