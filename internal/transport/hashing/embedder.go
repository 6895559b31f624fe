// Package hashing is an offline embedding provider based on signed feature hashing.
// Vectors are deterministic and L2-normalized; similar wording gives similar vectors.
package hashing

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"

	"github.com/kailas-cloud/docqa/internal/domain"
)

// DefaultDimensions matches common small sentence-embedding models.
const DefaultDimensions = 384

const bigramWeight = 0.5

// Embedder hashes word unigrams and bigrams into a fixed-size vector.
type Embedder struct {
	dim int
}

// New creates a hashing embedder. dim <= 0 uses DefaultDimensions.
func New(dim int) *Embedder {
	if dim <= 0 {
		dim = DefaultDimensions
	}
	return &Embedder{dim: dim}
}

// Dimensions returns the vector length.
func (e *Embedder) Dimensions() int { return e.dim }

// Embed vectorizes text. Text without any word fails with domain.ErrEmbeddingFailed.
func (e *Embedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("hashing embed: %w", err)
	}

	tokens := tokenize(text)
	if len(tokens) == 0 {
		return domain.EmbeddingResult{}, fmt.Errorf("no words to embed: %w", domain.ErrEmbeddingFailed)
	}

	acc := make([]float64, e.dim)
	for i, tok := range tokens {
		e.add(acc, tok, 1)
		if i > 0 {
			e.add(acc, tokens[i-1]+" "+tok, bigramWeight)
		}
	}

	var sum float64
	for _, x := range acc {
		sum += x * x
	}
	if sum == 0 {
		return domain.EmbeddingResult{}, fmt.Errorf("features cancelled out: %w", domain.ErrEmbeddingFailed)
	}
	n := math.Sqrt(sum)

	vec := make([]float32, e.dim)
	for i, x := range acc {
		vec[i] = float32(x / n)
	}
	return domain.EmbeddingResult{
		Embedding:    vec,
		PromptTokens: len(tokens),
		TotalTokens:  len(tokens),
	}, nil
}

// HealthCheck always succeeds; the provider has no external dependency.
func (e *Embedder) HealthCheck(_ context.Context) error { return nil }

func (e *Embedder) add(acc []float64, feature string, weight float64) {
	h := xxhash.Sum64String(feature)
	idx := h % uint64(e.dim)
	if h>>63 == 1 {
		weight = -weight
	}
	acc[idx] += weight
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
