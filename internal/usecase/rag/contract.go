package rag

import (
	"context"

	"github.com/kailas-cloud/docqa/internal/domain"
	"github.com/kailas-cloud/docqa/internal/domain/chunk"
	"github.com/kailas-cloud/docqa/internal/domain/search/result"
)

// Normalizer strips boilerplate from raw page text.
type Normalizer interface {
	Normalize(raw string) string
}

// Splitter cuts normalized text into chunks.
type Splitter interface {
	Split(text string) []string
}

// Embedder vectorizes text into embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}

// Store holds embedded chunks and ranks them against a query vector.
type Store interface {
	AppendAll(drafts []chunk.Draft) (stored []chunk.Chunk, rejected int)
	Search(query []float32, limit int) ([]result.Result, error)
	Len() int
	Reset()
}
