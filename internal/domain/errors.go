package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrEmbeddingUnavailable signals that the embedding provider is not ready (model not loaded, unreachable).
	ErrEmbeddingUnavailable = errors.New("embedding provider unavailable")
	// ErrEmbeddingFailed signals that a single text could not be embedded.
	ErrEmbeddingFailed = errors.New("embedding failed")
	// ErrInvalidChunk signals a chunk rejected at the store boundary (short text, malformed vector).
	ErrInvalidChunk = errors.New("invalid chunk")
	// ErrRetrievalUnavailable signals a query attempted while the embedding provider is not ready.
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")
	// ErrVectorDimMismatch signals a vector dimension mismatch.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")
	// ErrInvalidRequest signals malformed caller input.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrEmbeddingBudgetExceeded signals that the configured embedding token budget is spent.
	ErrEmbeddingBudgetExceeded = errors.New("embedding token budget exceeded")
	// ErrIngestInProgress signals an index reset attempted while pages are still being ingested.
	ErrIngestInProgress = errors.New("ingest in progress")
)

// EmbeddingFailedError wraps ErrEmbeddingFailed with the position of the chunk that failed.
type EmbeddingFailedError struct {
	Page       int
	ChunkIndex int
	Err        error
}

func (e *EmbeddingFailedError) Error() string {
	return fmt.Sprintf("%s: page %d chunk %d: %v", ErrEmbeddingFailed.Error(), e.Page, e.ChunkIndex, e.Err)
}

// Unwrap exposes both the sentinel and the provider error.
func (e *EmbeddingFailedError) Unwrap() []error { return []error{ErrEmbeddingFailed, e.Err} }

// NewEmbeddingFailed creates a per-chunk embedding failure.
func NewEmbeddingFailed(page, chunkIndex int, err error) error {
	return &EmbeddingFailedError{Page: page, ChunkIndex: chunkIndex, Err: err}
}
