package docqa

import (
	"context"

	"github.com/kailas-cloud/docqa/internal/domain"
)

// Errors returned by the Client. Match them with errors.Is.
var (
	// ErrEmbeddingUnavailable means the embedding provider cannot serve requests.
	ErrEmbeddingUnavailable = domain.ErrEmbeddingUnavailable
	// ErrEmbeddingFailed marks a single text the provider rejected.
	ErrEmbeddingFailed = domain.ErrEmbeddingFailed
	// ErrEmbeddingBudgetExceeded means the configured token budget is spent.
	ErrEmbeddingBudgetExceeded = domain.ErrEmbeddingBudgetExceeded
	// ErrRetrievalUnavailable is returned by Query and Search while the provider is down.
	ErrRetrievalUnavailable = domain.ErrRetrievalUnavailable
	// ErrInvalidRequest marks malformed input such as an empty question.
	ErrInvalidRequest = domain.ErrInvalidRequest
	// ErrIngestInProgress is returned by Reset while pages are being ingested.
	ErrIngestInProgress = domain.ErrIngestInProgress
)

// Page is one page of extracted document text. Pages may be ingested in any order.
type Page struct {
	Number   int
	Text     string
	Metadata map[string]string
}

// Chunk is an indexed span of page text.
type Chunk struct {
	ID       string
	Text     string
	Metadata map[string]string // includes "page" and "chunk_index"
}

// Hit is a retrieved chunk with its cosine similarity to the question.
type Hit struct {
	Chunk
	Score float64
}

// IngestReport counts what happened to the chunks of the ingested pages.
type IngestReport struct {
	Pages       int
	Chunks      int
	Stored      int
	TooShort    int
	Invalid     int
	EmbedFailed int
}

// EmbeddingResult is a vector with the provider's token usage.
type EmbeddingResult struct {
	Embedding    []float32
	PromptTokens int
	TotalTokens  int
}

// Embedder turns text into a vector. Wrap ErrEmbeddingUnavailable when no request
// can succeed and ErrEmbeddingFailed when only the given text was rejected.
type Embedder interface {
	Embed(ctx context.Context, text string) (EmbeddingResult, error)
}

// State is the lifecycle of the index.
type State string

// Index states.
const (
	StateEmpty     State = "empty"
	StateIngesting State = "ingesting"
	StateReady     State = "ready"
)
