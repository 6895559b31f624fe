package chunk

import (
	"fmt"
	"unicode/utf8"
)

// Chunk is the atomic indexed unit: a span of normalized page text plus its unit-length embedding
// (immutable value object).
type Chunk struct {
	id        string
	seq       int
	text      string
	embedding []float32
	metadata  map[string]string
}

// New validates and creates a Chunk. The embedding is stored as given; callers normalize first.
func New(id string, seq int, text string, embedding []float32, metadata map[string]string) (Chunk, error) {
	if id == "" {
		return Chunk{}, fmt.Errorf("chunk ID is required")
	}
	if text == "" {
		return Chunk{}, fmt.Errorf("chunk text is required")
	}
	if len(embedding) == 0 {
		return Chunk{}, fmt.Errorf("chunk embedding is required")
	}
	return Chunk{
		id:        id,
		seq:       seq,
		text:      text,
		embedding: embedding,
		metadata:  cloneStringMap(metadata),
	}, nil
}

// ID returns the opaque identifier assigned at creation.
func (c *Chunk) ID() string { return c.id }

// Seq returns the insertion position within the owning store.
func (c *Chunk) Seq() int { return c.seq }

// Text returns the chunk text.
func (c *Chunk) Text() string { return c.text }

// Len returns the text length in characters.
func (c *Chunk) Len() int { return utf8.RuneCountInString(c.text) }

// Embedding returns the unit-length embedding vector.
func (c *Chunk) Embedding() []float32 { return c.embedding }

// Metadata returns the string metadata (source, page, ...).
func (c *Chunk) Metadata() map[string]string { return c.metadata }

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	c := make(map[string]string, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
