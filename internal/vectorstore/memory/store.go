// Package memory implements the in-memory vector store with a linear similarity scan.
package memory

import (
	"fmt"
	"sort"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kailas-cloud/docqa/internal/domain"
	"github.com/kailas-cloud/docqa/internal/domain/chunk"
	"github.com/kailas-cloud/docqa/internal/domain/search/result"
)

// Store owns the chunk collection. All access goes through its methods;
// reads run in parallel, appends and resets are exclusive.
type Store struct {
	mu       sync.RWMutex
	chunks   []chunk.Chunk
	dim      int
	fixedDim int
	minChars int
	logger   *zap.Logger
	newID    func() string
}

// New creates an empty store. dim == 0 adopts the dimension of the first stored vector.
func New(dim, minChunkChars int, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		dim:      dim,
		fixedDim: dim,
		minChars: minChunkChars,
		logger:   logger,
		newID:    uuid.NewString,
	}
}

// Append validates, normalizes and stores one chunk.
// Rejected input returns an error wrapping domain.ErrInvalidChunk; the store is unchanged.
func (s *Store) Append(text string, vector []float32, metadata map[string]string) (chunk.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(text, vector, metadata)
}

// AppendAll stores drafts in order under a single lock, so the accepted drafts
// get consecutive sequence numbers. Invalid drafts are skipped.
func (s *Store) AppendAll(drafts []chunk.Draft) (stored []chunk.Chunk, rejected int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored = make([]chunk.Chunk, 0, len(drafts))
	for _, d := range drafts {
		c, err := s.appendLocked(d.Text, d.Vector, d.Metadata)
		if err != nil {
			rejected++
			continue
		}
		stored = append(stored, c)
	}
	return stored, rejected
}

func (s *Store) appendLocked(text string, vector []float32, metadata map[string]string) (chunk.Chunk, error) {
	if err := s.validate(text, vector); err != nil {
		s.logger.Debug("chunk rejected",
			zap.Int("text_len", utf8.RuneCountInString(text)),
			zap.Int("dim", len(vector)),
			zap.Error(err),
		)
		return chunk.Chunk{}, err
	}

	n := norm(vector)
	if n == 0 {
		s.logger.Debug("chunk rejected", zap.String("reason", "zero vector"))
		return chunk.Chunk{}, fmt.Errorf("zero vector: %w", domain.ErrInvalidChunk)
	}

	c, err := chunk.New(s.newID(), len(s.chunks), text, normalize(vector, n), metadata)
	if err != nil {
		return chunk.Chunk{}, fmt.Errorf("%w: %w", domain.ErrInvalidChunk, err)
	}
	if s.dim == 0 {
		s.dim = len(vector)
	}
	s.chunks = append(s.chunks, c)
	return c, nil
}

func (s *Store) validate(text string, vector []float32) error {
	if n := utf8.RuneCountInString(text); n < s.minChars || n == 0 {
		return fmt.Errorf("text length %d below minimum %d: %w", n, s.minChars, domain.ErrInvalidChunk)
	}
	if len(vector) == 0 {
		return fmt.Errorf("empty vector: %w", domain.ErrInvalidChunk)
	}
	if s.dim != 0 && len(vector) != s.dim {
		return fmt.Errorf("vector dimension %d, want %d: %w", len(vector), s.dim, domain.ErrInvalidChunk)
	}
	if !validVector(vector) {
		return fmt.Errorf("non-finite vector component: %w", domain.ErrInvalidChunk)
	}
	return nil
}

// Search scores every stored chunk against query and returns at most limit results,
// highest score first. Equal scores keep insertion order.
func (s *Store) Search(query []float32, limit int) ([]result.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || len(s.chunks) == 0 {
		return []result.Result{}, nil
	}
	if len(query) != s.dim {
		return nil, fmt.Errorf("query dimension %d, store %d: %w", len(query), s.dim, domain.ErrVectorDimMismatch)
	}

	qNorm := norm(query)
	if !validVector(query) {
		qNorm = 0
	}

	scored := make([]result.Result, len(s.chunks))
	for i, c := range s.chunks {
		scored[i] = result.New(c, cosineWithNorm(query, qNorm, c.Embedding()))
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score() > scored[j].Score()
	})

	if limit < len(scored) {
		scored = scored[:limit]
	}
	return scored, nil
}

// Len returns the number of stored chunks.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// Dimension returns the vector dimension, 0 while it is not yet known.
func (s *Store) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dim
}

// Chunks returns a snapshot of the stored chunks in insertion order.
func (s *Store) Chunks() []chunk.Chunk {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]chunk.Chunk(nil), s.chunks...)
}

// Reset discards all chunks.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = nil
	s.dim = s.fixedDim
}
