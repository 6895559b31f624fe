// Package docqa indexes document pages for retrieval-augmented question answering.
//
// A Client normalizes page text, splits it into overlapping chunks, embeds the chunks
// and keeps them in an in-memory index that answers questions by cosine similarity.
package docqa

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docqa/internal/chunker"
	dbRedis "github.com/kailas-cloud/docqa/internal/db/redis"
	"github.com/kailas-cloud/docqa/internal/domain"
	"github.com/kailas-cloud/docqa/internal/domain/chunk"
	"github.com/kailas-cloud/docqa/internal/repository/embcache"
	"github.com/kailas-cloud/docqa/internal/textnorm"
	"github.com/kailas-cloud/docqa/internal/transport/hashing"
	"github.com/kailas-cloud/docqa/internal/usecase/rag"
	"github.com/kailas-cloud/docqa/internal/vectorstore/memory"
)

const defaultReadinessTimeout = 10 * time.Second

// Client is the docqa library entry point. It is safe for concurrent use.
type Client struct {
	engine *rag.Engine
	cache  *dbRedis.Store
}

// New creates a Client. An embedder is required: WithEmbedder or WithHashingEmbedder.
func New(opts ...Option) (*Client, error) {
	cfg := &clientConfig{cachePrefix: "docqa:"}
	for _, o := range opts {
		o(cfg)
	}

	if cfg.embedder == nil && !cfg.useHashing {
		return nil, errors.New("docqa: embedder required (use WithEmbedder or WithHashingEmbedder)")
	}

	index := indexConfig(cfg)
	if index.TargetChunkSize <= 0 {
		return nil, fmt.Errorf("docqa: target chunk size must be > 0, got %d", index.TargetChunkSize)
	}
	if index.Overlap < 0 {
		return nil, fmt.Errorf("docqa: overlap must be >= 0, got %d", index.Overlap)
	}

	normalizer, err := textnorm.New(textnorm.WithPhrases(cfg.boilerplate...))
	if err != nil {
		return nil, fmt.Errorf("docqa: normalizer: %w", err)
	}

	logger := cfg.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		base      domain.Embedder
		modelName string
	)
	switch {
	case cfg.useHashing:
		dims := cfg.hashingDims
		if dims <= 0 {
			dims = index.Dimensions
		}
		h := hashing.New(dims)
		index.Dimensions = h.Dimensions()
		base, modelName = h, fmt.Sprintf("hashing-%d", h.Dimensions())
	case cfg.embedder != nil:
		base, modelName = &embedderAdapter{inner: cfg.embedder}, fmt.Sprintf("%T", cfg.embedder)
	}

	c := &Client{}
	if len(cfg.cacheAddrs) > 0 {
		if c.cache, err = connectCache(cfg); err != nil {
			return nil, err
		}
		base = embcache.New(base, c.cache, embcache.Options{
			KeyPrefix:  cfg.cachePrefix,
			Model:      modelName,
			Dimensions: index.Dimensions,
			TTL:        cfg.cacheTTL,
		}, nil, logger)
	}

	docEmbedder, queryEmbedder := base, base
	if cfg.documentInstruction != "" {
		docEmbedder = domain.NewInstructionEmbedder(base, cfg.documentInstruction)
	}
	if cfg.queryInstruction != "" {
		queryEmbedder = domain.NewInstructionEmbedder(base, cfg.queryInstruction)
	}

	store := memory.New(index.Dimensions, index.MinChunkChars, logger)
	c.engine = rag.New(normalizer, chunker.New(index), store, docEmbedder, queryEmbedder, logger).
		WithOptions(engineOptions(cfg, index))
	return c, nil
}

func connectCache(cfg *clientConfig) (*dbRedis.Store, error) {
	s, err := dbRedis.NewStore(dbRedis.Config{Addrs: cfg.cacheAddrs, Password: cfg.cachePassword})
	if err != nil {
		return nil, fmt.Errorf("docqa: create redis cache: %w", err)
	}
	if err := s.WaitForReady(context.Background(), defaultReadinessTimeout); err != nil {
		s.Close()
		return nil, fmt.Errorf("docqa: redis cache not ready: %w", err)
	}
	return s, nil
}

func indexConfig(cfg *clientConfig) domain.IndexConfig {
	index := domain.DefaultIndexConfig()
	if cfg.targetSize != 0 {
		index.TargetChunkSize = cfg.targetSize
	}
	if cfg.overlapSet {
		index.Overlap = cfg.overlap
	}
	if cfg.minChunkCharsSet {
		index.MinChunkChars = cfg.minChunkChars
	}
	if len(cfg.separators) > 0 {
		index.Separators = cfg.separators
	}
	index.LosslessCut = cfg.losslessCut
	index.Dimensions = cfg.dimensions
	return index
}

func engineOptions(cfg *clientConfig, index domain.IndexConfig) rag.Options {
	opts := rag.DefaultOptions()
	opts.MinChunkChars = index.MinChunkChars
	if cfg.defaultLimit > 0 {
		opts.DefaultLimit = cfg.defaultLimit
	}
	if cfg.maxLimit > 0 {
		opts.MaxLimit = cfg.maxLimit
	}
	opts.MinScore = cfg.minScore
	if cfg.embedWorkers > 0 {
		opts.EmbedWorkers = cfg.embedWorkers
	}
	if cfg.pageWorkers > 0 {
		opts.PageWorkers = cfg.pageWorkers
	}
	return opts
}

// Close releases the cache connection, if any. The index itself is garbage collected.
func (c *Client) Close() {
	if c.cache != nil {
		c.cache.Close()
	}
}

// Ingest indexes one page. Chunks that fail to embed are skipped and counted;
// an unavailable provider aborts the page and leaves earlier pages indexed.
func (c *Client) Ingest(ctx context.Context, p Page) (IngestReport, error) {
	r, err := c.engine.Ingest(ctx, toDomainPage(p))
	if err != nil {
		return fromDomainReport(r), fmt.Errorf("ingest page %d: %w", p.Number, err)
	}
	return fromDomainReport(r), nil
}

// IngestPages indexes pages from a channel until it is closed, in any arrival order.
// If ingestion stops early, the remaining pages are read and discarded so the
// producer can finish; pages must still be closed by the producer.
func (c *Client) IngestPages(ctx context.Context, pages <-chan Page) (IngestReport, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	in := make(chan chunk.Page)
	go func() {
		defer close(in)
		for p := range pages {
			select {
			case in <- toDomainPage(p):
			case <-ctx.Done():
				// Discard the rest so the producer is not left blocked.
				for range pages {
				}
				return
			}
		}
	}()

	r, err := c.engine.IngestPages(ctx, in)
	if err != nil {
		return fromDomainReport(r), fmt.Errorf("ingest pages: %w", err)
	}
	return fromDomainReport(r), nil
}

// Query returns the chunks most relevant to question, best first.
// limit <= 0 uses the default limit.
func (c *Client) Query(ctx context.Context, question string, limit int) ([]Chunk, error) {
	hits, err := c.Search(ctx, question, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Chunk, len(hits))
	for i := range hits {
		out[i] = hits[i].Chunk
	}
	return out, nil
}

// Search is Query with similarity scores.
func (c *Client) Search(ctx context.Context, question string, limit int) ([]Hit, error) {
	results, err := c.engine.Search(ctx, question, limit)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	return fromDomainResults(results), nil
}

// Reset empties the index for a new document. Fails with ErrIngestInProgress during ingestion.
func (c *Client) Reset() error {
	if err := c.engine.Reset(); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	return nil
}

// Len returns the number of indexed chunks.
func (c *Client) Len() int { return c.engine.Len() }

// State reports whether the index is empty, being filled or ready to answer.
func (c *Client) State() State { return State(c.engine.State().String()) }

// embedderAdapter wraps public Embedder to satisfy internal domain.Embedder.
type embedderAdapter struct {
	inner Embedder
}

func (a *embedderAdapter) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	r, err := a.inner.Embed(ctx, text)
	if err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("embed: %w", err)
	}
	return domain.EmbeddingResult{
		Embedding:    r.Embedding,
		PromptTokens: r.PromptTokens,
		TotalTokens:  r.TotalTokens,
	}, nil
}
