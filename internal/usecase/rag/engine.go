// Package rag orchestrates indexing (normalize, chunk, embed, store) and retrieval.
package rag

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docqa/internal/domain"
	"github.com/kailas-cloud/docqa/internal/metrics"
)

// Options tunes ingestion and retrieval. Zero values fall back to defaults.
type Options struct {
	MinChunkChars int
	DefaultLimit  int
	MaxLimit      int
	MinScore      float64
	EmbedWorkers  int
	PageWorkers   int
}

// DefaultOptions returns the settings used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		MinChunkChars: domain.DefaultMinChunkChars,
		DefaultLimit:  domain.DefaultSearchLimit,
		MaxLimit:      domain.DefaultMaxSearchLimit,
		EmbedWorkers:  4,
		PageWorkers:   2,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MinChunkChars < 0 {
		o.MinChunkChars = 0
	}
	if o.DefaultLimit <= 0 {
		o.DefaultLimit = d.DefaultLimit
	}
	if o.MaxLimit <= 0 {
		o.MaxLimit = d.MaxLimit
	}
	if o.DefaultLimit > o.MaxLimit {
		o.DefaultLimit = o.MaxLimit
	}
	if o.EmbedWorkers <= 0 {
		o.EmbedWorkers = d.EmbedWorkers
	}
	if o.PageWorkers <= 0 {
		o.PageWorkers = d.PageWorkers
	}
	return o
}

// Engine is the indexing and retrieval pipeline over a single document session.
type Engine struct {
	normalizer    Normalizer
	splitter      Splitter
	store         Store
	docEmbedder   Embedder
	queryEmbedder Embedder
	opts          Options
	logger        *zap.Logger

	// Ingestion holds the read side for its whole duration; Reset needs the write side.
	lifecycle sync.RWMutex
	inflight  atomic.Int64
}

// New creates an engine. docEmbedder and queryEmbedder may be the same provider
// wrapped with different instructions.
func New(
	normalizer Normalizer, splitter Splitter, store Store,
	docEmbedder, queryEmbedder Embedder, logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		normalizer:    normalizer,
		splitter:      splitter,
		store:         store,
		docEmbedder:   docEmbedder,
		queryEmbedder: queryEmbedder,
		opts:          DefaultOptions(),
		logger:        logger,
	}
}

// WithOptions replaces the engine options.
func (e *Engine) WithOptions(opts Options) *Engine {
	e.opts = opts.withDefaults()
	return e
}

// Options returns the effective options.
func (e *Engine) Options() Options { return e.opts }

// State reports the index lifecycle state.
func (e *Engine) State() State {
	if e.inflight.Load() > 0 {
		return StateIngesting
	}
	if e.store.Len() == 0 {
		return StateEmpty
	}
	return StateReady
}

// Len returns the number of indexed chunks.
func (e *Engine) Len() int { return e.store.Len() }

// Reset drops every indexed chunk so a new document can be indexed.
// Fails with domain.ErrIngestInProgress while any ingestion runs.
func (e *Engine) Reset() error {
	if !e.lifecycle.TryLock() {
		return domain.ErrIngestInProgress
	}
	defer e.lifecycle.Unlock()

	dropped := e.store.Len()
	e.store.Reset()
	metrics.IndexChunks.Set(0)
	e.logger.Info("Index reset", zap.Int("dropped_chunks", dropped))
	return nil
}

func (e *Engine) begin() func() {
	e.lifecycle.RLock()
	e.inflight.Add(1)
	return func() {
		e.inflight.Add(-1)
		e.lifecycle.RUnlock()
	}
}
