// Package embcache caches embeddings in a key-value store, keyed by model and text hash.
package embcache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kailas-cloud/docqa/internal/db"
	"github.com/kailas-cloud/docqa/internal/domain"
)

// Cache outcomes reported on the counter passed to New.
const (
	resultHit   = "hit"
	resultMiss  = "miss"
	resultError = "error"
)

// Entry layout: uint32 dims | dims*float32 | uint64 xxhash of the vector bytes. Little-endian.
const (
	headerSize   = 4
	checksumSize = 8
)

var errCorruptEntry = errors.New("corrupt embedding cache entry")

type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Options scope the cache entries.
type Options struct {
	KeyPrefix  string        // e.g. "docqa:"
	Model      string        // vectors of different models never share a key
	Dimensions int           // entries of another size are ignored; 0 accepts any
	TTL        time.Duration // 0 = no expiry
}

// CachedEmbedder serves repeated texts from the store and collapses
// concurrent misses for the same text into one provider call.
type CachedEmbedder struct {
	inner   domain.Embedder
	store   store
	opts    Options
	flights singleflight.Group
	counter *prometheus.CounterVec
	logger  *zap.Logger
}

// New creates a caching decorator. counter has the single label "result"
// and may be nil.
func New(
	inner domain.Embedder,
	s store,
	opts Options,
	counter *prometheus.CounterVec,
	logger *zap.Logger,
) *CachedEmbedder {
	return &CachedEmbedder{
		inner:   inner,
		store:   s,
		opts:    opts,
		counter: counter,
		logger:  logger,
	}
}

// Embed returns a cached embedding or calls the inner embedder.
// Hits and callers that joined another caller's flight report zero tokens,
// so the budget is charged once per provider call.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	key := c.cacheKey(text)

	if vec, ok := c.lookup(ctx, key); ok {
		c.count(resultHit)
		return domain.EmbeddingResult{Embedding: vec}, nil
	}

	var leader bool
	v, err, _ := c.flights.Do(key, func() (any, error) {
		leader = true
		c.count(resultMiss)
		res, err := c.inner.Embed(ctx, text)
		if err != nil {
			return domain.EmbeddingResult{}, err
		}
		c.save(ctx, key, res.Embedding)
		return res, nil
	})
	if err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("embed text: %w", err)
	}

	res := v.(domain.EmbeddingResult) //nolint:forcetypeassert // the flight only returns EmbeddingResult
	if !leader {
		res.PromptTokens, res.TotalTokens = 0, 0
	}
	return res, nil
}

// HealthCheck delegates to the inner embedder when it supports health checks.
func (c *CachedEmbedder) HealthCheck(ctx context.Context) error {
	if hc, ok := c.inner.(domain.HealthChecker); ok {
		return hc.HealthCheck(ctx) //nolint:wrapcheck // transparent decorator
	}
	return nil
}

func (c *CachedEmbedder) count(result string) {
	if c.counter != nil {
		c.counter.WithLabelValues(result).Inc()
	}
}

func (c *CachedEmbedder) cacheKey(text string) string {
	h := sha256.Sum256([]byte(text))
	return c.opts.KeyPrefix + "emb:" + c.opts.Model + ":" + hex.EncodeToString(h[:])
}

func (c *CachedEmbedder) lookup(ctx context.Context, key string) ([]float32, bool) {
	data, err := c.store.Get(ctx, key)
	switch {
	case errors.Is(err, db.ErrKeyNotFound):
		return nil, false
	case err != nil:
		c.count(resultError)
		c.logger.Warn("Embedding cache read failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}

	vec, err := decodeEntry(data)
	if err != nil {
		c.count(resultError)
		c.logger.Warn("Dropping unreadable cached embedding", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if c.opts.Dimensions > 0 && len(vec) != c.opts.Dimensions {
		c.logger.Debug("Ignoring cached embedding of another size",
			zap.String("key", key), zap.Int("got", len(vec)), zap.Int("want", c.opts.Dimensions))
		return nil, false
	}
	return vec, true
}

func (c *CachedEmbedder) save(ctx context.Context, key string, vec []float32) {
	if len(vec) == 0 {
		return
	}
	if err := c.store.Set(ctx, key, encodeEntry(vec), c.opts.TTL); err != nil {
		c.count(resultError)
		c.logger.Warn("Embedding cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func encodeEntry(v []float32) []byte {
	buf := make([]byte, headerSize+len(v)*4+checksumSize)
	binary.LittleEndian.PutUint32(buf, uint32(len(v))) //nolint:gosec // vector sizes fit in uint32
	body := buf[headerSize : headerSize+len(v)*4]
	for i, f := range v {
		binary.LittleEndian.PutUint32(body[i*4:], math.Float32bits(f))
	}
	binary.LittleEndian.PutUint64(buf[len(buf)-checksumSize:], xxhash.Sum64(body))
	return buf
}

func decodeEntry(data []byte) ([]float32, error) {
	if len(data) < headerSize+checksumSize {
		return nil, fmt.Errorf("%w: %d bytes", errCorruptEntry, len(data))
	}
	dims := int(binary.LittleEndian.Uint32(data))
	if len(data) != headerSize+dims*4+checksumSize {
		return nil, fmt.Errorf("%w: header says %d dims, have %d bytes", errCorruptEntry, dims, len(data))
	}
	body := data[headerSize : headerSize+dims*4]
	if xxhash.Sum64(body) != binary.LittleEndian.Uint64(data[len(data)-checksumSize:]) {
		return nil, fmt.Errorf("%w: checksum mismatch", errCorruptEntry)
	}

	vec := make([]float32, dims)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(body[i*4:]))
	}
	return vec, nil
}
