package docqa

import (
	"time"

	"go.uber.org/zap"
)

// Option configures a Client.
type Option func(*clientConfig)

type clientConfig struct {
	embedder            Embedder
	useHashing          bool
	hashingDims         int
	dimensions          int
	targetSize          int
	overlap             int
	overlapSet          bool
	minChunkChars       int
	minChunkCharsSet    bool
	separators          []string
	losslessCut         bool
	boilerplate         []string
	documentInstruction string
	queryInstruction    string
	defaultLimit        int
	maxLimit            int
	minScore            float64
	embedWorkers        int
	pageWorkers         int
	cacheAddrs          []string
	cachePassword       string
	cacheTTL            time.Duration
	cachePrefix         string
	logger              *zap.Logger
}

// WithEmbedder sets the embedding provider.
func WithEmbedder(e Embedder) Option {
	return func(c *clientConfig) {
		c.embedder = e
		c.useHashing = false
	}
}

// WithHashingEmbedder uses the built-in offline feature-hashing embedder.
// dims <= 0 selects the default size.
func WithHashingEmbedder(dims int) Option {
	return func(c *clientConfig) {
		c.embedder = nil
		c.useHashing = true
		c.hashingDims = dims
	}
}

// WithDimensions fixes the vector size; vectors of any other size are rejected.
// Without it the index adopts the size of the first stored vector.
func WithDimensions(n int) Option {
	return func(c *clientConfig) { c.dimensions = n }
}

// WithChunking sets the target chunk size and overlap, in characters.
func WithChunking(targetSize, overlap int) Option {
	return func(c *clientConfig) {
		c.targetSize = targetSize
		c.overlap = overlap
		c.overlapSet = true
	}
}

// WithMinChunkChars drops chunks shorter than n characters.
func WithMinChunkChars(n int) Option {
	return func(c *clientConfig) {
		c.minChunkChars = n
		c.minChunkCharsSet = true
	}
}

// WithSeparators replaces the split hierarchy ("" splits into characters).
func WithSeparators(seps ...string) Option {
	return func(c *clientConfig) { c.separators = seps }
}

// WithLosslessHardCut keeps cutting an unbreakable span instead of truncating it.
func WithLosslessHardCut() Option {
	return func(c *clientConfig) { c.losslessCut = true }
}

// WithBoilerplate removes the given phrases (letterheads, footers) from page text.
func WithBoilerplate(phrases ...string) Option {
	return func(c *clientConfig) { c.boilerplate = append(c.boilerplate, phrases...) }
}

// WithInstructions sets the prefixes instruction-tuned models expect for passages and questions.
func WithInstructions(document, query string) Option {
	return func(c *clientConfig) {
		c.documentInstruction = document
		c.queryInstruction = query
	}
}

// WithSearchLimits sets the default and maximum number of hits.
func WithSearchLimits(defaultLimit, maxLimit int) Option {
	return func(c *clientConfig) {
		c.defaultLimit = defaultLimit
		c.maxLimit = maxLimit
	}
}

// WithMinScore drops hits scoring below s.
func WithMinScore(s float64) Option {
	return func(c *clientConfig) { c.minScore = s }
}

// WithWorkers bounds concurrent embedding calls per page and pages in flight.
func WithWorkers(embed, pages int) Option {
	return func(c *clientConfig) {
		c.embedWorkers = embed
		c.pageWorkers = pages
	}
}

// WithRedisCache caches embeddings in Redis. ttl 0 keeps entries forever.
func WithRedisCache(addrs []string, password string, ttl time.Duration) Option {
	return func(c *clientConfig) {
		c.cacheAddrs = addrs
		c.cachePassword = password
		c.cacheTTL = ttl
	}
}

// WithCacheKeyPrefix namespaces cache keys (default "docqa:").
func WithCacheKeyPrefix(prefix string) Option {
	return func(c *clientConfig) { c.cachePrefix = prefix }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(c *clientConfig) { c.logger = l }
}
