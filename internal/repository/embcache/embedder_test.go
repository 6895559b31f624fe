package embcache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/kailas-cloud/docqa/internal/db"
	"github.com/kailas-cloud/docqa/internal/domain"
)

func TestEmbed_CacheMiss(t *testing.T) {
	inner := &mockEmbedder{result: domain.EmbeddingResult{
		Embedding:    []float32{0.1, 0.2, 0.3},
		PromptTokens: 10,
		TotalTokens:  10,
	}}
	ce, ms := newTestCachedEmbedder(t, inner)

	var (
		setKey string
		setTTL time.Duration
	)
	ms.setFn = func(_ context.Context, key string, _ []byte, ttl time.Duration) error {
		setKey, setTTL = key, ttl
		return nil
	}

	result, err := ce.Embed(context.Background(), "test text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Embedding) != 3 || result.Embedding[0] != 0.1 {
		t.Fatalf("unexpected vector: %v", result.Embedding)
	}
	if result.TotalTokens != 10 {
		t.Fatalf("expected TotalTokens=10, got %d", result.TotalTokens)
	}
	if !strings.HasPrefix(setKey, "docqa:emb:test-model:") {
		t.Errorf("unexpected cache key %q", setKey)
	}
	if setTTL != time.Hour {
		t.Errorf("expected configured TTL, got %s", setTTL)
	}
}

func TestEmbed_CacheHit(t *testing.T) {
	inner := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{0.1, 0.2, 0.3}}}
	ce, ms := newTestCachedEmbedder(t, inner)

	cached := encodeEntry([]float32{0.4, 0.5, 0.6})
	ms.getFn = func(_ context.Context, _ string) ([]byte, error) {
		return cached, nil
	}

	result, err := ce.Embed(context.Background(), "test text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Embedding) != 3 || result.Embedding[0] != 0.4 {
		t.Fatalf("expected cached vector, got: %v", result.Embedding)
	}
	if result.TotalTokens != 0 {
		t.Fatalf("expected TotalTokens=0 on cache hit, got %d", result.TotalTokens)
	}
	if inner.calls != 0 {
		t.Errorf("cache hit must not call the provider")
	}
}

func TestEmbed_InnerErrorKeepsSentinel(t *testing.T) {
	inner := &mockEmbedder{err: domain.ErrEmbeddingUnavailable}
	ce, _ := newTestCachedEmbedder(t, inner)

	_, err := ce.Embed(context.Background(), "test text")
	if !errors.Is(err, domain.ErrEmbeddingUnavailable) {
		t.Fatalf("expected ErrEmbeddingUnavailable, got %v", err)
	}
}

func TestEmbed_StoreErrorsDegradeToMiss(t *testing.T) {
	inner := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{1}}}
	ce, ms := newTestCachedEmbedder(t, inner)

	ms.getFn = func(_ context.Context, _ string) ([]byte, error) {
		return nil, &db.Error{Op: db.OpGet, Err: context.DeadlineExceeded}
	}
	ms.setFn = func(_ context.Context, _ string, _ []byte, _ time.Duration) error {
		return errors.New("read-only replica")
	}

	result, err := ce.Embed(context.Background(), "test text")
	if err != nil {
		t.Fatalf("cache failures must not fail embedding: %v", err)
	}
	if len(result.Embedding) != 1 || inner.calls != 1 {
		t.Errorf("expected provider result")
	}
}

func TestEmbed_CorruptEntryIsMiss(t *testing.T) {
	inner := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{0.7}}}
	ce, ms := newTestCachedEmbedder(t, inner)
	ms.getFn = func(_ context.Context, _ string) ([]byte, error) {
		return []byte{1, 2, 3}, nil
	}

	result, err := ce.Embed(context.Background(), "x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Embedding[0] != 0.7 {
		t.Errorf("expected provider vector, got %v", result.Embedding)
	}
}

func TestCacheKey_ScopedByModelAndText(t *testing.T) {
	a := New(&mockEmbedder{}, &mockKVStore{}, Options{KeyPrefix: "p:", Model: "m1"}, nil, zap.NewNop())
	b := New(&mockEmbedder{}, &mockKVStore{}, Options{KeyPrefix: "p:", Model: "m2"}, nil, zap.NewNop())

	if a.cacheKey("same") == b.cacheKey("same") {
		t.Error("different models must not share keys")
	}
	if a.cacheKey("one") == a.cacheKey("two") {
		t.Error("different texts must not share keys")
	}
	if a.cacheKey("same") != a.cacheKey("same") {
		t.Error("key must be deterministic")
	}
}

func TestEmbed_CountsHitsAndMisses(t *testing.T) {
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_cache_total"}, []string{"result"})
	inner := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{0.5}}}

	stored := map[string][]byte{}
	ms := &mockKVStore{
		getFn: func(_ context.Context, key string) ([]byte, error) {
			if v, ok := stored[key]; ok {
				return v, nil
			}
			return nil, db.ErrKeyNotFound
		},
		setFn: func(_ context.Context, key string, value []byte, _ time.Duration) error {
			stored[key] = value
			return nil
		},
	}
	ce := New(inner, ms, testOpts, counter, zap.NewNop())

	for range 3 {
		if _, err := ce.Embed(context.Background(), "repeated"); err != nil {
			t.Fatalf("embed: %v", err)
		}
	}
	if got := testutil.ToFloat64(counter.WithLabelValues("miss")); got != 1 {
		t.Errorf("expected 1 miss, got %f", got)
	}
	if got := testutil.ToFloat64(counter.WithLabelValues("hit")); got != 2 {
		t.Errorf("expected 2 hits, got %f", got)
	}
	if inner.calls != 1 {
		t.Errorf("expected 1 provider call, got %d", inner.calls)
	}
}

func TestHealthCheck_Delegates(t *testing.T) {
	down := errors.New("unreachable")
	ce, _ := newTestCachedEmbedder(t, &mockEmbedder{healthy: down})
	if err := ce.HealthCheck(context.Background()); !errors.Is(err, down) {
		t.Fatalf("expected inner error, got %v", err)
	}
}

func TestEmbed_CountsStoreErrors(t *testing.T) {
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_cache_err_total"}, []string{"result"})
	ms := &mockKVStore{getFn: func(_ context.Context, _ string) ([]byte, error) {
		return nil, &db.Error{Op: db.OpGet, Err: errors.New("conn reset")}
	}}
	ce := New(&mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{1}}}, ms, testOpts, counter, zap.NewNop())

	if _, err := ce.Embed(context.Background(), "x"); err != nil {
		t.Fatal(err)
	}
	if got := testutil.ToFloat64(counter.WithLabelValues("error")); got != 1 {
		t.Errorf("expected 1 error, got %f", got)
	}
	if got := testutil.ToFloat64(counter.WithLabelValues("miss")); got != 1 {
		t.Errorf("expected 1 miss, got %f", got)
	}
}

func TestEmbed_IgnoresEntryOfAnotherSize(t *testing.T) {
	inner := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{1, 0, 0, 0}, TotalTokens: 3}}
	ms := &mockKVStore{getFn: func(_ context.Context, _ string) ([]byte, error) {
		return encodeEntry([]float32{1, 2}), nil
	}}
	opts := testOpts
	opts.Dimensions = 4
	ce := New(inner, ms, opts, nil, zap.NewNop())

	res, err := ce.Embed(context.Background(), "x")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Embedding) != 4 || inner.calls != 1 || res.TotalTokens != 3 {
		t.Errorf("expected a provider call for a stale-sized entry, got %+v", res)
	}
}

// blockingEmbedder holds every call until release is closed.
type blockingEmbedder struct {
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func (b *blockingEmbedder) Embed(_ context.Context, _ string) (domain.EmbeddingResult, error) {
	if b.calls.Add(1) == 1 {
		close(b.entered)
	}
	<-b.release
	return domain.EmbeddingResult{Embedding: []float32{0.3, 0.4}, TotalTokens: 9}, nil
}

func TestEmbed_ConcurrentMissesShareOneCall(t *testing.T) {
	inner := &blockingEmbedder{entered: make(chan struct{}), release: make(chan struct{})}
	ce := New(inner, &mockKVStore{}, testOpts, nil, zap.NewNop())

	const n = 4
	results := make([]domain.EmbeddingResult, n)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _ = ce.Embed(context.Background(), "dup")
	}()
	<-inner.entered

	for i := 1; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _ = ce.Embed(context.Background(), "dup")
		}()
	}
	// Followers need time to join the in-flight call before it completes.
	time.Sleep(50 * time.Millisecond)
	close(inner.release)
	wg.Wait()

	if got := inner.calls.Load(); got != 1 {
		t.Fatalf("expected 1 provider call, got %d", got)
	}
	var tokens int
	for i, r := range results {
		if len(r.Embedding) != 2 {
			t.Fatalf("caller %d got %v", i, r.Embedding)
		}
		tokens += r.TotalTokens
	}
	if tokens != 9 {
		t.Errorf("tokens must be charged once, got %d", tokens)
	}
}

func TestDecodeEntry_RejectsDamage(t *testing.T) {
	good := encodeEntry([]float32{1, 2, 3})

	flipped := append([]byte(nil), good...)
	flipped[headerSize] ^= 0xff

	truncated := good[:len(good)-1]

	for name, data := range map[string][]byte{
		"checksum":  flipped,
		"truncated": truncated,
		"tiny":      {1, 2, 3},
	} {
		if _, err := decodeEntry(data); !errors.Is(err, errCorruptEntry) {
			t.Errorf("%s: expected errCorruptEntry, got %v", name, err)
		}
	}
}

func TestVectorBytesRoundTrip(t *testing.T) {
	in := []float32{0, -1.5, 3.25, 1e-7}
	out, err := decodeEntry(encodeEntry(in))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := range in {
		if in[i] != out[i] {
			t.Fatalf("component %d: %v != %v", i, in[i], out[i])
		}
	}
}
