package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docqa/internal/chunker"
	"github.com/kailas-cloud/docqa/internal/domain"
	"github.com/kailas-cloud/docqa/internal/domain/chunk"
	"github.com/kailas-cloud/docqa/internal/textnorm"
	"github.com/kailas-cloud/docqa/internal/transport/hashing"
	"github.com/kailas-cloud/docqa/internal/vectorstore/memory"
)

// --- Stubs ---

type stubEmbedder struct {
	mu       sync.Mutex
	calls    int
	vectors  map[string][]float32
	errs     map[string]error
	err      error
	fallback []float32
	tokens   int

	started chan struct{} // receives once per call when set
	release chan struct{} // blocks every call until closed when set
}

func newStubEmbedder() *stubEmbedder {
	return &stubEmbedder{
		vectors:  map[string][]float32{},
		errs:     map[string]error{},
		fallback: []float32{1, 0, 0},
	}
}

func (m *stubEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	m.mu.Lock()
	m.calls++
	started, release := m.started, m.release
	m.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return domain.EmbeddingResult{}, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return domain.EmbeddingResult{}, m.err
	}
	if err, ok := m.errs[text]; ok {
		return domain.EmbeddingResult{}, err
	}
	if v, ok := m.vectors[text]; ok {
		return domain.EmbeddingResult{Embedding: v, TotalTokens: m.tokens}, nil
	}
	return domain.EmbeddingResult{Embedding: m.fallback, TotalTokens: m.tokens}, nil
}

func (m *stubEmbedder) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type identityNormalizer struct{}

func (identityNormalizer) Normalize(raw string) string { return raw }

func newEngine(emb Embedder, dim int) (*Engine, *memory.Store) {
	store := memory.New(dim, domain.DefaultMinChunkChars, zap.NewNop())
	e := New(
		identityNormalizer{},
		chunker.New(domain.DefaultIndexConfig()),
		store, emb, emb, zap.NewNop(),
	)
	return e, store
}

func pageText(prefix string, n int) string {
	ws := make([]string, n)
	for i := range ws {
		ws[i] = fmt.Sprintf("%s%03d", prefix, i)
	}
	return strings.Join(ws, " ")
}

// --- Ingest ---

func TestIngest_ShortPageLeavesStoreEmpty(t *testing.T) {
	emb := newStubEmbedder()
	e, store := newEngine(emb, 3)

	report, err := e.Ingest(context.Background(), chunk.Page{Number: 1, Text: "fifteen chars!!"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.Len() != 0 {
		t.Errorf("expected empty store, got %d chunks", store.Len())
	}
	if report.Chunks != 1 || report.TooShort != 1 || report.Stored != 0 {
		t.Errorf("unexpected report %+v", report)
	}
	if emb.callCount() != 0 {
		t.Errorf("short chunks must not be embedded, got %d calls", emb.callCount())
	}
	if e.State() != StateEmpty {
		t.Errorf("expected state empty, got %s", e.State())
	}
}

func TestIngest_TwoPagesOfRepeatedLetters(t *testing.T) {
	e, store := newEngine(newStubEmbedder(), 3)
	a := strings.Repeat("A", 300)
	b := strings.Repeat("B", 300)

	for i, text := range []string{a, b} {
		if _, err := e.Ingest(context.Background(), chunk.Page{Number: i + 1, Text: text}); err != nil {
			t.Fatalf("page %d: %v", i+1, err)
		}
	}

	chunks := store.Chunks()
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].Text() != a || chunks[1].Text() != b {
		t.Errorf("chunks do not match pages")
	}
	if chunks[0].Metadata()[chunk.MetaPage] != "1" || chunks[1].Metadata()[chunk.MetaPage] != "2" {
		t.Errorf("unexpected page metadata")
	}
	if e.State() != StateReady {
		t.Errorf("expected state ready, got %s", e.State())
	}
}

func TestIngest_LongPageKeepsChunkOrder(t *testing.T) {
	e, store := newEngine(newStubEmbedder(), 3)
	e.WithOptions(Options{EmbedWorkers: 8})

	report, err := e.Ingest(context.Background(), chunk.Page{Number: 4, Text: pageText("w", 400)})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if report.Chunks < 2 || report.Stored != report.Chunks {
		t.Fatalf("unexpected report %+v", report)
	}

	for i, c := range store.Chunks() {
		if got := c.Metadata()[chunk.MetaChunkIndex]; got != fmt.Sprint(i) {
			t.Errorf("seq %d holds chunk_index %s", i, got)
		}
		if c.Len() > domain.DefaultTargetChunkSize {
			t.Errorf("chunk %d exceeds target size: %d", i, c.Len())
		}
	}
}

func TestIngest_EmbeddingFailureSkipsChunk(t *testing.T) {
	emb := newStubEmbedder()
	e, store := newEngine(emb, 3)

	text := "first paragraph is long enough\n\nsecond paragraph cannot be tokenized\n\nthird paragraph is fine too"
	e.WithOptions(Options{EmbedWorkers: 1})
	e.splitter = chunker.New(domain.IndexConfig{TargetChunkSize: 40, Overlap: 0})
	emb.errs["second paragraph cannot be tokenized"] = fmt.Errorf("tokenizer: %w", domain.ErrEmbeddingFailed)

	report, err := e.Ingest(context.Background(), chunk.Page{Number: 1, Text: text})
	if err != nil {
		t.Fatalf("per-chunk failure must not fail the page: %v", err)
	}
	if report.EmbedFailed != 1 || report.Stored != 2 {
		t.Errorf("unexpected report %+v", report)
	}
	for _, c := range store.Chunks() {
		if strings.HasPrefix(c.Text(), "second") {
			t.Errorf("failed chunk was stored")
		}
	}
}

func TestIngest_EmbeddingUnavailableAbortsPage(t *testing.T) {
	emb := newStubEmbedder()
	emb.err = fmt.Errorf("model not loaded: %w", domain.ErrEmbeddingUnavailable)
	e, store := newEngine(emb, 3)

	_, err := e.Ingest(context.Background(), chunk.Page{Number: 1, Text: pageText("x", 200)})
	if !errors.Is(err, domain.ErrEmbeddingUnavailable) {
		t.Fatalf("expected ErrEmbeddingUnavailable, got %v", err)
	}
	if store.Len() != 0 {
		t.Errorf("aborted page must not store chunks")
	}
}

func TestIngest_BudgetExceededAbortsPage(t *testing.T) {
	emb := newStubEmbedder()
	emb.err = domain.ErrEmbeddingBudgetExceeded
	e, _ := newEngine(emb, 3)

	_, err := e.Ingest(context.Background(), chunk.Page{Number: 1, Text: pageText("x", 10)})
	if !errors.Is(err, domain.ErrEmbeddingBudgetExceeded) {
		t.Fatalf("expected ErrEmbeddingBudgetExceeded, got %v", err)
	}
}

func TestIngest_InvalidVectorCounted(t *testing.T) {
	emb := newStubEmbedder()
	e, store := newEngine(emb, 3)
	text := "a paragraph with a zero vector"
	emb.vectors[text] = []float32{0, 0, 0}

	report, err := e.Ingest(context.Background(), chunk.Page{Number: 1, Text: text})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if report.Invalid != 1 || store.Len() != 0 {
		t.Errorf("expected rejected chunk, report %+v", report)
	}
}

func TestIngest_CancelledContextKeepsEarlierPages(t *testing.T) {
	e, store := newEngine(newStubEmbedder(), 3)
	if _, err := e.Ingest(context.Background(), chunk.Page{Number: 1, Text: pageText("a", 20)}); err != nil {
		t.Fatalf("first page: %v", err)
	}
	before := store.Len()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Ingest(ctx, chunk.Page{Number: 2, Text: pageText("b", 20)})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if store.Len() != before {
		t.Errorf("cancelled page changed the store: %d -> %d", before, store.Len())
	}
}

func TestIngest_MetadataPreserved(t *testing.T) {
	e, store := newEngine(newStubEmbedder(), 3)
	page := chunk.Page{
		Number:   7,
		Text:     "the preface explains the notation used",
		Metadata: map[string]string{chunk.MetaSource: "manual.pdf", chunk.MetaPage: "vii"},
	}
	if _, err := e.Ingest(context.Background(), page); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	md := store.Chunks()[0].Metadata()
	if md[chunk.MetaSource] != "manual.pdf" || md[chunk.MetaPage] != "vii" || md[chunk.MetaChunkIndex] != "0" {
		t.Errorf("unexpected metadata %v", md)
	}
	if page.Metadata[chunk.MetaChunkIndex] != "" {
		t.Errorf("caller metadata was mutated")
	}
}

func TestIngest_NormalizesText(t *testing.T) {
	store := memory.New(3, domain.DefaultMinChunkChars, zap.NewNop())
	emb := newStubEmbedder()
	e := New(textnorm.MustNew(), chunker.New(domain.DefaultIndexConfig()), store, emb, emb, zap.NewNop())

	text := "Call support@acme.com\n\nfor   the   full   warranty   terms\nPage 2 of 9"
	if _, err := e.Ingest(context.Background(), chunk.Page{Number: 2, Text: text}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	got := store.Chunks()
	if len(got) != 1 || got[0].Text() != "Call for the full warranty terms" {
		t.Fatalf("unexpected chunks %v", got)
	}
}

func TestIngest_RecordsUsage(t *testing.T) {
	emb := newStubEmbedder()
	emb.tokens = 5
	e, _ := newEngine(emb, 3)

	ctx, usage := domain.NewContextWithUsage(context.Background())
	report, err := e.Ingest(ctx, chunk.Page{Number: 1, Text: pageText("t", 200)})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	tokens, _ := usage.Snapshot()
	if tokens != 5*report.Stored {
		t.Errorf("expected %d tokens, got %d", 5*report.Stored, tokens)
	}
}

// --- IngestPages ---

func TestIngestPages_OutOfOrderArrival(t *testing.T) {
	e, store := newEngine(newStubEmbedder(), 3)

	pages := make(chan chunk.Page, 3)
	for _, n := range []int{3, 1, 2} {
		pages <- chunk.Page{Number: n, Text: fmt.Sprintf("page %d has enough text to be indexed", n)}
	}
	close(pages)

	report, err := e.IngestPages(context.Background(), pages)
	if err != nil {
		t.Fatalf("ingest pages: %v", err)
	}
	if report.Pages != 3 || report.Stored != 3 {
		t.Errorf("unexpected report %+v", report)
	}

	seen := map[string]bool{}
	for _, c := range store.Chunks() {
		seen[c.Metadata()[chunk.MetaPage]] = true
	}
	for _, n := range []string{"1", "2", "3"} {
		if !seen[n] {
			t.Errorf("page %s missing from index", n)
		}
	}
}

func TestIngestPages_StopsOnTerminalError(t *testing.T) {
	emb := newStubEmbedder()
	emb.err = domain.ErrEmbeddingUnavailable
	e, _ := newEngine(emb, 3)

	pages := make(chan chunk.Page)
	go func() {
		defer close(pages)
		for i := 1; i <= 100; i++ {
			select {
			case pages <- chunk.Page{Number: i, Text: pageText("p", 10)}:
			case <-time.After(time.Second):
				return
			}
		}
	}()

	report, err := e.IngestPages(context.Background(), pages)
	if !errors.Is(err, domain.ErrEmbeddingUnavailable) {
		t.Fatalf("expected ErrEmbeddingUnavailable, got %v", err)
	}
	if report.Pages >= 100 {
		t.Errorf("expected early stop, processed %d pages", report.Pages)
	}
}

func TestIngestPages_Cancelled(t *testing.T) {
	e, _ := newEngine(newStubEmbedder(), 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.IngestPages(ctx, make(chan chunk.Page))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

// --- Search ---

func TestSearch_EmptyStoreDoesNotEmbed(t *testing.T) {
	emb := newStubEmbedder()
	e, _ := newEngine(emb, 3)

	got, err := e.Query(context.Background(), "anything", 3)
	if err != nil {
		t.Fatalf("empty store must not fail: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no chunks, got %d", len(got))
	}
	if emb.callCount() != 0 {
		t.Errorf("expected no embedding call, got %d", emb.callCount())
	}
}

func TestSearch_EmptyQuery(t *testing.T) {
	e, _ := newEngine(newStubEmbedder(), 3)
	if _, err := e.Search(context.Background(), "   ", 3); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestSearch_RetrievalUnavailable(t *testing.T) {
	docs := newStubEmbedder()
	queries := newStubEmbedder()
	queries.err = fmt.Errorf("warming up: %w", domain.ErrEmbeddingUnavailable)

	store := memory.New(3, domain.DefaultMinChunkChars, zap.NewNop())
	e := New(identityNormalizer{}, chunker.New(domain.DefaultIndexConfig()), store, docs, queries, zap.NewNop())
	if _, err := e.Ingest(context.Background(), chunk.Page{Number: 1, Text: "a chunk that is stored first"}); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	_, err := e.Search(context.Background(), "question", 3)
	if !errors.Is(err, domain.ErrRetrievalUnavailable) {
		t.Fatalf("expected ErrRetrievalUnavailable, got %v", err)
	}
	if !errors.Is(err, domain.ErrEmbeddingUnavailable) {
		t.Errorf("expected provider cause to be kept, got %v", err)
	}
}

func TestSearch_FixedQueryVector(t *testing.T) {
	emb := newStubEmbedder()
	emb.vectors["the first chunk of the manual"] = []float32{1, 0, 0, 0}
	emb.vectors["the second chunk of the manual"] = []float32{0, 1, 0, 0}
	emb.vectors["X"] = []float32{1, 0, 0, 0}
	e, _ := newEngine(emb, 4)

	ctx := context.Background()
	for i, text := range []string{"the first chunk of the manual", "the second chunk of the manual"} {
		if _, err := e.Ingest(ctx, chunk.Page{Number: i + 1, Text: text}); err != nil {
			t.Fatalf("ingest: %v", err)
		}
	}

	got, err := e.Search(ctx, "X", 1)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 result, got %d", len(got))
	}
	c := got[0].Chunk()
	if c.Text() != "the first chunk of the manual" || got[0].Score() < 1-1e-6 {
		t.Errorf("unexpected top result %q (%f)", c.Text(), got[0].Score())
	}
}

func TestSearch_LimitDefaultAndCap(t *testing.T) {
	e, _ := newEngine(newStubEmbedder(), 3)
	e.WithOptions(Options{DefaultLimit: 2, MaxLimit: 3})
	for i := 1; i <= 5; i++ {
		if _, err := e.Ingest(context.Background(), chunk.Page{Number: i, Text: pageText("c", 6)}); err != nil {
			t.Fatalf("ingest: %v", err)
		}
	}

	tests := []struct {
		limit int
		want  int
	}{
		{limit: 0, want: 2},
		{limit: -3, want: 2},
		{limit: 1, want: 1},
		{limit: 10, want: 3},
	}
	for _, tt := range tests {
		got, err := e.Query(context.Background(), "question", tt.limit)
		if err != nil {
			t.Fatalf("limit %d: %v", tt.limit, err)
		}
		if len(got) != tt.want {
			t.Errorf("limit %d: expected %d, got %d", tt.limit, tt.want, len(got))
		}
	}
}

func TestSearch_MinScore(t *testing.T) {
	emb := newStubEmbedder()
	emb.vectors["matching paragraph about pumps"] = []float32{1, 0, 0}
	emb.vectors["unrelated paragraph about billing"] = []float32{0, 1, 0}
	emb.vectors["pumps"] = []float32{1, 0, 0}
	e, _ := newEngine(emb, 3)
	e.WithOptions(Options{MinScore: 0.5})

	for i, text := range []string{"matching paragraph about pumps", "unrelated paragraph about billing"} {
		if _, err := e.Ingest(context.Background(), chunk.Page{Number: i + 1, Text: text}); err != nil {
			t.Fatalf("ingest: %v", err)
		}
	}
	got, err := e.Search(context.Background(), "pumps", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 result above min score, got %d", len(got))
	}
}

func TestSearch_SelfSimilarityWithHashingEmbedder(t *testing.T) {
	emb := hashing.New(128)
	store := memory.New(128, domain.DefaultMinChunkChars, zap.NewNop())
	e := New(identityNormalizer{}, chunker.New(domain.DefaultIndexConfig()), store, emb, emb, zap.NewNop())

	texts := []string{
		"open the lower panel to reach the water filter",
		"the warranty covers parts for two years",
		"descale the boiler every three months",
	}
	for i, text := range texts {
		if _, err := e.Ingest(context.Background(), chunk.Page{Number: i + 1, Text: text}); err != nil {
			t.Fatalf("ingest: %v", err)
		}
	}

	for _, text := range texts {
		got, err := e.Search(context.Background(), text, 1)
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		c := got[0].Chunk()
		if c.Text() != text || got[0].Score() < 1-1e-5 {
			t.Errorf("expected %q with score 1, got %q (%f)", text, c.Text(), got[0].Score())
		}
	}
}

// --- State and Reset ---

func TestReset_ClearsIndex(t *testing.T) {
	e, _ := newEngine(newStubEmbedder(), 3)
	if _, err := e.Ingest(context.Background(), chunk.Page{Number: 1, Text: pageText("r", 10)}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if e.Len() == 0 {
		t.Fatal("expected chunks")
	}
	if err := e.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if e.Len() != 0 || e.State() != StateEmpty {
		t.Errorf("expected empty index after reset")
	}
}

func TestReset_RejectedWhileIngesting(t *testing.T) {
	emb := newStubEmbedder()
	emb.started = make(chan struct{}, 16)
	emb.release = make(chan struct{})
	e, _ := newEngine(emb, 3)

	done := make(chan error, 1)
	go func() {
		_, err := e.Ingest(context.Background(), chunk.Page{Number: 1, Text: "a page that blocks inside the embedder"})
		done <- err
	}()
	<-emb.started

	if e.State() != StateIngesting {
		t.Errorf("expected state ingesting, got %s", e.State())
	}
	if err := e.Reset(); !errors.Is(err, domain.ErrIngestInProgress) {
		t.Errorf("expected ErrIngestInProgress, got %v", err)
	}

	close(emb.release)
	if err := <-done; err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if err := e.Reset(); err != nil {
		t.Fatalf("reset after ingest: %v", err)
	}
}

func TestOptions_Defaults(t *testing.T) {
	e, _ := newEngine(newStubEmbedder(), 3)
	got := e.WithOptions(Options{DefaultLimit: 80, MaxLimit: 10}).Options()
	if got.DefaultLimit != 10 {
		t.Errorf("default limit must not exceed max limit, got %d", got.DefaultLimit)
	}
	if got.EmbedWorkers != 4 || got.PageWorkers != 2 {
		t.Errorf("unexpected worker defaults %+v", got)
	}
}

func TestState_String(t *testing.T) {
	for s, want := range map[State]string{
		StateEmpty: "empty", StateIngesting: "ingesting", StateReady: "ready", State(9): "unknown",
	} {
		if s.String() != want {
			t.Errorf("%d: expected %s, got %s", s, want, s.String())
		}
	}
}
