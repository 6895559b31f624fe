package rag

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/docqa/internal/domain"
	"github.com/kailas-cloud/docqa/internal/domain/chunk"
	"github.com/kailas-cloud/docqa/internal/metrics"
)

// Ingest normalizes, chunks, embeds and stores one page.
// A chunk that fails to embed is logged and skipped. Provider unavailability,
// budget exhaustion and cancellation abort the page: nothing of it is stored,
// chunks of earlier pages stay in the index.
func (e *Engine) Ingest(ctx context.Context, page chunk.Page) (IngestReport, error) {
	defer e.begin()()

	report, err := e.ingestPage(ctx, page)
	if err != nil {
		metrics.IngestPagesTotal.WithLabelValues("error").Inc()
		return report, err
	}
	metrics.IngestPagesTotal.WithLabelValues("ok").Inc()
	return report, nil
}

// IngestPages consumes pages until the channel is closed, in any arrival order,
// with up to Options.PageWorkers pages in flight. It stops at the first page
// error and returns the aggregate report of everything processed.
func (e *Engine) IngestPages(ctx context.Context, pages <-chan chunk.Page) (IngestReport, error) {
	defer e.begin()()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.PageWorkers)

	var (
		mu    sync.Mutex
		total IngestReport
	)
loop:
	for {
		select {
		case <-gctx.Done():
			break loop
		case p, ok := <-pages:
			if !ok {
				break loop
			}
			g.Go(func() error {
				r, err := e.Ingest(gctx, p)
				mu.Lock()
				total.Add(r)
				mu.Unlock()
				return err
			})
		}
	}

	err := g.Wait()
	if err == nil && ctx.Err() != nil {
		err = fmt.Errorf("ingest pages: %w", ctx.Err())
	}
	e.logger.Info("Page stream ingested",
		zap.Int("pages", total.Pages),
		zap.Int("stored", total.Stored),
		zap.Int("embed_failed", total.EmbedFailed),
		zap.Error(err),
	)
	return total, err
}

type pending struct {
	index int
	text  string
}

func (e *Engine) ingestPage(ctx context.Context, page chunk.Page) (IngestReport, error) {
	report := IngestReport{Pages: 1}
	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("ingest page %d: %w", page.Number, err)
	}

	texts := e.splitter.Split(e.normalizer.Normalize(page.Text))
	report.Chunks = len(texts)

	todo := make([]pending, 0, len(texts))
	for i, t := range texts {
		if utf8.RuneCountInString(t) < e.opts.MinChunkChars {
			report.TooShort++
			continue
		}
		todo = append(todo, pending{index: i, text: t})
	}
	metrics.IngestChunksTotal.WithLabelValues(metrics.OutcomeTooShort).Add(float64(report.TooShort))
	if len(todo) == 0 {
		return report, nil
	}

	vectors, failed, err := e.embedAll(ctx, page.Number, todo)
	report.EmbedFailed = failed
	metrics.IngestChunksTotal.WithLabelValues(metrics.OutcomeEmbedFailed).Add(float64(failed))
	if err != nil {
		return report, fmt.Errorf("ingest page %d: %w", page.Number, err)
	}
	// Embeddings that finished after cancellation are discarded.
	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("ingest page %d: %w", page.Number, err)
	}

	drafts := make([]chunk.Draft, 0, len(todo))
	for i, p := range todo {
		if vectors[i] == nil {
			continue
		}
		drafts = append(drafts, chunk.Draft{
			Text:     p.text,
			Vector:   vectors[i],
			Metadata: chunkMetadata(page, p.index),
		})
	}

	stored, rejected := e.store.AppendAll(drafts)
	report.Stored = len(stored)
	report.Invalid = rejected
	metrics.IngestChunksTotal.WithLabelValues(metrics.OutcomeStored).Add(float64(report.Stored))
	metrics.IngestChunksTotal.WithLabelValues(metrics.OutcomeInvalid).Add(float64(rejected))
	metrics.IndexChunks.Set(float64(e.store.Len()))

	e.logger.Debug("Page ingested",
		zap.Int("page", page.Number),
		zap.Int("chunks", report.Chunks),
		zap.Int("stored", report.Stored),
		zap.Int("too_short", report.TooShort),
		zap.Int("invalid", report.Invalid),
		zap.Int("embed_failed", report.EmbedFailed),
	)
	return report, nil
}

// embedAll embeds chunks with at most Options.EmbedWorkers concurrent calls.
// vectors[i] stays nil for a chunk that failed.
func (e *Engine) embedAll(ctx context.Context, pageNumber int, todo []pending) ([][]float32, int, error) {
	vectors := make([][]float32, len(todo))
	usage := domain.UsageFromContext(ctx)

	var (
		mu     sync.Mutex
		failed int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.EmbedWorkers)
	for i, p := range todo {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err //nolint:wrapcheck // context error, wrapped by the caller
			}
			res, err := e.docEmbedder.Embed(gctx, p.text)
			if err != nil {
				if terminal(err) || gctx.Err() != nil {
					return err
				}
				e.logger.Warn("Chunk embedding failed, skipping",
					zap.Error(domain.NewEmbeddingFailed(pageNumber, p.index, err)),
				)
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			usage.AddTokens(res.TotalTokens)
			vectors[i] = res.Embedding
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, failed, err
	}
	return vectors, failed, nil
}

// terminal reports whether err must abort the whole operation instead of one chunk.
func terminal(err error) bool {
	return errors.Is(err, domain.ErrEmbeddingUnavailable) ||
		errors.Is(err, domain.ErrEmbeddingBudgetExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func chunkMetadata(page chunk.Page, index int) map[string]string {
	md := make(map[string]string, len(page.Metadata)+2)
	for k, v := range page.Metadata {
		md[k] = v
	}
	if _, ok := md[chunk.MetaPage]; !ok {
		md[chunk.MetaPage] = strconv.Itoa(page.Number)
	}
	md[chunk.MetaChunkIndex] = strconv.Itoa(index)
	return md
}
