// Package chi is the HTTP API of docqa, built on the chi router.
package chi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kailas-cloud/docqa/internal/domain"
	"github.com/kailas-cloud/docqa/internal/domain/chunk"
	"github.com/kailas-cloud/docqa/internal/domain/search/result"
	domusage "github.com/kailas-cloud/docqa/internal/domain/usage"
	logpkg "github.com/kailas-cloud/docqa/internal/logger"
	"github.com/kailas-cloud/docqa/internal/metrics"
	healthuc "github.com/kailas-cloud/docqa/internal/usecase/health"
	"github.com/kailas-cloud/docqa/internal/usecase/rag"
)

const defaultMaxBodyBytes = 32 << 20

// Server serves the ingestion and retrieval API.
type Server struct {
	engine        Engine
	health        HealthChecker
	usage         UsageReporter
	logger        *zap.Logger
	maxBodyBytes  int64
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(engine Engine, health HealthChecker, logger *zap.Logger) *Server {
	return &Server{
		engine:        engine,
		health:        health,
		logger:        logger,
		maxBodyBytes:  defaultMaxBodyBytes,
		errorHandlers: defaultErrorHandlers(),
	}
}

// WithMaxBodyBytes limits request bodies. Non-positive keeps the default.
func (s *Server) WithMaxBodyBytes(n int64) *Server {
	if n > 0 {
		s.maxBodyBytes = n
	}
	return s
}

// WithUsage enables GET /usage.
func (s *Server) WithUsage(u UsageReporter) *Server {
	s.usage = u
	return s
}

// Routes mounts the API on r.
func (s *Server) Routes(r chi.Router) {
	r.Post("/pages", s.IngestPage)
	r.Post("/pages/stream", s.IngestStream)
	r.Post("/query", s.Query)
	r.Delete("/index", s.ResetIndex)
	r.Get("/health", s.HealthCheck)
	if s.usage != nil {
		r.Get("/usage", s.GetUsage)
	}
	r.Get("/metrics", s.Metrics)
}

// PageRequest is one page of extracted document text.
type PageRequest struct {
	Page     int               `json:"page"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (p PageRequest) toDomain() (chunk.Page, error) {
	if p.Page < 0 {
		return chunk.Page{}, fmt.Errorf("page must be >= 0, got %d", p.Page)
	}
	return chunk.Page{Number: p.Page, Text: p.Text, Metadata: p.Metadata}, nil
}

// IngestResponse reports the outcome of an ingestion request.
type IngestResponse struct {
	Pages       int `json:"pages"`
	Chunks      int `json:"chunks"`
	Stored      int `json:"stored"`
	TooShort    int `json:"too_short"`
	Invalid     int `json:"invalid"`
	EmbedFailed int `json:"embed_failed"`
}

func ingestResponse(r rag.IngestReport) IngestResponse {
	return IngestResponse{
		Pages:       r.Pages,
		Chunks:      r.Chunks,
		Stored:      r.Stored,
		TooShort:    r.TooShort,
		Invalid:     r.Invalid,
		EmbedFailed: r.EmbedFailed,
	}
}

// QueryRequest asks for the chunks most relevant to a question.
type QueryRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"` // 0 = server default
}

// QueryResult is one retrieved chunk.
type QueryResult struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Score    float64           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// QueryResponse holds retrieved chunks, best first.
type QueryResponse struct {
	Results []QueryResult `json:"results"`
	Total   int           `json:"total"`
}

// HealthResponse is the readiness report.
type HealthResponse struct {
	Status string            `json:"status"`
	State  string            `json:"state"`
	Chunks int               `json:"chunks"`
	Checks map[string]string `json:"checks"`
}

// IngestPage handles POST /pages.
func (s *Server) IngestPage(w http.ResponseWriter, r *http.Request) {
	var req PageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrorCodeBadRequest, "Invalid request body: "+err.Error())
		return
	}
	page, err := req.toDomain()
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrorCodeValidationFailed, err.Error())
		return
	}

	ctx, usage := domain.NewContextWithUsage(r.Context())
	report, err := s.engine.Ingest(ctx, page)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	setEmbeddingHeaders(w, usage)
	writeJSON(w, http.StatusOK, ingestResponse(report))
}

// IngestStream handles POST /pages/stream: a body of newline-delimited PageRequest objects.
// Pages are ingested while the body is still being read.
func (s *Server) IngestStream(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	ctx, usage := domain.NewContextWithUsage(ctx)

	pages := make(chan chunk.Page)
	var (
		wg        sync.WaitGroup
		decodeErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(pages)
		decodeErr = decodePages(ctx, http.MaxBytesReader(w, r.Body, s.maxBodyBytes), pages)
		if decodeErr != nil {
			cancel()
		}
	}()

	report, err := s.engine.IngestPages(ctx, pages)
	cancel()
	wg.Wait()

	if decodeErr != nil {
		logpkg.FromContextOr(r.Context(), s.logger).Warn("Page stream rejected",
			zap.Int("pages_ingested", report.Pages), zap.Error(decodeErr))
		writeError(w, http.StatusBadRequest, ErrorCodeBadRequest, decodeErr.Error())
		return
	}
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	setEmbeddingHeaders(w, usage)
	writeJSON(w, http.StatusOK, ingestResponse(report))
}

// decodePages sends every NDJSON line of body to out until EOF, a bad line or ctx is done.
func decodePages(ctx context.Context, body io.Reader, out chan<- chunk.Page) error {
	dec := json.NewDecoder(body)
	for line := 1; ; line++ {
		var req PageRequest
		if err := dec.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("invalid page #%d: %w", line, err)
		}
		page, err := req.toDomain()
		if err != nil {
			return fmt.Errorf("invalid page #%d: %w", line, err)
		}
		select {
		case out <- page:
		case <-ctx.Done():
			return nil
		}
	}
}

// Query handles POST /query.
func (s *Server) Query(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrorCodeBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, ErrorCodeValidationFailed, "query is required")
		return
	}
	if req.Limit < 0 {
		writeError(w, http.StatusBadRequest, ErrorCodeValidationFailed, "limit must be >= 0")
		return
	}

	ctx, usage := domain.NewContextWithUsage(r.Context())
	results, err := s.engine.Search(ctx, req.Query, req.Limit)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	items := make([]QueryResult, len(results))
	for i := range results {
		items[i] = queryResult(&results[i])
	}

	setEmbeddingHeaders(w, usage)
	writeJSON(w, http.StatusOK, QueryResponse{Results: items, Total: len(items)})
}

func queryResult(r *result.Result) QueryResult {
	c := r.Chunk()
	return QueryResult{
		ID:       c.ID(),
		Text:     c.Text(),
		Score:    r.Score(),
		Metadata: c.Metadata(),
	}
}

// ResetIndex handles DELETE /index.
func (s *Server) ResetIndex(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Reset(); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status == healthuc.Unhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, HealthResponse{
		Status: string(report.Status),
		State:  report.State,
		Chunks: report.Chunks,
		Checks: checks,
	})
}

// UsageResponse reports token consumption for one period.
type UsageResponse struct {
	Period          string    `json:"period"`
	PeriodStart     time.Time `json:"period_start"`
	PeriodEnd       time.Time `json:"period_end"`
	TokensUsed      int64     `json:"tokens_used"`
	TokensLimit     int64     `json:"tokens_limit"`
	TokensRemaining int64     `json:"tokens_remaining"`
	IsExhausted     bool      `json:"is_exhausted"`
	ResetsAt        time.Time `json:"resets_at"`
}

// GetUsage handles GET /usage?period=day|month.
func (s *Server) GetUsage(w http.ResponseWriter, r *http.Request) {
	period, err := domusage.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	report := s.usage.GetReport(r.Context(), period)
	writeJSON(w, http.StatusOK, UsageResponse{
		Period:          string(report.Period()),
		PeriodStart:     report.Start(),
		PeriodEnd:       report.End(),
		TokensUsed:      report.TokensUsed(),
		TokensLimit:     report.TokensLimit(),
		TokensRemaining: report.TokensRemaining(),
		IsExhausted:     report.IsExhausted(),
		ResetsAt:        report.End(),
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	metrics.Handler().ServeHTTP(w, r)
}

func setEmbeddingHeaders(w http.ResponseWriter, usage *domain.EmbeddingUsage) {
	tokens, calls := usage.Snapshot()
	if calls > 0 {
		w.Header().Set("X-Embedding-Tokens", strconv.Itoa(tokens))
		w.Header().Set("X-Embedding-Calls", strconv.Itoa(calls))
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logpkg.FromContextOr(r.Context(), s.logger)
	if r.Context().Err() != nil {
		err = fmt.Errorf("%w: %w", errClientGone, err)
	}
	log.Warn("domain error", zap.Error(err))

	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	log.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, ErrorCodeInternalError, "internal error")
}
