package health

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates an optional component (cache) is failing; retrieval still works.
	Degraded Status = "degraded"
	// Unhealthy indicates the embedding provider is down: neither ingestion nor retrieval can proceed.
	Unhealthy Status = "error"
)

// CheckResult is the outcome of one probe.
type CheckResult string

// Probe outcomes.
const (
	CheckOK      CheckResult = "ok"
	CheckError   CheckResult = "error"
	CheckTimeout CheckResult = "timeout"
)

const defaultProbeTimeout = 3 * time.Second

// Report aggregates health check results.
type Report struct {
	Status Status
	State  string
	Chunks int
	Checks map[string]CheckResult
}

// Service probes the embedding provider and the optional cache in parallel.
type Service struct {
	embedding EmbeddingChecker
	cache     CachePinger
	index     Index
	timeout   time.Duration
	logger    *zap.Logger
}

// New creates a Service. cache can be nil when the embedding cache is disabled.
func New(embedding EmbeddingChecker, cache CachePinger, index Index, logger *zap.Logger) *Service {
	return &Service{
		embedding: embedding,
		cache:     cache,
		index:     index,
		timeout:   defaultProbeTimeout,
		logger:    logger,
	}
}

// WithTimeout bounds each probe. Non-positive keeps the default.
func (s *Service) WithTimeout(d time.Duration) *Service {
	if d > 0 {
		s.timeout = d
	}
	return s
}

// Check runs all probes and folds them into one status.
// A failing embedding provider is fatal; a failing cache only degrades.
func (s *Service) Check(ctx context.Context) Report {
	var (
		mu     sync.Mutex
		checks = make(map[string]CheckResult, 2)
	)
	record := func(name string, r CheckResult) {
		mu.Lock()
		checks[name] = r
		mu.Unlock()
	}

	// Probes never return errors: a failure is a result, not an abort.
	var g errgroup.Group
	g.Go(func() error {
		record("embedding", s.probe(ctx, "embedding", s.embedding.HealthCheck))
		return nil
	})
	if s.cache != nil {
		g.Go(func() error {
			record("cache", s.probe(ctx, "cache", s.cache.Ping))
			return nil
		})
	}
	_ = g.Wait()

	status := Healthy
	if r, ok := checks["cache"]; ok && r != CheckOK {
		status = Degraded
	}
	if checks["embedding"] != CheckOK {
		status = Unhealthy
	}

	return Report{
		Status: status,
		State:  s.index.State().String(),
		Chunks: s.index.Len(),
		Checks: checks,
	}
}

func (s *Service) probe(ctx context.Context, name string, fn func(context.Context) error) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := fn(ctx)
	switch {
	case err == nil:
		return CheckOK
	case errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil:
		s.logger.Warn("Health probe timed out", zap.String("component", name), zap.Duration("timeout", s.timeout))
		return CheckTimeout
	default:
		s.logger.Warn("Health probe failed", zap.String("component", name), zap.Error(err))
		return CheckError
	}
}
