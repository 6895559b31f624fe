package embedding

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docqa/internal/domain"
	"github.com/kailas-cloud/docqa/internal/metrics"
)

// BudgetAction defines behavior when the token budget is spent.
type BudgetAction string

const (
	// BudgetActionWarn logs a warning but allows the request.
	BudgetActionWarn BudgetAction = "warn"
	// BudgetActionReject blocks the request with domain.ErrEmbeddingBudgetExceeded.
	BudgetActionReject BudgetAction = "reject"
)

// BudgetStore persists token counters across restarts.
type BudgetStore interface {
	IncrBy(ctx context.Context, key string, val int64, ttl time.Duration) error
	Get(ctx context.Context, key string) (int64, error)
}

// period is one rolling budget window (calendar day or month, UTC).
type period struct {
	name   string
	limit  int64 // 0 = unlimited
	used   int64
	start  time.Time
	trunc  func(time.Time) time.Time
	layout string
	ttl    time.Duration
}

func (p *period) roll(now time.Time) {
	if s := p.trunc(now); s.After(p.start) {
		p.used = 0
		p.start = s
	}
}

func (p *period) exceeded() bool { return p.limit > 0 && p.used >= p.limit }

func (p *period) remaining() int64 {
	if p.limit == 0 {
		return -1
	}
	return max(p.limit-p.used, 0)
}

// BudgetTracker enforces daily and monthly token caps for one provider.
// Check is in-memory only; Record updates memory first and then the store, if any.
type BudgetTracker struct {
	mu        sync.Mutex
	daily     period
	monthly   period
	action    BudgetAction
	provider  string
	keyPrefix string
	store     BudgetStore
	logger    *zap.Logger
	now       func() time.Time
}

// NewBudgetTracker creates a tracker. A zero limit disables that period.
func NewBudgetTracker(
	provider string, dailyLimit, monthlyLimit int64,
	action BudgetAction, logger *zap.Logger,
) *BudgetTracker {
	b := &BudgetTracker{
		daily: period{
			name: "daily", limit: dailyLimit, trunc: truncateToDay,
			layout: "2006-01-02", ttl: 48 * time.Hour,
		},
		monthly: period{
			name: "monthly", limit: monthlyLimit, trunc: truncateToMonth,
			layout: "2006-01", ttl: 62 * 24 * time.Hour,
		},
		action:   action,
		provider: provider,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
	now := b.now()
	b.daily.start = truncateToDay(now)
	b.monthly.start = truncateToMonth(now)
	return b
}

// WithStore attaches persistence and loads the counters of the current periods.
func (b *BudgetTracker) WithStore(ctx context.Context, store BudgetStore, keyPrefix string) *BudgetTracker {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.store = store
	b.keyPrefix = keyPrefix
	now := b.now()
	for _, p := range b.periods() {
		p.roll(now)
		val, err := store.Get(ctx, b.key(p, now))
		if err != nil {
			b.logger.Warn("Failed to load token budget", zap.String("period", p.name), zap.Error(err))
			continue
		}
		p.used = val
	}
	b.logger.Info("Token budget loaded",
		zap.String("provider", b.provider),
		zap.Int64("daily_used", b.daily.used),
		zap.Int64("monthly_used", b.monthly.used),
	)
	return b
}

func (b *BudgetTracker) periods() []*period { return []*period{&b.daily, &b.monthly} }

func (b *BudgetTracker) key(p *period, now time.Time) string {
	return fmt.Sprintf("%sbudget:%s:%s:%s", b.keyPrefix, b.provider, p.name, now.Format(p.layout))
}

// Check verifies that the budget allows another request.
func (b *BudgetTracker) Check(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	for _, p := range b.periods() {
		p.roll(now)
		if !p.exceeded() {
			continue
		}
		metrics.EmbeddingBudgetExceededTotal.WithLabelValues(b.provider, p.name, string(b.action)).Inc()
		if b.action == BudgetActionReject {
			return fmt.Errorf("%s %s limit of %d tokens reached: %w",
				b.provider, p.name, p.limit, domain.ErrEmbeddingBudgetExceeded)
		}
		b.logger.Warn("Token budget exceeded",
			zap.String("provider", b.provider),
			zap.String("period", p.name),
			zap.Int64("used", p.used),
			zap.Int64("limit", p.limit),
		)
		return nil
	}
	return nil
}

// Record adds consumed tokens. Store writes outlive the caller's cancellation.
func (b *BudgetTracker) Record(ctx context.Context, tokens int64) {
	if tokens <= 0 {
		return
	}

	b.mu.Lock()
	now := b.now()
	type write struct {
		key string
		ttl time.Duration
	}
	writes := make([]write, 0, 2)
	for _, p := range b.periods() {
		p.roll(now)
		p.used += tokens
		writes = append(writes, write{key: b.key(p, now), ttl: p.ttl})
	}
	store := b.store
	b.mu.Unlock()

	if store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	for _, w := range writes {
		if err := store.IncrBy(ctx, w.key, tokens, w.ttl); err != nil {
			b.logger.Warn("Failed to persist token budget", zap.String("key", w.key), zap.Error(err))
		}
	}
}

// RemainingDaily returns tokens left today, -1 if unlimited.
func (b *BudgetTracker) RemainingDaily() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.daily.roll(b.now())
	return b.daily.remaining()
}

// RemainingMonthly returns tokens left this month, -1 if unlimited.
func (b *BudgetTracker) RemainingMonthly() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.monthly.roll(b.now())
	return b.monthly.remaining()
}

// DailyUsage returns tokens used today and the daily cap (0 = unlimited).
func (b *BudgetTracker) DailyUsage() (used, limit int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.daily.roll(b.now())
	return b.daily.used, b.daily.limit
}

// MonthlyUsage returns tokens used this month and the monthly cap (0 = unlimited).
func (b *BudgetTracker) MonthlyUsage() (used, limit int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.monthly.roll(b.now())
	return b.monthly.used, b.monthly.limit
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func truncateToMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
