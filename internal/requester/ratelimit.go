package requester

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/telespot/internal/metrics"
	"github.com/JakeFAU/telespot/internal/search"
)

// LimiterConfig holds per-provider token bucket settings. A zero RPS disables
// limiting.
type LimiterConfig struct {
	RPS   float64
	Burst int
}

// ProviderLimiter shares one token bucket per provider across all tasks.
type ProviderLimiter struct {
	mu       sync.Mutex
	limiters map[search.ProviderID]*rate.Limiter
	rate     rate.Limit
	burst    int
}

// NewProviderLimiter returns nil when cfg disables limiting.
func NewProviderLimiter(cfg LimiterConfig) *ProviderLimiter {
	if cfg.RPS <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &ProviderLimiter{
		limiters: make(map[search.ProviderID]*rate.Limiter),
		rate:     rate.Limit(cfg.RPS),
		burst:    burst,
	}
}

// Wait blocks until provider may send another request.
func (l *ProviderLimiter) Wait(ctx context.Context, provider search.ProviderID) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	limiter, ok := l.limiters[provider]
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[provider] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(string(provider), waited)
	}
	return nil
}
