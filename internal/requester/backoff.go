package requester

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"time"
)

// Backoff computes retry delays as base*2^i plus uniform jitter.
type Backoff struct {
	Base      time.Duration
	JitterMin time.Duration
	JitterMax time.Duration
}

// Delay returns the wait before retry index attempt (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := time.Duration(float64(b.Base) * math.Pow(2, float64(attempt)))
	return delay + b.jitter()
}

func (b Backoff) jitter() time.Duration {
	lo, hi := b.JitterMin, b.JitterMax
	if hi < lo {
		lo, hi = hi, lo
	}
	if hi <= 0 {
		return 0
	}
	if lo < 0 {
		lo = 0
	}
	span := int64(hi - lo)
	if span == 0 {
		return lo
	}
	return lo + time.Duration(randomInt(span+1))
}

// randomInt returns a uniform value in [0, limit).
func randomInt(limit int64) int64 {
	if limit <= 1 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(limit))
	if err != nil {
		return limit / 2
	}
	return n.Int64()
}

// sleep waits for delay unless ctx ends first.
func sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
