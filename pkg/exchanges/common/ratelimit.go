package common

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"signal-trader/pkg/logging"
)

// RateLimiter paces requests to one exchange and tracks the used weight the
// exchange reports back in response headers.
type RateLimiter struct {
	limiter       *rate.Limiter
	usedWeight    int
	limit         int
	lastReset     time.Time
	resetInterval time.Duration
	log           logrus.FieldLogger
	mu            sync.RWMutex
}

// NewRateLimiter creates a limiter allowing rps requests per second with the
// given burst. limit is the header weight budget per resetInterval; zero
// disables weight tracking.
func NewRateLimiter(rps float64, burst, limit int, resetInterval time.Duration, log logrus.FieldLogger) *RateLimiter {
	return &RateLimiter{
		limiter:       rate.NewLimiter(rate.Limit(rps), burst),
		limit:         limit,
		resetInterval: resetInterval,
		lastReset:     time.Now(),
		log:           logging.OrDiscard(log),
	}
}

// Wait blocks until a request may be sent. Near the weight budget it waits
// for the window to roll over.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl.ShouldDelay() {
		rl.mu.RLock()
		remaining := rl.resetInterval - time.Since(rl.lastReset)
		rl.mu.RUnlock()
		if remaining > 0 {
			t := time.NewTimer(remaining)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
			}
		}
	}
	return rl.limiter.Wait(ctx)
}

// UpdateFromHeader updates the used weight from API response header.
func (rl *RateLimiter) UpdateFromHeader(headerValue string) {
	if headerValue == "" || rl.limit <= 0 {
		return
	}

	weight, err := strconv.Atoi(headerValue)
	if err != nil {
		return
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if time.Since(rl.lastReset) >= rl.resetInterval {
		rl.lastReset = time.Now()
	}
	rl.usedWeight = weight

	percentage := float64(rl.usedWeight) / float64(rl.limit) * 100
	fields := logrus.Fields{"used": rl.usedWeight, "limit": rl.limit}
	if percentage >= 95 {
		rl.log.WithFields(fields).Error("rate limit critical, approaching ban threshold")
	} else if percentage >= 80 {
		rl.log.WithFields(fields).Warn("rate limit warning")
	}
}

// GetUsage returns current usage information.
func (rl *RateLimiter) GetUsage() (used int, limit int, percentage float64) {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	if rl.limit <= 0 || time.Since(rl.lastReset) >= rl.resetInterval {
		return 0, rl.limit, 0
	}
	return rl.usedWeight, rl.limit, float64(rl.usedWeight) / float64(rl.limit) * 100
}

// ShouldDelay returns true if we should delay the next request.
func (rl *RateLimiter) ShouldDelay() bool {
	_, _, pct := rl.GetUsage()
	return pct >= 90
}
