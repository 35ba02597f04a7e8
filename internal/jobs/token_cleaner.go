// Package jobs holds the long-running background tasks started with the API
// server.
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/crm-platform/crm/internal/telemetry"
)

// TokenPurger deletes verification tokens that expired before now.
type TokenPurger interface {
	DeleteExpiredVerificationTokens(ctx context.Context, now time.Time) (int64, error)
}

// VerificationTokenCleaner periodically removes expired email verification
// tokens so abandoned registrations do not accumulate.
type VerificationTokenCleaner struct {
	tokens   TokenPurger
	interval time.Duration
	now      func() time.Time
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewVerificationTokenCleaner creates a cleaner. A non-positive interval
// defaults to one hour.
func NewVerificationTokenCleaner(tokens TokenPurger, interval time.Duration) *VerificationTokenCleaner {
	if interval <= 0 {
		interval = time.Hour
	}
	return &VerificationTokenCleaner{
		tokens:   tokens,
		interval: interval,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
}

// Start runs a purge immediately and then on every interval until ctx is
// cancelled or Stop is called. It blocks; run it in its own goroutine.
func (c *VerificationTokenCleaner) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	slog.Info("verification token cleaner started", "interval", c.interval)
	c.runOnce(ctx)

	for {
		select {
		case <-ticker.C:
			c.runOnce(ctx)
		case <-c.stopChan:
			slog.Info("verification token cleaner stopped")
			return
		case <-ctx.Done():
			slog.Info("verification token cleaner context cancelled")
			return
		}
	}
}

// Stop signals the loop to exit. Safe to call more than once.
func (c *VerificationTokenCleaner) Stop() {
	c.stopOnce.Do(func() { close(c.stopChan) })
}

func (c *VerificationTokenCleaner) runOnce(ctx context.Context) {
	n, err := c.tokens.DeleteExpiredVerificationTokens(ctx, c.now())
	if err != nil {
		slog.Error("verification token cleanup failed", "error", err)
		return
	}
	if n > 0 {
		telemetry.VerificationTokensPurgedTotal.Add(float64(n))
		slog.Info("purged expired verification tokens", "count", n)
	}
}
