package auth

import (
	"context"
	"sync"
	"time"
)

// Limiter throttles authenticated callers.
type Limiter interface {
	// Allow returns ErrRateLimited when the identity's allowance for the
	// current window is spent.
	Allow(ctx context.Context, id *Identity) error
}

// TierLimits maps a service tier to its requests-per-minute allowance.
// A zero or negative allowance leaves the tier unlimited.
type TierLimits map[string]int

// MemoryLimiter counts requests per subject in fixed one-minute windows.
// Tiers without an entry fall back to the default allowance.
type MemoryLimiter struct {
	limits   TierLimits
	fallback int

	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	openedAt time.Time
	used     int
}

// NewMemoryLimiter creates an in-process limiter.
func NewMemoryLimiter(limits TierLimits, fallbackRPM int) *MemoryLimiter {
	return &MemoryLimiter{
		limits:   limits,
		fallback: fallbackRPM,
		windows:  make(map[string]*window),
	}
}

// Allow charges one request against the identity's window.
func (l *MemoryLimiter) Allow(_ context.Context, id *Identity) error {
	tier := id.Tier
	if tier == "" {
		tier = "default"
	}
	allowance, ok := l.limits[tier]
	if !ok {
		allowance = l.fallback
	}
	if allowance <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	key := id.Subject + "/" + tier
	w := l.windows[key]
	if w == nil || now.Sub(w.openedAt) >= time.Minute {
		l.windows[key] = &window{openedAt: now, used: 1}
		l.sweep(now)
		return nil
	}

	w.used++
	if w.used > allowance {
		return ErrRateLimited
	}
	return nil
}

// sweep drops expired windows so idle subjects do not accumulate. Called
// under the lock whenever a window rolls over.
func (l *MemoryLimiter) sweep(now time.Time) {
	for key, w := range l.windows {
		if now.Sub(w.openedAt) >= time.Minute {
			delete(l.windows, key)
		}
	}
}
