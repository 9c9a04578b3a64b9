package services

import (
	"context"
	"sync"
	"time"

	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/domain"
)

type RateLimit struct {
	Limit  int
	Window time.Duration
}

// DefaultRateLimits are the per-user tiers keyed by notification priority.
func DefaultRateLimits() map[domain.NotificationPriority]RateLimit {
	return map[domain.NotificationPriority]RateLimit{
		domain.NotificationPriorityCritical: {Limit: 10, Window: 60 * time.Second},
		domain.NotificationPriorityHigh:     {Limit: 30, Window: 60 * time.Second},
		domain.NotificationPriorityNormal:   {Limit: 60, Window: 60 * time.Second},
		domain.NotificationPriorityLow:      {Limit: 120, Window: 60 * time.Second},
	}
}

// RateLimiter keeps a sliding window of send timestamps per user and tier.
type RateLimiter struct {
	mu      sync.Mutex
	limits  map[domain.NotificationPriority]RateLimit
	windows map[rateKey][]time.Time
	clock   Clock
}

func NewRateLimiter(limits map[domain.NotificationPriority]RateLimit, clock Clock) *RateLimiter {
	merged := DefaultRateLimits()
	for tier, l := range limits {
		if l.Limit > 0 && l.Window > 0 {
			merged[tier] = l
		}
	}
	return &RateLimiter{
		limits:  merged,
		windows: make(map[rateKey][]time.Time),
		clock:   clock.orDefault(),
	}
}

type rateKey struct {
	user string
	tier domain.NotificationPriority
}

// Allow records an attempt and reports whether it fits in the window.
// Rejected attempts are not recorded.
func (r *RateLimiter) Allow(userID string, tier domain.NotificationPriority) bool {
	limit, ok := r.limits[tier]
	if !ok {
		limit = r.limits[domain.NotificationPriorityNormal]
	}

	now := r.clock()
	cutoff := now.Add(-limit.Window)
	key := rateKey{user: userID, tier: tier}

	r.mu.Lock()
	defer r.mu.Unlock()

	stamps := r.windows[key]
	kept := stamps[:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= limit.Limit {
		r.windows[key] = kept
		return false
	}
	r.windows[key] = append(kept, now)
	return true
}

// Prune drops windows with no timestamps left inside their tier window.
func (r *RateLimiter) Prune() int {
	now := r.clock()
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for key, stamps := range r.windows {
		limit, ok := r.limits[key.tier]
		if !ok {
			limit = r.limits[domain.NotificationPriorityNormal]
		}
		if len(stamps) == 0 || !stamps[len(stamps)-1].After(now.Add(-limit.Window)) {
			delete(r.windows, key)
			removed++
		}
	}
	return removed
}

// StartPruneLoop drops idle windows every interval until ctx is done, so
// users who stop sending do not keep entries alive.
func (r *RateLimiter) StartPruneLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Prune()
			}
		}
	}()
}

func (r *RateLimiter) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.windows)
}
