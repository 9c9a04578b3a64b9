package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/domain"
)

func TestRateLimiter_NormalTierAllowsSixtyPerMinute(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(nil, clock.Now)

	for i := 0; i < 60; i++ {
		assert.True(t, rl.Allow("u1", domain.NotificationPriorityNormal), "attempt %d", i+1)
	}
	assert.False(t, rl.Allow("u1", domain.NotificationPriorityNormal), "61st attempt is rejected")

	assert.True(t, rl.Allow("u2", domain.NotificationPriorityNormal), "users are independent")
	assert.True(t, rl.Allow("u1", domain.NotificationPriorityHigh), "tiers are independent")
}

func TestRateLimiter_WindowSlides(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(map[domain.NotificationPriority]RateLimit{
		domain.NotificationPriorityCritical: {Limit: 2, Window: 10 * time.Second},
	}, clock.Now)

	assert.True(t, rl.Allow("u1", domain.NotificationPriorityCritical))
	clock.Advance(5 * time.Second)
	assert.True(t, rl.Allow("u1", domain.NotificationPriorityCritical))
	assert.False(t, rl.Allow("u1", domain.NotificationPriorityCritical))

	clock.Advance(5 * time.Second)
	assert.True(t, rl.Allow("u1", domain.NotificationPriorityCritical), "first stamp left the window")
	assert.False(t, rl.Allow("u1", domain.NotificationPriorityCritical))
}

func TestRateLimiter_DefaultsAndOverrides(t *testing.T) {
	rl := NewRateLimiter(map[domain.NotificationPriority]RateLimit{
		domain.NotificationPriorityLow: {Limit: 0, Window: time.Second},
	}, newFakeClock().Now)

	allowed := func(tier domain.NotificationPriority) int {
		n := 0
		for i := 0; i < 200; i++ {
			if rl.Allow("u", tier) {
				n++
			}
		}
		return n
	}
	assert.Equal(t, 120, allowed(domain.NotificationPriorityLow), "invalid override keeps the default")
	assert.Equal(t, 10, allowed(domain.NotificationPriorityCritical))
	assert.Equal(t, 30, allowed(domain.NotificationPriorityHigh))
}

func TestRateLimiter_Prune(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(nil, clock.Now)

	rl.Allow("u1", domain.NotificationPriorityNormal)
	clock.Advance(30 * time.Second)
	rl.Allow("u2", domain.NotificationPriorityNormal)
	assert.Equal(t, 2, rl.Len())

	clock.Advance(45 * time.Second)
	assert.Equal(t, 1, rl.Prune(), "only u1 has left its window")
	assert.Equal(t, 1, rl.Len())

	clock.Advance(time.Minute)
	assert.Equal(t, 1, rl.Prune())
	assert.Equal(t, 0, rl.Prune())
}

func TestRateLimiter_PruneLoop(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(nil, clock.Now)
	rl.Allow("u1", domain.NotificationPriorityNormal)
	clock.Advance(2 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rl.StartPruneLoop(ctx, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return rl.Len() == 0 }, time.Second, 5*time.Millisecond)
}
