package ratelimiter

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MemoryConfig configures an in-process MemoryLimiter.
type MemoryConfig struct {
	Window          time.Duration
	Limit           int
	CleanupInterval time.Duration
	Clock           func() time.Time
}

type trackedLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// MemoryLimiter enforces the quota with a per-(user,bucket) token bucket
// held in process memory, grounded on feedman's per-user limiter map with
// double-checked-locking construction and a periodic idle sweep. Suitable
// for a single-instance deployment or as the limiter under test; a
// multi-instance deployment needs DBLimiter for cross-process atomicity.
type MemoryLimiter struct {
	window time.Duration
	limit  int
	clock  func() time.Time
	ttl    time.Duration

	mu       sync.RWMutex
	limiters map[string]*trackedLimiter

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewMemoryLimiter constructs a MemoryLimiter and starts its idle sweep.
func NewMemoryLimiter(cfg MemoryConfig) *MemoryLimiter {
	window := cfg.Window
	if window <= 0 {
		window = DefaultWindow
	}
	limit := cfg.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	cleanupInterval := cfg.CleanupInterval
	if cleanupInterval <= 0 {
		cleanupInterval = 5 * time.Minute
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	limiter := &MemoryLimiter{
		window:   window,
		limit:    limit,
		clock:    clock,
		ttl:      cleanupInterval * 2,
		limiters: make(map[string]*trackedLimiter),
		stopCh:   make(chan struct{}),
	}
	go limiter.cleanupLoop(cleanupInterval)
	return limiter
}

// Stop ends the background idle sweep.
func (l *MemoryLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

func (l *MemoryLimiter) Check(_ context.Context, userID, bucket string) (Result, error) {
	key := userID + "\x00" + bucket
	limiter := l.getOrCreate(key)

	now := l.clock()
	allowed := limiter.AllowN(now, 1)
	remaining := int(limiter.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}
	resetAt := now.Add(l.window)
	return Result{Allowed: allowed, Remaining: remaining, ResetAt: resetAt}, nil
}

func (l *MemoryLimiter) getOrCreate(key string) *rate.Limiter {
	l.mu.RLock()
	tracked, exists := l.limiters[key]
	l.mu.RUnlock()
	if exists {
		l.mu.Lock()
		tracked.lastAccess = l.clock()
		l.mu.Unlock()
		return tracked.limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if tracked, exists := l.limiters[key]; exists {
		tracked.lastAccess = l.clock()
		return tracked.limiter
	}

	perSecond := rate.Limit(float64(l.limit) / l.window.Seconds())
	limiter := rate.NewLimiter(perSecond, l.limit)
	l.limiters[key] = &trackedLimiter{limiter: limiter, lastAccess: l.clock()}
	return limiter
}

func (l *MemoryLimiter) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stopCh:
			return
		}
	}
}

func (l *MemoryLimiter) cleanup() {
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, tracked := range l.limiters {
		if now.Sub(tracked.lastAccess) > l.ttl {
			delete(l.limiters, key)
		}
	}
}
