package services

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/redis/go-redis/v9"
)

// RateLimiterInterface defines the contract for rate limiting operations.
type RateLimiterInterface interface {
	CheckLimit(ctx context.Context, key string, limit int, duration time.Duration) (bool, time.Duration, error)
}

const rateLimitKeyPrefix = "rate_limit:"

// RateLimitService provides fixed-window rate limiting using Redis.
// It implements the RateLimiterInterface.
type RateLimitService struct {
	redis     *redis.Client
	keyPrefix string
}

func NewRateLimitService(redis *redis.Client) *RateLimitService {
	return &RateLimitService{
		redis:     redis,
		keyPrefix: rateLimitKeyPrefix,
	}
}

// CheckLimit counts one hit against key. The window starts at the first hit
// and is not extended by later ones.
func (s *RateLimitService) CheckLimit(ctx context.Context, key string, limit int, duration time.Duration) (bool, time.Duration, error) {
	rKey := s.keyPrefix + key

	pipe := s.redis.Pipeline()
	incr := pipe.Incr(ctx, rKey)
	pipe.ExpireNX(ctx, rKey, duration)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, err
	}

	if incr.Val() > int64(limit) {
		ttl, err := s.redis.TTL(ctx, rKey).Result()
		if err != nil {
			return false, 0, err
		}
		return false, ttl, nil
	}

	return true, 0, nil
}

type memoryWindow struct {
	count   int
	resetAt time.Time
}

// MemoryRateLimiter is the in-process fallback used when no Redis is configured.
type MemoryRateLimiter struct {
	clock   clock.Clock
	mu      sync.Mutex
	windows map[string]*memoryWindow
}

func NewMemoryRateLimiter(clk clock.Clock) *MemoryRateLimiter {
	if clk == nil {
		clk = clock.New()
	}
	return &MemoryRateLimiter{
		clock:   clk,
		windows: make(map[string]*memoryWindow),
	}
}

func (m *MemoryRateLimiter) CheckLimit(_ context.Context, key string, limit int, duration time.Duration) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	w, ok := m.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &memoryWindow{resetAt: now.Add(duration)}
		m.windows[key] = w
	}

	w.count++
	if w.count > limit {
		return false, w.resetAt.Sub(now), nil
	}
	return true, 0, nil
}
