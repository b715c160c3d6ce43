package notifier

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig holds rate limiter configuration. Limits apply per channel.
type RateLimitConfig struct {
	MaxPerWindow int           // Maximum notifications per window (default: 10)
	Window       time.Duration // Time window (default: 1 minute)
	Enabled      bool
}

// DefaultRateLimitConfig returns default rate limit settings.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxPerWindow: 10,
		Window:       time.Minute,
		Enabled:      true,
	}
}

// RateLimiter is a per-channel token bucket. A full bucket holds
// MaxPerWindow tokens and refills over Window.
type RateLimiter struct {
	mu       sync.Mutex
	config   RateLimitConfig
	limiters map[string]*rate.Limiter
	dropped  int64
}

// NewRateLimiter creates a new rate limiter with the given configuration.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	if config.MaxPerWindow <= 0 {
		config.MaxPerWindow = 10
	}
	if config.Window <= 0 {
		config.Window = time.Minute
	}
	return &RateLimiter{
		config:   config,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether channel may send now, consuming a token if so.
func (r *RateLimiter) Allow(channel string) bool {
	if !r.config.Enabled {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.limiters[channel]
	if !ok {
		every := r.config.Window / time.Duration(r.config.MaxPerWindow)
		l = rate.NewLimiter(rate.Every(every), r.config.MaxPerWindow)
		r.limiters[channel] = l
	}
	if !l.Allow() {
		r.dropped++
		return false
	}
	return true
}

// RateLimitStats contains rate limiter statistics.
type RateLimitStats struct {
	Dropped      int64
	MaxPerWindow int
	Window       time.Duration
	Enabled      bool
}

// Stats returns rate limiter statistics.
func (r *RateLimiter) Stats() RateLimitStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RateLimitStats{
		Dropped:      r.dropped,
		MaxPerWindow: r.config.MaxPerWindow,
		Window:       r.config.Window,
		Enabled:      r.config.Enabled,
	}
}

// Reset clears the rate limiter state.
func (r *RateLimiter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limiters = make(map[string]*rate.Limiter)
	r.dropped = 0
}
