package auth

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const lockoutTrackerSize = 10000

// lockoutEntry tracks failed login attempts for one key.
type lockoutEntry struct {
	failures  int
	expiresAt time.Time
}

// LockoutTracker counts failed logins per key (username or client IP) and
// locks the key out after threshold failures. State is in memory only;
// entries expire on their own after the lockout duration.
type LockoutTracker struct {
	mu        sync.Mutex
	entries   *expirable.LRU[string, *lockoutEntry]
	threshold int
	duration  time.Duration
	now       func() time.Time
}

// NewLockoutTracker creates a new lockout tracker.
func NewLockoutTracker(threshold int, duration time.Duration) *LockoutTracker {
	if threshold <= 0 {
		threshold = 5
	}
	if duration <= 0 {
		duration = 15 * time.Minute
	}
	return &LockoutTracker{
		entries:   expirable.NewLRU[string, *lockoutEntry](lockoutTrackerSize, nil, duration),
		threshold: threshold,
		duration:  duration,
		now:       time.Now,
	}
}

// RecordFailure records a failed login attempt and reports whether the key
// is now locked.
func (t *LockoutTracker) RecordFailure(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	entry, ok := t.entries.Get(key)
	if !ok || (!entry.expiresAt.IsZero() && !now.Before(entry.expiresAt)) {
		entry = &lockoutEntry{}
	}
	if !entry.expiresAt.IsZero() {
		return true
	}

	entry.failures++
	if entry.failures >= t.threshold {
		entry.expiresAt = now.Add(t.duration)
	}
	t.entries.Add(key, entry)
	return !entry.expiresAt.IsZero()
}

// IsLocked reports whether key is currently locked out.
func (t *LockoutTracker) IsLocked(key string) bool {
	return t.RemainingLockoutTime(key) > 0
}

// RemainingLockoutTime returns how long until the lockout on key expires.
func (t *LockoutTracker) RemainingLockoutTime(key string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries.Peek(key)
	if !ok || entry.expiresAt.IsZero() {
		return 0
	}
	return max(entry.expiresAt.Sub(t.now()), 0)
}

// ClearFailures forgets key after a successful login.
func (t *LockoutTracker) ClearFailures(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries.Remove(key)
}
