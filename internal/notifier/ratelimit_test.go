package notifier

import (
	"testing"
	"time"
)

func TestRateLimiter_Disabled(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{Enabled: false, MaxPerWindow: 1, Window: time.Hour})
	for i := 0; i < 5; i++ {
		if !rl.Allow("email") {
			t.Fatalf("disabled limiter denied call %d", i)
		}
	}
}

func TestRateLimiter_PerChannelBudget(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{Enabled: true, MaxPerWindow: 3, Window: time.Hour})

	for i := 0; i < 3; i++ {
		if !rl.Allow("email") {
			t.Fatalf("call %d denied within budget", i)
		}
	}
	if rl.Allow("email") {
		t.Error("call over budget allowed")
	}
	// Other channels have their own bucket.
	if !rl.Allow("slack") {
		t.Error("slack should not share email budget")
	}

	stats := rl.Stats()
	if stats.Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", stats.Dropped)
	}
	if stats.MaxPerWindow != 3 || stats.Window != time.Hour || !stats.Enabled {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestRateLimiter_Refill(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{Enabled: true, MaxPerWindow: 1, Window: 20 * time.Millisecond})
	if !rl.Allow("teams") {
		t.Fatal("first call denied")
	}
	if rl.Allow("teams") {
		t.Fatal("second immediate call allowed")
	}
	time.Sleep(40 * time.Millisecond)
	if !rl.Allow("teams") {
		t.Error("budget did not refill")
	}
}

func TestRateLimiter_ResetAndDefaults(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{Enabled: true})
	if s := rl.Stats(); s.MaxPerWindow != 10 || s.Window != time.Minute {
		t.Errorf("defaults not applied: %+v", s)
	}

	for i := 0; i < 11; i++ {
		rl.Allow("email")
	}
	rl.Reset()
	if rl.Stats().Dropped != 0 {
		t.Error("Reset did not clear dropped counter")
	}
	if !rl.Allow("email") {
		t.Error("Reset did not restore budget")
	}

	if d := DefaultRateLimitConfig(); !d.Enabled || d.MaxPerWindow != 10 {
		t.Errorf("DefaultRateLimitConfig = %+v", d)
	}
}
