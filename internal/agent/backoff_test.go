package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_Doubles(t *testing.T) {
	b := NewBackoff(100*time.Millisecond, time.Second)
	b.Jitter = 0

	var got []time.Duration
	for range 6 {
		got = append(got, b.Next())
	}
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}, got)
	assert.Equal(t, 6, b.Attempt())

	b.Reset()
	assert.Equal(t, 100*time.Millisecond, b.Next())
}

func TestBackoff_JitterBounds(t *testing.T) {
	b := NewBackoff(time.Second, time.Second)
	b.Jitter = 0.5
	for range 100 {
		d := b.Next()
		assert.GreaterOrEqual(t, d, 500*time.Millisecond)
		assert.LessOrEqual(t, d, 1500*time.Millisecond)
	}
}

func TestBackoff_NoOverflow(t *testing.T) {
	b := NewBackoff(time.Hour, 2*time.Hour)
	b.Jitter = 0
	for range 100 {
		assert.LessOrEqual(t, b.Next(), 2*time.Hour)
	}
}

func TestBackoff_Wait(t *testing.T) {
	b := NewBackoff(time.Hour, time.Hour)
	done := make(chan struct{})
	close(done)
	assert.False(t, b.Wait(done))

	b = NewBackoff(time.Millisecond, time.Millisecond)
	assert.True(t, b.Wait(make(chan struct{})))
}
