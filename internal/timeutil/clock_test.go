package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRealClockNow(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	after := time.Now()
	assert.False(t, now.Before(before))
	assert.False(t, now.After(after))
	assert.NotZero(t, clock.NowNanos())
}

func TestMockClockAdvance(t *testing.T) {
	start := time.Unix(100, 0)
	clock := NewMockClock(start)
	assert.Equal(t, start, clock.Now())
	assert.Equal(t, start.UnixNano(), clock.NowNanos())

	clock.Advance(2 * time.Second)
	assert.Equal(t, start.Add(2*time.Second), clock.Now())

	// Sleep advances instead of blocking
	clock.Sleep(time.Second)
	assert.Equal(t, start.Add(3*time.Second), clock.Now())

	clock.Set(start)
	assert.Equal(t, start, clock.Now())
}
