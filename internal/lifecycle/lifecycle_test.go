package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventNames(t *testing.T) {
	for _, ev := range []Event{Foreground, Background, Sleep, Wake} {
		parsed, err := ParseEvent(ev.String())
		require.NoError(t, err)
		assert.Equal(t, ev, parsed)
	}
	_, err := ParseEvent("hibernate")
	assert.Error(t, err)
	assert.Equal(t, "event(9)", Event(9).String())
}

func TestSleepEvent(t *testing.T) {
	ev, ok := sleepEvent(&dbus.Signal{Name: prepareForSleep, Body: []any{true}})
	require.True(t, ok)
	assert.Equal(t, Sleep, ev)

	ev, ok = sleepEvent(&dbus.Signal{Name: prepareForSleep, Body: []any{false}})
	require.True(t, ok)
	assert.Equal(t, Wake, ev)

	_, ok = sleepEvent(&dbus.Signal{Name: logindInterface + ".SessionNew", Body: []any{true}})
	assert.False(t, ok)
	_, ok = sleepEvent(&dbus.Signal{Name: prepareForSleep})
	assert.False(t, ok)
	_, ok = sleepEvent(&dbus.Signal{Name: prepareForSleep, Body: []any{"yes"}})
	assert.False(t, ok)
	_, ok = sleepEvent(nil)
	assert.False(t, ok)
}

// fakeClock advances the monotonic clock by step on every sample and the
// wall clock by step plus any queued jump.
type fakeClock struct {
	mu    sync.Mutex
	wall  time.Time
	mono  time.Duration
	step  time.Duration
	jumps []time.Duration
}

func (c *fakeClock) sample() (time.Time, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wall = c.wall.Add(c.step)
	c.mono += c.step
	if len(c.jumps) > 0 {
		c.wall = c.wall.Add(c.jumps[0])
		c.jumps = c.jumps[1:]
	}
	return c.wall, c.mono
}

func TestClockWatcherDetectsJump(t *testing.T) {
	clock := &fakeClock{
		wall:  time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC),
		step:  time.Second,
		jumps: []time.Duration{0, 0, time.Hour},
	}
	w := &ClockWatcher{interval: time.Millisecond, threshold: time.Minute, sample: clock.sample}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan Event, 4)
	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx, out) }()

	assert.Equal(t, Sleep, <-out)
	assert.Equal(t, Wake, <-out)

	cancel()
	require.NoError(t, <-done)
}

func TestClockWatcherIgnoresSmallDrift(t *testing.T) {
	clock := &fakeClock{
		wall: time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC),
		step: time.Second,
		jumps: []time.Duration{
			10 * time.Second, -time.Hour, 30 * time.Second,
		},
	}
	w := &ClockWatcher{interval: time.Millisecond, threshold: time.Minute, sample: clock.sample}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	out := make(chan Event, 4)
	require.NoError(t, w.Watch(ctx, out))
	assert.Empty(t, out)
}

func TestNewClockWatcherDefaults(t *testing.T) {
	w := NewClockWatcher(0)
	assert.Equal(t, 10*time.Second, w.interval)
	assert.Equal(t, 20*time.Second, w.threshold)
}
