package lifecycle

import (
	"context"
	"time"

	appLog "nextmeet/internal/log"
)

// ClockWatcher detects system sleep by comparing wall-clock progress with
// the monotonic clock, which stops while the machine is suspended.
type ClockWatcher struct {
	interval  time.Duration
	threshold time.Duration
	sample    func() (wall time.Time, mono time.Duration)
}

// NewClockWatcher polls every interval. A wall-clock gain larger than
// twice the interval over the monotonic clock is reported as Sleep then Wake.
func NewClockWatcher(interval time.Duration) *ClockWatcher {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	origin := time.Now()
	return &ClockWatcher{
		interval:  interval,
		threshold: 2 * interval,
		sample: func() (time.Time, time.Duration) {
			now := time.Now()
			return now.Round(0), now.Sub(origin)
		},
	}
}

func (w *ClockWatcher) Watch(ctx context.Context, out chan<- Event) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	prevWall, prevMono := w.sample()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		wall, mono := w.sample()
		drift := wall.Sub(prevWall) - (mono - prevMono)
		prevWall, prevMono = wall, mono
		if drift < w.threshold {
			continue
		}

		appLog.Info("wall clock jumped; assuming system resumed from sleep", "drift", drift)
		if !emit(ctx, out, Sleep) || !emit(ctx, out, Wake) {
			return nil
		}
	}
}
