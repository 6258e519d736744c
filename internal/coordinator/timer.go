package coordinator

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "nextmeet/internal/log"
)

// DefaultInterval is the auto-refresh period.
const DefaultInterval = 60 * time.Second

// Timer drives periodic auto-refresh ticks.
type Timer interface {
	// Arm starts calling fn periodically, replacing any previous callback.
	Arm(fn func())
	// Disarm stops the callbacks. It is a no-op when not armed.
	Disarm()
	// Stop disarms the timer and releases its resources.
	Stop()
}

// CronTimer is a Timer backed by a robfig/cron scheduler.
type CronTimer struct {
	mu       sync.Mutex
	cron     *cron.Cron
	interval time.Duration
	entry    cron.EntryID
	armed    bool
}

// NewCronTimer starts a scheduler that fires every interval once armed.
// Non-positive intervals use DefaultInterval.
func NewCronTimer(interval time.Duration) *CronTimer {
	if interval <= 0 {
		interval = DefaultInterval
	}
	c := cron.New(cron.WithLogger(cronLogger{}))
	c.Start()
	return &CronTimer{cron: c, interval: interval}
}

// Interval returns the tick period.
func (t *CronTimer) Interval() time.Duration {
	return t.interval
}

func (t *CronTimer) Arm(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.armed {
		t.cron.Remove(t.entry)
	}
	t.entry = t.cron.Schedule(cron.Every(t.interval), cron.FuncJob(fn))
	t.armed = true
}

func (t *CronTimer) Disarm() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.armed {
		t.cron.Remove(t.entry)
		t.armed = false
	}
}

func (t *CronTimer) Stop() {
	t.Disarm()
	t.cron.Stop()
}

// cronLogger routes scheduler diagnostics to the application logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}
