package coordinator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCronTimer(t *testing.T) {
	timer := NewCronTimer(time.Second)
	defer timer.Stop()

	fired := make(chan struct{}, 4)
	timer.Arm(func() { fired <- struct{}{} })
	timer.Arm(func() { fired <- struct{}{} })
	assert.Len(t, timer.cron.Entries(), 1)

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("timer did not fire")
	}

	timer.Disarm()
	timer.Disarm()
	assert.Empty(t, timer.cron.Entries())
}

func TestCronTimerDefaultInterval(t *testing.T) {
	timer := NewCronTimer(0)
	defer timer.Stop()
	assert.Equal(t, DefaultInterval, timer.Interval())
}
