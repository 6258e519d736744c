// Package lifecycle reports host lifecycle changes: focus and system sleep.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
)

// Event is a host lifecycle notification.
type Event int

const (
	Foreground Event = iota
	Background
	Sleep
	Wake
)

var eventNames = [...]string{
	Foreground: "foreground",
	Background: "background",
	Sleep:      "sleep",
	Wake:       "wake",
}

func (e Event) String() string {
	if e >= 0 && int(e) < len(eventNames) {
		return eventNames[e]
	}
	return fmt.Sprintf("event(%d)", int(e))
}

// ParseEvent returns the Event named s.
func ParseEvent(s string) (Event, error) {
	for i, name := range eventNames {
		if name == s {
			return Event(i), nil
		}
	}
	return 0, fmt.Errorf("unknown lifecycle event %q", s)
}

// ErrUnsupported is returned when a watcher is not available on this host.
var ErrUnsupported = errors.New("lifecycle watcher not supported on this platform")

// Watcher emits lifecycle events on out until ctx is done.
type Watcher interface {
	Watch(ctx context.Context, out chan<- Event) error
}

func emit(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
