//go:build !linux

package lifecycle

import "context"

// LogindWatcher is only available on Linux.
type LogindWatcher struct{}

func NewLogindWatcher() (*LogindWatcher, error) {
	return nil, ErrUnsupported
}

func (w *LogindWatcher) Watch(ctx context.Context, out chan<- Event) error {
	return ErrUnsupported
}
