//go:build linux

package lifecycle

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"

	appLog "nextmeet/internal/log"
)

// LogindWatcher listens for systemd-logind sleep notifications on the
// system bus.
type LogindWatcher struct {
	conn *dbus.Conn
}

// NewLogindWatcher connects to the system bus and subscribes to
// PrepareForSleep.
func NewLogindWatcher() (*LogindWatcher, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}
	err = conn.AddMatchSignal(
		dbus.WithMatchObjectPath(logindPath),
		dbus.WithMatchInterface(logindInterface),
		dbus.WithMatchMember("PrepareForSleep"),
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe PrepareForSleep: %w", err)
	}
	return &LogindWatcher{conn: conn}, nil
}

func (w *LogindWatcher) Watch(ctx context.Context, out chan<- Event) error {
	defer w.conn.Close()

	signals := make(chan *dbus.Signal, 8)
	w.conn.Signal(signals)
	defer w.conn.RemoveSignal(signals)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-signals:
			if !ok {
				return nil
			}
			ev, ok := sleepEvent(sig)
			if !ok {
				continue
			}
			appLog.Debug("logind signal", "event", ev.String())
			if !emit(ctx, out, ev) {
				return nil
			}
		}
	}
}
