package lifecycle

import "github.com/godbus/dbus/v5"

const (
	logindPath      = dbus.ObjectPath("/org/freedesktop/login1")
	logindInterface = "org.freedesktop.login1.Manager"
	prepareForSleep = logindInterface + ".PrepareForSleep"
)

// sleepEvent maps a logind PrepareForSleep signal to Sleep (true) or Wake
// (false).
func sleepEvent(sig *dbus.Signal) (Event, bool) {
	if sig == nil || sig.Name != prepareForSleep || len(sig.Body) == 0 {
		return 0, false
	}
	start, ok := sig.Body[0].(bool)
	if !ok {
		return 0, false
	}
	if start {
		return Sleep, true
	}
	return Wake, true
}
