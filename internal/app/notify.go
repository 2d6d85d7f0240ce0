package app

import "github.com/coreos/go-systemd/v22/daemon"

// StopReason is logged when the app shuts down.
type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSIGINT     StopReason = "sigint"
	StopSIGTERM    StopReason = "sigterm"
	StopFatalError StopReason = "fatal_error"
)

// Service manager readiness states.
const (
	NotifyReady     = daemon.SdNotifyReady
	NotifyReloading = daemon.SdNotifyReloading
	NotifyStopping  = daemon.SdNotifyStopping
)

// Notifier reports a readiness state to the service manager.
type Notifier func(state string) error

// SystemdNotifier sends states over $NOTIFY_SOCKET. Outside systemd it is a
// no-op.
func SystemdNotifier() Notifier {
	return func(state string) error {
		_, err := daemon.SdNotify(false, state)
		return err
	}
}
