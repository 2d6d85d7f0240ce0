package throttle

import "time"

// Window is the fixed window calls are currently counted against.
// Count calls have been attributed to [Anchor, Anchor+interval).
//
// Window is plain state; the Throttler serializes access to it.
type Window struct {
	Anchor time.Time
	Count  int
}

// Advance attributes one call arriving at now and returns how long until the
// call's window opens (<= 0 means it is already open).
//
// A call that finds the window full moves the anchor forward by exactly one
// interval, so repeated overflow queues calls into successive windows instead
// of stacking them on the same instant.
func (w *Window) Advance(now time.Time, limit int, interval time.Duration) time.Duration {
	switch {
	case now.Sub(w.Anchor) > interval:
		w.Anchor = now
		w.Count = 1
	case w.Count < limit:
		w.Count++
	default:
		w.Anchor = w.Anchor.Add(interval)
		w.Count = 1
	}
	return w.Anchor.Sub(now)
}
