// Package throttle bounds how many calls of an operation may start within
// consecutive fixed windows.
//
// A Throttler counts calls against a window of length Interval. The first
// Limit calls of a window start immediately; later calls are attributed to the
// next window (and the one after that, once it fills up too). What happens to
// a call that belongs to a future window depends on the Policy:
//
//   - Wait: the caller sleeps until its window opens, then runs.
//   - Ignore: the call is dropped; the caller gets an op.Suppressed result.
//   - Replace: the call runs immediately and cancels the call currently in
//     flight, whose caller gets op.Superseded (or the cancellation error when
//     SuppressReplaced is false).
//
// One Throttler governs one operation binding. Use Wrap to bind it:
//
//	th, err := throttle.New(throttle.Config{Limit: 5, Interval: time.Second})
//	if err != nil {
//		return err
//	}
//	call := throttle.Wrap(th, fetch)
//	res, err := call(ctx)
package throttle
