// Package natural schedules calls on calendar boundaries ("every day at
// 00:00:30", "every Wednesday") rather than on a fixed period counted from
// start-up.
//
// Boundaries are computed in the location of the time passed in, so DST
// transitions and month lengths follow time.Date normalisation.
package natural
