// Package ratelimit implements the fixed-window admission math used for
// per-credential request caps. The window state lives inside the credential
// record; this package only computes transitions, so it stays pure and
// independently testable. Persistence of a passing outcome is the caller's
// responsibility (see the credential repository's conditional update).
package ratelimit

import "time"

// Window names used in rejection messages and metrics labels.
const (
	WindowMinute = "minute"
	WindowDay    = "day"
)

// Window is one fixed counting window. A zero Start means no window has been
// opened yet.
type Window struct {
	Start *time.Time
	Count int
}

// Advance computes the next state of a fixed window for one call at instant
// now.
//
// If no window is open, or the elapsed time since Start exceeds length, the
// window resets to {now, 1} and the call passes. Otherwise the count is
// incremented and compared to cap: an over-cap result rejects the call, and
// the returned window still carries the incremented count. Callers that
// reject must discard it rather than persist it, so a rejected call does not
// ratchet the stored counter.
func Advance(w Window, now time.Time, length time.Duration, cap int) (Window, bool) {
	if w.Start == nil || now.Sub(*w.Start) > length {
		start := now
		return Window{Start: &start, Count: 1}, true
	}
	next := Window{Start: w.Start, Count: w.Count + 1}
	return next, next.Count <= cap
}

// Decision is the combined outcome of evaluating both admission windows.
type Decision struct {
	Allowed bool
	// Breached names the first window over cap (minute evaluated before day);
	// empty when Allowed.
	Breached string
	Minute   Window
	Day      Window
}

// Limits carries the per-window caps.
type Limits struct {
	PerMinute int
	PerDay    int
}

// Evaluate advances the minute window and then the day window for a single
// call. Both windows are always advanced so a passing call persists whichever
// counters legitimately moved, but the first breach wins for reporting.
func Evaluate(minute, day Window, now time.Time, limits Limits) Decision {
	nextMinute, minuteOK := Advance(minute, now, time.Minute, limits.PerMinute)
	nextDay, dayOK := Advance(day, now, 24*time.Hour, limits.PerDay)

	d := Decision{Allowed: minuteOK && dayOK, Minute: nextMinute, Day: nextDay}
	switch {
	case !minuteOK:
		d.Breached = WindowMinute
	case !dayOK:
		d.Breached = WindowDay
	}
	return d
}
