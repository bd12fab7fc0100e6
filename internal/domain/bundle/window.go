package bundle

import "time"

// Deadline returns trigger + window, or nil when the element is unbounded.
// Every deadline in the system is derived through this function.
func Deadline(trigger time.Time, windowHours *float64) *time.Time {
	if windowHours == nil {
		return nil
	}
	d := trigger.Add(time.Duration(*windowHours * float64(time.Hour)))
	return &d
}

// WithinWindow reports whether now is still inside the element's window.
// An absent window is always within. The deadline itself is outside:
// evidence dated exactly at the deadline counts as on-time (inclusive
// acceptance), while an evaluation at the deadline instant is no longer
// within the window.
func WithinWindow(now, trigger time.Time, windowHours *float64) bool {
	d := Deadline(trigger, windowHours)
	if d == nil {
		return true
	}
	return now.Before(*d)
}
