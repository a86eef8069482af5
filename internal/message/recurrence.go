package message

import "time"

// NextOccurrence computes when the successor of an occurrence fired at "from"
// should run, relative to the clock value "now".
//
// The base step preserves time-of-day: daily +1d, weekly +7d, monthly +1
// calendar month (time.AddDate normalization applies, e.g. Jan 31 + 1 month
// rolls into March). When the stepped time is not strictly in the future --
// typically because the process was down across one or more periods -- the
// successor is re-anchored to today at the original time-of-day, advanced by
// one more day if that has already passed. The result is always strictly
// after now.
//
// The zero time is returned for RecurNone.
func NextOccurrence(rec Recurrence, from, now time.Time) time.Time {
	var next time.Time
	switch rec {
	case RecurDaily:
		next = from.AddDate(0, 0, 1)
	case RecurWeekly:
		next = from.AddDate(0, 0, 7)
	case RecurMonthly:
		next = from.AddDate(0, 1, 0)
	default:
		return time.Time{}
	}
	if next.After(now) {
		return next
	}

	// Re-anchor: same wall-clock time, first day on which it is still ahead.
	loc := from.Location()
	y, m, d := now.In(loc).Date()
	hh, mm, ss := from.Clock()
	next = time.Date(y, m, d, hh, mm, ss, from.Nanosecond(), loc)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
