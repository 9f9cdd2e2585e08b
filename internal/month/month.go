// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package month

import (
	"fmt"
	"time"
)

// maxWindows bounds a single run (100 years of months).
const maxWindows = 1200

// Window is one calendar month of the export range.
type Window struct {
	Index int       // Window index (0-based)
	Start time.Time // First instant of the month (inclusive)
	End   time.Time // First instant of the following month (exclusive)
}

// Label returns the month as YYYY-MM.
func (w Window) Label() string {
	return w.Start.Format("2006-01")
}

// Split partitions [first month of start, first month of end] into calendar-month windows.
// The month containing end is included. Boundaries are computed in loc.
func Split(start, end time.Time, loc *time.Location) ([]Window, error) {
	if loc == nil {
		loc = time.Local
	}

	cur := FirstOfMonth(start, loc)
	last := FirstOfMonth(end, loc)
	if last.Before(cur) {
		return nil, fmt.Errorf("end month %s is before start month %s",
			last.Format("2006-01"), cur.Format("2006-01"))
	}

	var windows []Window
	for i := 0; !cur.After(last); i++ {
		if i >= maxWindows {
			return nil, fmt.Errorf("range exceeds %d months", maxWindows)
		}
		next := NextMonth(cur)
		windows = append(windows, Window{
			Index: i,
			Start: cur,
			End:   next,
		})
		cur = next
	}

	return windows, nil
}

// FirstOfMonth returns midnight on the first day of t's month in loc.
func FirstOfMonth(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
}

// NextMonth returns the first day of the month after t, rolling the year after December.
// t must be a first-of-month value.
func NextMonth(t time.Time) time.Time {
	if t.Month() == time.December {
		return time.Date(t.Year()+1, time.January, 1, 0, 0, 0, 0, t.Location())
	}
	return time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, t.Location())
}
