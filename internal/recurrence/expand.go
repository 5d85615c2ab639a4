package recurrence

import (
	"slices"
	"time"
)

// maxDays bounds a single expansion so a bad window cannot spin forever.
const maxDays = 3660

// Expand returns every occurrence of the rule within [from, to), in
// chronological order. Wall-clock times are interpreted in loc. A monthly
// rule whose day does not exist in a month yields nothing for that month.
func Expand(rule Rule, loc *time.Location, from, to time.Time) []time.Time {
	if !from.Before(to) {
		return nil
	}

	switch rule.Freq {
	case AsNeeded:
		return nil
	case Custom:
		var out []time.Time
		for _, d := range rule.Dates {
			if inWindow(d, from, to) {
				out = append(out, d)
			}
		}
		return out
	}

	var out []time.Time
	local := from.In(loc)
	year, month, day := local.Date()

	for i := 0; i < maxDays; i++ {
		dayStart := time.Date(year, month, day+i, 0, 0, 0, 0, loc)
		if !dayStart.Before(to) {
			break
		}
		if !rule.matchesDay(dayStart) {
			continue
		}
		for _, tod := range rule.Times {
			t := time.Date(dayStart.Year(), dayStart.Month(), dayStart.Day(), tod.Hour, tod.Minute, 0, 0, loc)
			if inWindow(t, from, to) {
				out = append(out, t)
			}
		}
	}

	// Wall times skipped by a DST change normalize forward and can land out of order.
	slices.SortFunc(out, func(a, b time.Time) int { return a.Compare(b) })
	return slices.CompactFunc(out, func(a, b time.Time) bool { return a.Equal(b) })
}

func (r Rule) matchesDay(d time.Time) bool {
	switch r.Freq {
	case Daily, TimesDaily:
		return true
	case Weekly:
		for _, wd := range r.ByDay {
			if d.Weekday() == wd {
				return true
			}
		}
		return false
	case Monthly:
		return d.Day() == r.ByMonthDay
	}
	return false
}

func inWindow(t, from, to time.Time) bool {
	return !t.Before(from) && t.Before(to)
}
