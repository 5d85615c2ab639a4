package recurrence

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

type Freq int

const (
	Daily Freq = iota
	TimesDaily
	Weekly
	Monthly
	Custom
	AsNeeded
)

var freqNames = map[Freq]string{
	Daily:      "DAILY",
	TimesDaily: "TIMESDAILY",
	Weekly:     "WEEKLY",
	Monthly:    "MONTHLY",
	Custom:     "CUSTOM",
	AsNeeded:   "ASNEEDED",
}

var freqFromName = map[string]Freq{
	"DAILY":      Daily,
	"TIMESDAILY": TimesDaily,
	"WEEKLY":     Weekly,
	"MONTHLY":    Monthly,
	"CUSTOM":     Custom,
	"ASNEEDED":   AsNeeded,
}

var dayNames = map[string]time.Weekday{
	"SU": time.Sunday,
	"MO": time.Monday,
	"TU": time.Tuesday,
	"WE": time.Wednesday,
	"TH": time.Thursday,
	"FR": time.Friday,
	"SA": time.Saturday,
}

var dayAbbrev = map[time.Weekday]string{
	time.Sunday:    "SU",
	time.Monday:    "MO",
	time.Tuesday:   "TU",
	time.Wednesday: "WE",
	time.Thursday:  "TH",
	time.Friday:    "FR",
	time.Saturday:  "SA",
}

const dateTimeLayout = "20060102T150405Z"

// TimeOfDay is a wall-clock time interpreted in the schedule's time zone.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

func (t TimeOfDay) minutes() int {
	return t.Hour*60 + t.Minute
}

// ParseTimeOfDay parses "HH:MM" in 24-hour form.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return TimeOfDay{}, fmt.Errorf("invalid time of day: %q", s)
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return TimeOfDay{}, fmt.Errorf("invalid hour: %q", s)
	}
	minute, err := strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return TimeOfDay{}, fmt.Errorf("invalid minute: %q", s)
	}
	return TimeOfDay{Hour: hour, Minute: minute}, nil
}

type Rule struct {
	Freq       Freq
	Times      []TimeOfDay    // sorted, unique; unused for Custom and AsNeeded
	ByDay      []time.Weekday // Weekly only
	ByMonthDay int            // Monthly only, 1..31
	Dates      []time.Time    // Custom only, absolute UTC instants, sorted
}

// Parse parses a rule string like "FREQ=WEEKLY;BYDAY=MO,WE;TIMES=08:00,20:00".
func Parse(rule string) (Rule, error) {
	if rule == "" {
		return Rule{}, fmt.Errorf("empty rule")
	}

	var r Rule
	var hasFreq bool

	for _, part := range strings.Split(rule, ";") {
		key, val, ok := strings.Cut(part, "=")
		if !ok {
			return Rule{}, fmt.Errorf("invalid rule part: %q", part)
		}

		switch key {
		case "FREQ":
			f, ok := freqFromName[val]
			if !ok {
				return Rule{}, fmt.Errorf("unknown frequency: %q", val)
			}
			r.Freq = f
			hasFreq = true

		case "TIMES":
			for _, s := range strings.Split(val, ",") {
				t, err := ParseTimeOfDay(s)
				if err != nil {
					return Rule{}, err
				}
				r.Times = append(r.Times, t)
			}

		case "BYDAY":
			for _, d := range strings.Split(val, ",") {
				wd, ok := dayNames[strings.TrimSpace(d)]
				if !ok {
					return Rule{}, fmt.Errorf("unknown day: %q", d)
				}
				r.ByDay = append(r.ByDay, wd)
			}

		case "BYMONTHDAY":
			n, err := strconv.Atoi(val)
			if err != nil || n < 1 || n > 31 {
				return Rule{}, fmt.Errorf("invalid BYMONTHDAY: %q", val)
			}
			r.ByMonthDay = n

		case "DATES":
			for _, s := range strings.Split(val, ",") {
				t, err := time.Parse(dateTimeLayout, strings.TrimSpace(s))
				if err != nil {
					return Rule{}, fmt.Errorf("invalid date: %q", s)
				}
				r.Dates = append(r.Dates, t.UTC())
			}

		default:
			return Rule{}, fmt.Errorf("unsupported rule key: %q", key)
		}
	}

	if !hasFreq {
		return Rule{}, fmt.Errorf("FREQ is required")
	}

	r.normalize()
	if err := r.validate(); err != nil {
		return Rule{}, err
	}
	return r, nil
}

func (r *Rule) normalize() {
	slices.SortFunc(r.Times, func(a, b TimeOfDay) int { return a.minutes() - b.minutes() })
	r.Times = slices.Compact(r.Times)

	slices.Sort(r.ByDay)
	r.ByDay = slices.Compact(r.ByDay)

	slices.SortFunc(r.Dates, func(a, b time.Time) int { return a.Compare(b) })
	r.Dates = slices.CompactFunc(r.Dates, func(a, b time.Time) bool { return a.Equal(b) })
}

func (r Rule) validate() error {
	switch r.Freq {
	case Daily:
		if len(r.Times) != 1 {
			return fmt.Errorf("DAILY needs exactly one time, got %d", len(r.Times))
		}
	case TimesDaily:
		if len(r.Times) == 0 {
			return fmt.Errorf("TIMESDAILY needs at least one time")
		}
	case Weekly:
		if len(r.ByDay) == 0 {
			return fmt.Errorf("WEEKLY needs BYDAY")
		}
		if len(r.Times) == 0 {
			return fmt.Errorf("WEEKLY needs at least one time")
		}
	case Monthly:
		if r.ByMonthDay == 0 {
			return fmt.Errorf("MONTHLY needs BYMONTHDAY")
		}
		if len(r.Times) == 0 {
			return fmt.Errorf("MONTHLY needs at least one time")
		}
	case Custom:
		if len(r.Dates) == 0 {
			return fmt.Errorf("CUSTOM needs DATES")
		}
		if len(r.Times) > 0 {
			return fmt.Errorf("CUSTOM does not take TIMES")
		}
	case AsNeeded:
		if len(r.Times) > 0 || len(r.Dates) > 0 || len(r.ByDay) > 0 || r.ByMonthDay > 0 {
			return fmt.Errorf("ASNEEDED takes no other keys")
		}
	}
	return nil
}

// String serializes the rule back to its canonical string form.
func (r Rule) String() string {
	parts := []string{"FREQ=" + freqNames[r.Freq]}

	if len(r.ByDay) > 0 {
		var days []string
		for _, d := range r.ByDay {
			days = append(days, dayAbbrev[d])
		}
		parts = append(parts, "BYDAY="+strings.Join(days, ","))
	}

	if r.ByMonthDay > 0 {
		parts = append(parts, fmt.Sprintf("BYMONTHDAY=%d", r.ByMonthDay))
	}

	if len(r.Times) > 0 {
		var times []string
		for _, t := range r.Times {
			times = append(times, t.String())
		}
		parts = append(parts, "TIMES="+strings.Join(times, ","))
	}

	if len(r.Dates) > 0 {
		var dates []string
		for _, d := range r.Dates {
			dates = append(dates, d.UTC().Format(dateTimeLayout))
		}
		parts = append(parts, "DATES="+strings.Join(dates, ","))
	}

	return strings.Join(parts, ";")
}

// Describe returns a human-readable description of the rule.
func (r Rule) Describe() string {
	var times []string
	for _, t := range r.Times {
		times = append(times, t.String())
	}
	at := strings.Join(times, ", ")

	switch r.Freq {
	case Daily:
		return "Daily at " + at
	case TimesDaily:
		return fmt.Sprintf("%d times daily at %s", len(r.Times), at)
	case Weekly:
		var names []string
		for _, d := range r.ByDay {
			names = append(names, d.String()[:3])
		}
		return fmt.Sprintf("Weekly on %s at %s", strings.Join(names, ", "), at)
	case Monthly:
		return fmt.Sprintf("Monthly on day %d at %s", r.ByMonthDay, at)
	case Custom:
		if len(r.Dates) == 1 {
			return "Once"
		}
		return fmt.Sprintf("On %d specific dates", len(r.Dates))
	case AsNeeded:
		return "As needed"
	}
	return ""
}
