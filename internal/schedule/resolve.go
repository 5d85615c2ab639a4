// Package schedule resolves medication schedules into concrete dose instants.
package schedule

import (
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/dukerupert/medreminder/internal/model"
	"github.com/dukerupert/medreminder/internal/recurrence"
)

// Location returns the schedule's time zone, UTC when unset.
func Location(s model.MedicationSchedule) (*time.Location, error) {
	if s.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", s.Timezone, err)
	}
	return loc, nil
}

// ResolveDueInstants returns the scheduled instants of s that fall within
// [windowStart, windowEnd) and within the schedule's start and end dates,
// in chronological order. Inactive schedules resolve to nothing. The result
// depends only on the arguments.
func ResolveDueInstants(s model.MedicationSchedule, windowStart, windowEnd time.Time) ([]time.Time, error) {
	if !s.Active {
		return nil, nil
	}

	rule, err := recurrence.Parse(s.Recurrence)
	if err != nil {
		return nil, fmt.Errorf("schedule %d: %w", s.ID, err)
	}
	loc, err := Location(s)
	if err != nil {
		return nil, fmt.Errorf("schedule %d: %w", s.ID, err)
	}

	from, to := clamp(s, loc, windowStart, windowEnd)
	if !from.Before(to) {
		return nil, nil
	}
	return recurrence.Expand(rule, loc, from, to), nil
}

// Produces reports whether s, as currently defined, has a dose at exactly at.
func Produces(s model.MedicationSchedule, at time.Time) (bool, error) {
	instants, err := ResolveDueInstants(s, at, at.Add(time.Second))
	if err != nil {
		return false, err
	}
	for _, t := range instants {
		if t.Equal(at) {
			return true, nil
		}
	}
	return false, nil
}

// clamp narrows the window to the schedule's active date range. The end date
// is inclusive: doses on that calendar day are still due.
func clamp(s model.MedicationSchedule, loc *time.Location, from, to time.Time) (time.Time, time.Time) {
	start := dateIn(s.StartDate, loc, 0)
	if from.Before(start) {
		from = start
	}
	if s.EndDate != nil {
		end := dateIn(*s.EndDate, loc, 1)
		if to.After(end) {
			to = end
		}
	}
	return from, to
}

func dateIn(d time.Time, loc *time.Location, addDays int) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day()+addDays, 0, 0, 0, 0, loc)
}

// DayWindow returns the calendar-view window [start of day, start of next day)
// for the given date in loc.
func DayWindow(date time.Time, loc *time.Location) (time.Time, time.Time) {
	return dateIn(date, loc, 0), dateIn(date, loc, 1)
}

// Validate checks a schedule before it is stored.
func Validate(s model.MedicationSchedule) error {
	if s.MedicationID == 0 {
		return fmt.Errorf("medication_id is required")
	}
	if s.DoseAmount <= 0 {
		return fmt.Errorf("dose_amount must be positive")
	}
	if _, err := recurrence.Parse(s.Recurrence); err != nil {
		return fmt.Errorf("recurrence: %w", err)
	}
	if _, err := Location(s); err != nil {
		return err
	}
	if s.StartDate.IsZero() {
		return fmt.Errorf("start_date is required")
	}
	if s.EndDate != nil && s.EndDate.Before(s.StartDate) {
		return fmt.Errorf("end_date must not be before start_date")
	}
	return nil
}
