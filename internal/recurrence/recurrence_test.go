package recurrence

import (
	"testing"
	"time"
)

func TestParseFreqs(t *testing.T) {
	tests := []struct {
		input string
		freq  Freq
	}{
		{"FREQ=DAILY;TIMES=08:00", Daily},
		{"FREQ=TIMESDAILY;TIMES=08:00,20:00", TimesDaily},
		{"FREQ=WEEKLY;BYDAY=MO;TIMES=09:30", Weekly},
		{"FREQ=MONTHLY;BYMONTHDAY=15;TIMES=09:00", Monthly},
		{"FREQ=CUSTOM;DATES=20261020T080000Z", Custom},
		{"FREQ=ASNEEDED", AsNeeded},
	}

	for _, tt := range tests {
		r, err := Parse(tt.input)
		if err != nil {
			t.Errorf("Parse(%q) error: %v", tt.input, err)
			continue
		}
		if r.Freq != tt.freq {
			t.Errorf("Parse(%q).Freq = %d, want %d", tt.input, r.Freq, tt.freq)
		}
	}
}

func TestParseSortsAndDedupesTimes(t *testing.T) {
	r, err := Parse("FREQ=TIMESDAILY;TIMES=20:00,08:00,14:00,08:00")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	want := []TimeOfDay{{8, 0}, {14, 0}, {20, 0}}
	if len(r.Times) != len(want) {
		t.Fatalf("Times len = %d, want %d", len(r.Times), len(want))
	}
	for i, tod := range r.Times {
		if tod != want[i] {
			t.Errorf("Times[%d] = %v, want %v", i, tod, want[i])
		}
	}
}

func TestParseErrors(t *testing.T) {
	tests := []string{
		"",
		"TIMES=08:00", // no FREQ
		"FREQ=HOURLY",
		"FREQ=DAILY",
		"FREQ=DAILY;TIMES=08:00,09:00",
		"FREQ=DAILY;TIMES=25:00",
		"FREQ=DAILY;TIMES=08:61",
		"FREQ=DAILY;TIMES=0800",
		"FREQ=WEEKLY;TIMES=08:00",
		"FREQ=WEEKLY;BYDAY=XX;TIMES=08:00",
		"FREQ=MONTHLY;BYMONTHDAY=32;TIMES=08:00",
		"FREQ=MONTHLY;TIMES=08:00",
		"FREQ=CUSTOM",
		"FREQ=CUSTOM;DATES=2026-10-20",
		"FREQ=CUSTOM;DATES=20261020T080000Z;TIMES=08:00",
		"FREQ=ASNEEDED;TIMES=08:00",
		"FREQ=DAILY;UNKNOWN=1",
	}

	for _, input := range tests {
		if _, err := Parse(input); err == nil {
			t.Errorf("Parse(%q) should error", input)
		}
	}
}

func TestRuleString(t *testing.T) {
	r := Rule{Freq: Weekly, ByDay: []time.Weekday{time.Monday, time.Wednesday}, Times: []TimeOfDay{{8, 0}}}
	got := r.String()
	want := "FREQ=WEEKLY;BYDAY=MO,WE;TIMES=08:00"
	if got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestRuleStringCanonical(t *testing.T) {
	inputs := []string{
		"FREQ=DAILY;TIMES=08:00",
		"FREQ=TIMESDAILY;TIMES=08:00,14:00,20:00",
		"FREQ=WEEKLY;BYDAY=MO,WE,FR;TIMES=07:15",
		"FREQ=MONTHLY;BYMONTHDAY=31;TIMES=09:00",
		"FREQ=CUSTOM;DATES=20261020T080000Z,20261101T093000Z",
		"FREQ=ASNEEDED",
	}

	for _, input := range inputs {
		r, err := Parse(input)
		if err != nil {
			t.Errorf("Parse(%q) error: %v", input, err)
			continue
		}
		if got := r.String(); got != input {
			t.Errorf("Parse(%q).String() = %q", input, got)
		}
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		rule string
		want string
	}{
		{"FREQ=DAILY;TIMES=08:00", "Daily at 08:00"},
		{"FREQ=TIMESDAILY;TIMES=08:00,20:00", "2 times daily at 08:00, 20:00"},
		{"FREQ=WEEKLY;BYDAY=MO,TH;TIMES=09:00", "Weekly on Mon, Thu at 09:00"},
		{"FREQ=MONTHLY;BYMONTHDAY=1;TIMES=09:00", "Monthly on day 1 at 09:00"},
		{"FREQ=ASNEEDED", "As needed"},
	}

	for _, tt := range tests {
		r, err := Parse(tt.rule)
		if err != nil {
			t.Fatalf("Parse(%q): %v", tt.rule, err)
		}
		if got := r.Describe(); got != tt.want {
			t.Errorf("Describe(%q) = %q, want %q", tt.rule, got, tt.want)
		}
	}
}

func mustParse(t *testing.T, s string) Rule {
	t.Helper()
	r, err := Parse(s)
	if err != nil {
		t.Fatalf("Parse(%q): %v", s, err)
	}
	return r
}

func TestExpandDaily(t *testing.T) {
	r := mustParse(t, "FREQ=DAILY;TIMES=08:00")
	from := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 10, 22, 0, 0, 0, 0, time.UTC)

	got := Expand(r, time.UTC, from, to)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3: %v", len(got), got)
	}
	for i, occ := range got {
		want := time.Date(2026, 10, 19+i, 8, 0, 0, 0, time.UTC)
		if !occ.Equal(want) {
			t.Errorf("occ[%d] = %v, want %v", i, occ, want)
		}
	}
}

func TestExpandHalfOpenWindow(t *testing.T) {
	r := mustParse(t, "FREQ=DAILY;TIMES=08:00")
	at := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)

	if got := Expand(r, time.UTC, at, at.Add(time.Minute)); len(got) != 1 {
		t.Errorf("window starting at occurrence: len = %d, want 1", len(got))
	}
	if got := Expand(r, time.UTC, at.Add(-time.Minute), at); len(got) != 0 {
		t.Errorf("window ending at occurrence: len = %d, want 0", len(got))
	}
}

func TestExpandTimesDailyOrdered(t *testing.T) {
	r := mustParse(t, "FREQ=TIMESDAILY;TIMES=20:00,08:00,14:00")
	from := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	got := Expand(r, time.UTC, from, to)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if !got[i-1].Before(got[i]) {
			t.Errorf("occurrences out of order: %v", got)
		}
	}
}

func TestExpandWeekly(t *testing.T) {
	r := mustParse(t, "FREQ=WEEKLY;BYDAY=MO,FR;TIMES=09:00")
	// Monday 2026-10-19 through Sunday 2026-11-01
	from := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 11, 2, 0, 0, 0, 0, time.UTC)

	got := Expand(r, time.UTC, from, to)
	if len(got) != 4 {
		t.Fatalf("len = %d, want 4: %v", len(got), got)
	}
	for _, occ := range got {
		if wd := occ.Weekday(); wd != time.Monday && wd != time.Friday {
			t.Errorf("occurrence on %v", wd)
		}
	}
}

func TestExpandMonthlyNoRollover(t *testing.T) {
	r := mustParse(t, "FREQ=MONTHLY;BYMONTHDAY=31;TIMES=09:00")

	// November has 30 days: nothing, and no shift into December 1.
	from := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 12, 2, 0, 0, 0, 0, time.UTC)
	if got := Expand(r, time.UTC, from, to); len(got) != 0 {
		t.Errorf("November: got %v, want none", got)
	}

	// February 2027: nothing.
	from = time.Date(2027, 2, 1, 0, 0, 0, 0, time.UTC)
	to = time.Date(2027, 3, 1, 0, 0, 0, 0, time.UTC)
	if got := Expand(r, time.UTC, from, to); len(got) != 0 {
		t.Errorf("February: got %v, want none", got)
	}

	// October 2026 has a 31st.
	from = time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	to = time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	got := Expand(r, time.UTC, from, to)
	if len(got) != 1 || got[0].Day() != 31 {
		t.Errorf("October: got %v, want the 31st", got)
	}
}

func TestExpandCustomDates(t *testing.T) {
	r := mustParse(t, "FREQ=CUSTOM;DATES=20261101T093000Z,20261020T080000Z,20261201T080000Z")
	from := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 11, 15, 0, 0, 0, 0, time.UTC)

	got := Expand(r, time.UTC, from, to)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2: %v", len(got), got)
	}
	if !got[0].Equal(time.Date(2026, 10, 20, 8, 0, 0, 0, time.UTC)) {
		t.Errorf("first = %v", got[0])
	}
}

func TestExpandAsNeeded(t *testing.T) {
	r := mustParse(t, "FREQ=ASNEEDED")
	from := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	if got := Expand(r, time.UTC, from, from.AddDate(0, 1, 0)); got != nil {
		t.Errorf("as needed produced %v", got)
	}
}

func TestExpandTimeZone(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*60*60)
	r := mustParse(t, "FREQ=DAILY;TIMES=08:00")
	from := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	got := Expand(r, loc, from, to)
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1: %v", len(got), got)
	}
	want := time.Date(2026, 10, 19, 13, 0, 0, 0, time.UTC)
	if !got[0].Equal(want) {
		t.Errorf("got %v, want %v", got[0], want)
	}
}

func TestExpandDeterministic(t *testing.T) {
	r := mustParse(t, "FREQ=TIMESDAILY;TIMES=06:00,12:00,18:00")
	from := time.Date(2026, 10, 1, 3, 17, 0, 0, time.UTC)
	to := time.Date(2026, 10, 9, 22, 0, 0, 0, time.UTC)

	a := Expand(r, time.UTC, from, to)
	b := Expand(r, time.UTC, from, to)
	if len(a) != len(b) {
		t.Fatalf("lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			t.Errorf("occ[%d] differs: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestExpandEmptyWindow(t *testing.T) {
	r := mustParse(t, "FREQ=DAILY;TIMES=08:00")
	at := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	if got := Expand(r, time.UTC, at, at); got != nil {
		t.Errorf("empty window produced %v", got)
	}
}
