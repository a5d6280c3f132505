package dateutil

import (
	"testing"
	"time"
)

func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

func TestCurrentDate(t *testing.T) {
	clock := fixedClock(time.Date(2017, time.November, 6, 15, 4, 5, 0, time.UTC))
	day, month, year := CurrentDate(clock)
	if day != 6 || month != 11 || year != 2017 {
		t.Fatalf("CurrentDate = (%d, %d, %d), want (6, 11, 2017)", day, month, year)
	}
}

func TestDaysInMonth(t *testing.T) {
	tests := []struct {
		year, month, want int
	}{
		{2017, 11, 30},
		{2017, 12, 31},
		{2017, 2, 28},
		{2020, 2, 29},
		{2100, 2, 28}, // century non-leap
	}
	for _, tt := range tests {
		if got := DaysInMonth(tt.year, tt.month); got != tt.want {
			t.Errorf("DaysInMonth(%d, %d) = %d, want %d", tt.year, tt.month, got, tt.want)
		}
	}
}

func TestMonthDaysWithWeekdayShape(t *testing.T) {
	months := []struct {
		year, month int
	}{
		{2017, 11},
		{2017, 12},
		{2017, 2},
		{2020, 2},
		{2024, 9},
	}
	for _, m := range months {
		weeks := MonthDaysWithWeekday(m.year, m.month, WeekStartMonday)

		seen := make(map[int]bool)
		for _, week := range weeks {
			if len(week) != 7 {
				t.Fatalf("%d-%d: week row has %d entries, want 7", m.year, m.month, len(week))
			}
			for _, day := range week {
				if day == 0 {
					continue
				}
				if seen[day] {
					t.Fatalf("%d-%d: day %d appears twice", m.year, m.month, day)
				}
				seen[day] = true
			}
		}

		want := DaysInMonth(m.year, m.month)
		if len(seen) != want {
			t.Fatalf("%d-%d: grid has %d distinct days, want %d", m.year, m.month, len(seen), want)
		}
		for d := 1; d <= want; d++ {
			if !seen[d] {
				t.Fatalf("%d-%d: day %d missing from grid", m.year, m.month, d)
			}
		}
	}
}

func TestMonthDaysWithWeekdayColumns(t *testing.T) {
	// November 6th 2017 is a Monday: column 0 with a Monday week start,
	// column 1 with a Sunday week start.
	find := func(weeks [][]int, day int) int {
		for _, week := range weeks {
			for col, d := range week {
				if d == day {
					return col
				}
			}
		}
		return -1
	}

	if col := find(MonthDaysWithWeekday(2017, 11, WeekStartMonday), 6); col != 0 {
		t.Errorf("Monday-start column for Nov 6 = %d, want 0", col)
	}
	if col := find(MonthDaysWithWeekday(2017, 11, WeekStartSunday), 6); col != 1 {
		t.Errorf("Sunday-start column for Nov 6 = %d, want 1", col)
	}
}

func TestMonthDaysCoversWholeWeeks(t *testing.T) {
	var days []time.Time
	for d := range MonthDays(2017, 11, WeekStartMonday) {
		days = append(days, d)
	}
	if len(days)%7 != 0 {
		t.Fatalf("grid length %d is not a multiple of 7", len(days))
	}
	first := time.Date(2017, time.October, 30, 0, 0, 0, 0, time.UTC)
	last := time.Date(2017, time.December, 3, 0, 0, 0, 0, time.UTC)
	if !days[0].Equal(first) {
		t.Errorf("first grid day = %v, want %v", days[0], first)
	}
	if !days[len(days)-1].Equal(last) {
		t.Errorf("last grid day = %v, want %v", days[len(days)-1], last)
	}

	// The sequence must be restartable.
	count := 0
	seq := MonthDays(2017, 11, WeekStartMonday)
	for range seq {
		count++
	}
	for range seq {
		count++
	}
	if count != 2*len(days) {
		t.Errorf("second pass yielded %d total days, want %d", count, 2*len(days))
	}
}

func TestPreviousMonthAndYear(t *testing.T) {
	tests := []struct {
		year, month         int
		wantMonth, wantYear int
	}{
		{2018, 1, 12, 2017},
		{2017, 12, 11, 2017},
		{2017, 3, 2, 2017}, // into February
	}
	for _, tt := range tests {
		m, y := PreviousMonthAndYear(tt.year, tt.month)
		if m != tt.wantMonth || y != tt.wantYear {
			t.Errorf("PreviousMonthAndYear(%d, %d) = (%d, %d), want (%d, %d)",
				tt.year, tt.month, m, y, tt.wantMonth, tt.wantYear)
		}
	}
}

func TestNextMonthAndYear(t *testing.T) {
	tests := []struct {
		year, month         int
		wantMonth, wantYear int
	}{
		{2017, 12, 1, 2018},
		{2017, 11, 12, 2017},
		{2020, 2, 3, 2020}, // leap February
	}
	for _, tt := range tests {
		m, y := NextMonthAndYear(tt.year, tt.month)
		if m != tt.wantMonth || y != tt.wantYear {
			t.Errorf("NextMonthAndYear(%d, %d) = (%d, %d), want (%d, %d)",
				tt.year, tt.month, m, y, tt.wantMonth, tt.wantYear)
		}
	}
}
