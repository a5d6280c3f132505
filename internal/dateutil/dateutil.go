// Package dateutil provides the Gregorian calendar arithmetic behind the
// month views: month grids padded to whole weeks, adjacent-month
// navigation and a clock seam for "today".
package dateutil

import (
	"iter"
	"time"
)

// Clock returns the current time. Production code uses SystemClock; tests
// substitute a fixed clock.
type Clock func() time.Time

// SystemClock is the default Clock.
var SystemClock Clock = time.Now

// WeekStart selects which weekday opens a grid row.
type WeekStart int

const (
	WeekStartMonday WeekStart = iota
	WeekStartSunday
)

// ParseWeekStart maps a config string to a WeekStart. Anything other than
// "sunday" means Monday.
func ParseWeekStart(s string) WeekStart {
	if s == "sunday" {
		return WeekStartSunday
	}
	return WeekStartMonday
}

func (w WeekStart) firstWeekday() time.Weekday {
	if w == WeekStartSunday {
		return time.Sunday
	}
	return time.Monday
}

// WeekdayIndex returns the column index (0..6) of wd in a week starting
// at w.
func WeekdayIndex(wd time.Weekday, w WeekStart) int {
	return (int(wd) - int(w.firstWeekday()) + 7) % 7
}

// CurrentDate returns today's day, month and year according to clock.
func CurrentDate(clock Clock) (day, month, year int) {
	now := clock()
	return now.Day(), int(now.Month()), now.Year()
}

// DaysInMonth returns the number of days in the given month.
func DaysInMonth(year, month int) int {
	// Day 0 of the next month is the last day of this one.
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// MonthDays yields every date cell of the month grid, including the
// leading and trailing days from adjacent months needed to fill whole
// weeks. The sequence is finite and can be ranged over more than once.
func MonthDays(year, month int, ws WeekStart) iter.Seq[time.Time] {
	first := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	lead := WeekdayIndex(first.Weekday(), ws)
	start := first.AddDate(0, 0, -lead)

	last := time.Date(year, time.Month(month), DaysInMonth(year, month), 0, 0, 0, 0, time.UTC)
	trail := 6 - WeekdayIndex(last.Weekday(), ws)
	end := last.AddDate(0, 0, trail)

	return func(yield func(time.Time) bool) {
		for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
			if !yield(d) {
				return
			}
		}
	}
}

// MonthDaysWithWeekday returns the month grid as week rows of exactly 7
// day-of-month numbers, with 0 marking cells that belong to the adjacent
// months. The column index of a cell is its weekday relative to ws.
func MonthDaysWithWeekday(year, month int, ws WeekStart) [][]int {
	var weeks [][]int
	var row []int

	for d := range MonthDays(year, month, ws) {
		if len(row) == 0 {
			row = make([]int, 0, 7)
		}
		if int(d.Month()) == month {
			row = append(row, d.Day())
		} else {
			row = append(row, 0)
		}
		if len(row) == 7 {
			weeks = append(weeks, row)
			row = nil
		}
	}
	return weeks
}

// PreviousMonthAndYear rolls to the month before the given one. Stepping
// two days back from the 1st lands safely inside the previous month even
// across the January/December boundary.
func PreviousMonthAndYear(year, month int) (prevMonth, prevYear int) {
	d := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -2)
	return int(d.Month()), d.Year()
}

// NextMonthAndYear rolls to the month after the given one by stepping two
// days past its last day.
func NextMonthAndYear(year, month int) (nextMonth, nextYear int) {
	last := DaysInMonth(year, month)
	d := time.Date(year, time.Month(month), last, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 2)
	return int(d.Month()), d.Year()
}
