// Package recurrence expands repetition rules into concrete per-day
// occurrences for a month and merges them with one-off tasks.
package recurrence

import (
	"taskcal/internal/dateutil"
	"taskcal/internal/model"
)

// Engine expands recurrence rules against month grids.
//
// Rules are always evaluated over a Monday-first grid: repetition_value
// weekday indices are part of the stored file format, with 0 meaning
// Monday. The display week start never changes rule semantics.
type Engine struct {
	clock dateutil.Clock
}

// New returns an Engine. clock defaults to the system clock when nil.
func New(clock dateutil.Clock) *Engine {
	if clock == nil {
		clock = dateutil.SystemClock
	}
	return &Engine{clock: clock}
}

// RepetitiveTasks computes the month's occurrences of every repetition
// rule in doc, keyed by day.
//
// Weekly rules fire on every matching weekday unless that exact day is
// hidden. Monthly week-day rules fire once, on the first matching cell of
// the month; monthly month-day rules fire on the exact day of month (a
// day that does not exist in the month simply never fires). Monthly
// hiding is month-granular: one hidden entry suppresses the whole month's
// occurrence.
func (e *Engine) RepetitiveTasks(year, month int, doc *model.Document) model.DayMap {
	out := make(model.DayMap)
	if doc == nil || doc.Tasks == nil {
		return out
	}

	weeks := dateutil.MonthDaysWithWeekday(year, month, dateutil.WeekStartMonday)
	hidden := doc.Tasks.HiddenRepetition

	for _, task := range doc.Tasks.Repetition {
		monthlyAssigned := false
		for _, week := range weeks {
			for weekday, day := range week {
				if day == 0 {
					continue
				}
				switch task.RepetitionType {
				case model.RepetitionTypeWeekly:
					if hidden.HiddenForDay(task.ID, year, month, day) {
						continue
					}
					if task.RepetitionValue == weekday {
						out[day] = append(out[day], model.OccurrenceFromRecurring(task))
					}
				case model.RepetitionTypeMonthly:
					if hidden.HiddenForMonth(task.ID, year, month) {
						continue
					}
					if task.RepetitionSubtype == model.RepetitionSubtypeWeekDay {
						if task.RepetitionValue == weekday && !monthlyAssigned {
							monthlyAssigned = true
							out[day] = append(out[day], model.OccurrenceFromRecurring(task))
						}
					} else {
						if task.RepetitionValue == day {
							out[day] = append(out[day], model.OccurrenceFromRecurring(task))
						}
					}
				}
			}
		}
	}
	return out
}

// Merge appends the month's recurring occurrences onto the already
// computed one-off day buckets and returns the same map. One-off tasks
// keep their position at the front of each bucket.
//
// Call exactly once per render: a second call double-appends.
func (e *Engine) Merge(year, month int, doc *model.Document, tasks model.DayMap) model.DayMap {
	if tasks == nil {
		tasks = make(model.DayMap)
	}
	for day, dayTasks := range e.RepetitiveTasks(year, month, doc) {
		tasks[day] = append(tasks[day], dayTasks...)
	}
	return tasks
}

// HidePastTasks blanks past-day buckets of tasks in place, as a
// display-time view. A month entirely in the past ends up as an empty
// mapping with no day keys at all; in the current month days before
// today keep their keys with empty values. The persisted document is
// never touched.
func (e *Engine) HidePastTasks(year, month int, tasks model.DayMap) {
	curDay, curMonth, curYear := dateutil.CurrentDate(e.clock)

	if year > curYear || (year == curYear && month > curMonth) {
		return
	}
	if year < curYear || month < curMonth {
		for day := range tasks {
			delete(tasks, day)
		}
		return
	}
	for day := range tasks {
		if day < curDay {
			tasks[day] = []model.Occurrence{}
		}
	}
}
