// Package model holds the calendar document types shared by the store,
// the recurrence engine and the lifecycle manager.
//
// The JSON shape of Document is the on-disk file format contract: one
// document per calendar id, with string-encoded integer keys in the
// year/month/day trees (Go's encoder writes integer map keys as strings,
// which keeps existing documents readable).
package model

import "fmt"

// Repetition type and subtype markers as stored in calendar documents.
const (
	RepetitionTypeWeekly  = "w"
	RepetitionTypeMonthly = "m"

	RepetitionSubtypeWeekDay  = "w"
	RepetitionSubtypeMonthDay = "m"
)

// DetailsPlaceholder is stored when a task is created with no details, so
// "no details" stays visually distinguishable from cleared details.
const DetailsPlaceholder = "&nbsp;"

// LineBreak is the markup token details newlines are converted to.
const LineBreak = "<br>"

// Task is a one-off task, stored at a specific (year, month, day).
// StartTime/EndTime are wall-clock strings ("HH:MM") and only meaningful
// when IsAllDay is false.
type Task struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Details   string `json:"details"`
	Color     string `json:"color"`
	IsAllDay  bool   `json:"is_all_day"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// RecurringTask is a task with a weekly or monthly repetition rule.
//
// RepetitionValue is a weekday index (0 = Monday .. 6 = Sunday) for
// weekly rules and for monthly week-day rules, or a day of month (1..31)
// for monthly month-day rules.
type RecurringTask struct {
	Task
	RepetitionType    string `json:"repetition_type"`
	RepetitionSubtype string `json:"repetition_subtype"`
	RepetitionValue   int    `json:"repetition_value"`
}

// Occurrence is a single calendar-day materialization of a task, as
// handed to the web layer. It is display state only and is never
// persisted.
type Occurrence struct {
	Task
	Repeats bool   `json:"repeats"`
	Date    string `json:"date,omitempty"`

	RepetitionType    string `json:"repetition_type,omitempty"`
	RepetitionSubtype string `json:"repetition_subtype,omitempty"`
	RepetitionValue   int    `json:"repetition_value"`
}

// DayMap maps a day of month to the ordered task occurrences of that day.
// One-off tasks always precede recurring occurrences within a bucket.
type DayMap map[int][]Occurrence

// OccurrenceFromTask wraps a one-off task.
func OccurrenceFromTask(t Task) Occurrence {
	return Occurrence{Task: t}
}

// OccurrenceFromRecurring wraps one instance of a recurring task.
func OccurrenceFromRecurring(rt RecurringTask) Occurrence {
	return Occurrence{
		Task:              rt.Task,
		Repeats:           true,
		RepetitionType:    rt.RepetitionType,
		RepetitionSubtype: rt.RepetitionSubtype,
		RepetitionValue:   rt.RepetitionValue,
	}
}

// DateForFrontend formats a date the way the UI expects it.
func DateForFrontend(year, month, day int) string {
	return fmt.Sprintf("%d-%02d-%02d", year, month, day)
}

// NormalTree is the one-off task tree: year → month → day → tasks.
// Every leaf list is non-empty after a save; empty branches are
// garbage-collected by the store's compaction pass.
type NormalTree map[int]map[int]map[int][]Task

// DayTasks returns the task list at (year, month, day), or nil.
func (n NormalTree) DayTasks(year, month, day int) []Task {
	return n[year][month][day]
}

// Append adds a task at (year, month, day), creating branches as needed.
func (n NormalTree) Append(year, month, day int, t Task) {
	if n[year] == nil {
		n[year] = make(map[int]map[int][]Task)
	}
	if n[year][month] == nil {
		n[year][month] = make(map[int][]Task)
	}
	n[year][month][day] = append(n[year][month][day], t)
}

// HiddenTree records suppressed occurrences of recurring tasks:
// task id → year → month → day → true.
//
// Granularity is asymmetric on purpose: weekly rules are checked down to
// the day, monthly rules only down to the month (the presence of any
// month node hides that month's single occurrence).
type HiddenTree map[int64]map[int]map[int]map[int]bool

// HiddenForDay reports whether the given day's occurrence is hidden.
// Used for weekly rules.
func (h HiddenTree) HiddenForDay(taskID int64, year, month, day int) bool {
	return h[taskID][year][month][day]
}

// HiddenForMonth reports whether the month node exists for the task.
// Used for monthly rules, which are hidden a whole month at a time.
func (h HiddenTree) HiddenForMonth(taskID int64, year, month int) bool {
	_, ok := h[taskID][year][month]
	return ok
}

// Hide marks the given occurrence hidden. Idempotent.
func (h HiddenTree) Hide(taskID int64, year, month, day int) {
	if h[taskID] == nil {
		h[taskID] = make(map[int]map[int]map[int]bool)
	}
	if h[taskID][year] == nil {
		h[taskID][year] = make(map[int]map[int]bool)
	}
	if h[taskID][year][month] == nil {
		h[taskID][year][month] = make(map[int]bool)
	}
	h[taskID][year][month][day] = true
}

// TaskTree groups the three task subtrees of a calendar document. All
// three must be present (possibly empty) for the document to be valid.
type TaskTree struct {
	Normal           NormalTree      `json:"normal"`
	Repetition       []RecurringTask `json:"repetition"`
	HiddenRepetition HiddenTree      `json:"hidden_repetition"`
}

// Document is a full calendar document as persisted on disk.
type Document struct {
	Name  string    `json:"name,omitempty"`
	Users []string  `json:"users"`
	Tasks *TaskTree `json:"tasks"`
}

// NewDocument returns an empty but structurally complete document.
func NewDocument(users ...string) *Document {
	return &Document{
		Users: users,
		Tasks: &TaskTree{
			Normal:           make(NormalTree),
			Repetition:       []RecurringTask{},
			HiddenRepetition: make(HiddenTree),
		},
	}
}

// Complete reports whether all required subtrees are present. A loaded
// document may legitimately have empty subtrees, but an absent one means
// a half-migrated file and is rejected upstream.
func (d *Document) Complete() bool {
	if d == nil || d.Tasks == nil {
		return false
	}
	return d.Tasks.Normal != nil && d.Tasks.Repetition != nil && d.Tasks.HiddenRepetition != nil
}
