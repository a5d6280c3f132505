// Package lifecycle mutates calendar documents: creating, deleting,
// relocating and hiding task instances. Every operation loads the full
// document, mutates it in memory and writes it back through the store,
// which runs the compaction passes on save.
package lifecycle

import (
	"fmt"
	"strings"

	"taskcal/internal/dateutil"
	"taskcal/internal/model"
	"taskcal/internal/store"
)

// Manager performs task mutations against a Store.
type Manager struct {
	store *store.Store
	clock dateutil.Clock
}

// New returns a Manager. clock defaults to the system clock when nil.
func New(s *store.Store, clock dateutil.Clock) *Manager {
	if clock == nil {
		clock = dateutil.SystemClock
	}
	return &Manager{store: s, clock: clock}
}

// NewTask describes a task to create. Year/Month/Day use 0 for "unset";
// all three are required unless HasRepetition is set.
type NewTask struct {
	Year  int
	Month int
	Day   int

	Title     string
	IsAllDay  bool
	StartTime string
	EndTime   string
	Details   string
	Color     string

	HasRepetition     bool
	RepetitionType    string
	RepetitionSubtype string
	RepetitionValue   int
}

// CreateTask validates and stores a new task. Validation failures return
// (false, nil); only load/save problems produce an error.
//
// Empty details are stored as a placeholder marker so cleared details
// stay distinguishable, and newlines become explicit line-break markup
// for rendering.
func (m *Manager) CreateTask(calendarID string, nt NewTask) (bool, error) {
	if nt.HasRepetition {
		if nt.RepetitionType == model.RepetitionTypeMonthly &&
			nt.RepetitionSubtype == model.RepetitionSubtypeMonthDay &&
			nt.RepetitionValue == 0 {
			// 0 is not a valid day of month.
			return false, nil
		}
	} else if nt.Year == 0 || nt.Month == 0 || nt.Day == 0 {
		return false, nil
	}

	doc, err := m.store.Load(calendarID)
	if err != nil {
		return false, err
	}
	if !doc.Complete() {
		return false, fmt.Errorf("create task: %w", store.ErrIncompleteData)
	}

	details := strings.ReplaceAll(nt.Details, "\r", "")
	details = strings.ReplaceAll(details, "\n", model.LineBreak)
	if details == "" {
		details = model.DetailsPlaceholder
	}

	endTime := nt.EndTime
	if endTime == "" {
		endTime = nt.StartTime
	}

	task := model.Task{
		// Ids are derived from creation time at seconds resolution, so
		// two tasks created within the same second can collide. Known
		// limitation, kept for compatibility with existing documents.
		ID:        m.clock().Unix(),
		Title:     nt.Title,
		Details:   details,
		Color:     nt.Color,
		IsAllDay:  nt.IsAllDay,
		StartTime: nt.StartTime,
		EndTime:   endTime,
	}

	if nt.HasRepetition {
		doc.Tasks.Repetition = append(doc.Tasks.Repetition, model.RecurringTask{
			Task:              task,
			RepetitionType:    nt.RepetitionType,
			RepetitionSubtype: nt.RepetitionSubtype,
			RepetitionValue:   nt.RepetitionValue,
		})
	} else {
		doc.Tasks.Normal.Append(nt.Year, nt.Month, nt.Day, task)
	}

	if err := m.store.Save(calendarID, doc); err != nil {
		return false, err
	}
	return true, nil
}

// DeleteTask removes a task by id. It first tries the one-off tree at the
// exact (year, month, day); when the id is not there it falls back to the
// repetition list, and a deleted series takes its whole hidden-repetition
// subtree with it, since exception records for a dead series are
// meaningless.
func (m *Manager) DeleteTask(calendarID string, year, month, day int, taskID int64) error {
	doc, err := m.store.Load(calendarID)
	if err != nil {
		return err
	}
	if !doc.Complete() {
		return fmt.Errorf("delete task: %w", store.ErrIncompleteData)
	}

	deleted := false
	bucket := doc.Tasks.Normal.DayTasks(year, month, day)
	for i, t := range bucket {
		if t.ID == taskID {
			doc.Tasks.Normal[year][month][day] = append(bucket[:i], bucket[i+1:]...)
			deleted = true
			break
		}
	}

	if !deleted {
		for i, rt := range doc.Tasks.Repetition {
			if rt.ID == taskID {
				doc.Tasks.Repetition = append(doc.Tasks.Repetition[:i], doc.Tasks.Repetition[i+1:]...)
				delete(doc.Tasks.HiddenRepetition, taskID)
				break
			}
		}
	}

	return m.store.Save(calendarID, doc)
}

// UpdateTaskDay moves a one-off task to another day of the same month.
// When the task is not at the stated old location the document is left
// untouched.
func (m *Manager) UpdateTaskDay(calendarID string, year, month, day int, taskID int64, newDay int) error {
	doc, err := m.store.Load(calendarID)
	if err != nil {
		return err
	}
	if !doc.Complete() {
		return fmt.Errorf("move task: %w", store.ErrIncompleteData)
	}

	bucket := doc.Tasks.Normal.DayTasks(year, month, day)
	moved := (*model.Task)(nil)
	for i, t := range bucket {
		if t.ID == taskID {
			task := t
			moved = &task
			doc.Tasks.Normal[year][month][day] = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if moved == nil {
		return nil
	}

	doc.Tasks.Normal.Append(year, month, newDay, *moved)
	return m.store.Save(calendarID, doc)
}

// HideRepetitionTaskInstance marks one occurrence of a recurring task as
// hidden. For weekly rules the day identifies the occurrence; monthly
// rules are suppressed for the whole month regardless of the day
// recorded, per the hidden-tree granularity asymmetry. Idempotent.
func (m *Manager) HideRepetitionTaskInstance(calendarID string, taskID int64, year, month, day int) error {
	doc, err := m.store.Load(calendarID)
	if err != nil {
		return err
	}
	if !doc.Complete() {
		return fmt.Errorf("hide task instance: %w", store.ErrIncompleteData)
	}

	doc.Tasks.HiddenRepetition.Hide(taskID, year, month, day)
	return m.store.Save(calendarID, doc)
}
