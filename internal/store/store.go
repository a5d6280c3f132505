// Package store owns loading, querying and saving calendar documents.
// One JSON file per calendar id lives under the configured data
// directory; every save runs the compaction passes before writing.
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"taskcal/internal/dateutil"
	applog "taskcal/internal/log"
	"taskcal/internal/model"
)

var (
	// ErrNotFound means the calendar document or the requested task does
	// not exist.
	ErrNotFound = errors.New("not found")

	// ErrIncompleteData means a loaded document is missing required
	// subtrees. Never defaulted silently; a half-migrated document
	// indicates a bug upstream.
	ErrIncompleteData = errors.New("incomplete calendar data")

	// ErrInvalidFormat means the file content is not a calendar document
	// at the top level.
	ErrInvalidFormat = errors.New("invalid calendar format")
)

// Store reads and writes calendar documents in a data directory.
type Store struct {
	dataDir string

	// retentionMonths is how many whole past months of hidden-repetition
	// entries survive a save. 0 keeps only the current month onwards.
	retentionMonths int

	clock dateutil.Clock
}

// New returns a Store over dataDir. retentionMonths controls hidden-entry
// garbage collection; clock defaults to the system clock when nil.
func New(dataDir string, retentionMonths int, clock dateutil.Clock) *Store {
	if clock == nil {
		clock = dateutil.SystemClock
	}
	if retentionMonths < 0 {
		retentionMonths = 0
	}
	return &Store{dataDir: dataDir, retentionMonths: retentionMonths, clock: clock}
}

func (s *Store) path(calendarID string) (string, error) {
	// Calendar ids come straight from URLs; keep them to a single path
	// element.
	if calendarID == "" || strings.ContainsAny(calendarID, `/\`) || strings.Contains(calendarID, "..") {
		return "", fmt.Errorf("calendar %q: %w", calendarID, ErrNotFound)
	}
	return filepath.Join(s.dataDir, calendarID+".json"), nil
}

// Load reads and parses the document for calendarID.
func (s *Store) Load(calendarID string) (*model.Document, error) {
	path, err := s.path(calendarID)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("calendar %q: %w", calendarID, ErrNotFound)
		}
		return nil, fmt.Errorf("read calendar %q: %w", calendarID, err)
	}

	// The top level must be a JSON object. Unmarshal alone lets "null"
	// through as a zero-value document.
	if trimmed := bytes.TrimSpace(data); len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("calendar %q: %w: top level is not an object", calendarID, ErrInvalidFormat)
	}

	var doc model.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("calendar %q: %w: %v", calendarID, ErrInvalidFormat, err)
	}
	return &doc, nil
}

// UsersList returns the user ids with access to the document.
func (s *Store) UsersList(doc *model.Document) ([]string, error) {
	if doc == nil || doc.Users == nil {
		return nil, fmt.Errorf("users: %w", ErrIncompleteData)
	}
	return doc.Users, nil
}

// TasksFromCalendar returns the month's one-off tasks as a day → tasks
// map. All three task subtrees must be present, even if empty.
func (s *Store) TasksFromCalendar(year, month int, doc *model.Document) (model.DayMap, error) {
	if !doc.Complete() {
		return nil, fmt.Errorf("tasks for %d-%d: %w", year, month, ErrIncompleteData)
	}

	tasks := make(model.DayMap)
	for day, list := range doc.Tasks.Normal[year][month] {
		bucket := make([]model.Occurrence, 0, len(list))
		for _, t := range list {
			bucket = append(bucket, model.OccurrenceFromTask(t))
		}
		tasks[day] = bucket
	}
	return tasks, nil
}

// TaskFromCalendar looks up a one-off task by id at the exact day. The
// returned copy is annotated with repeats=false and a display date.
func (s *Store) TaskFromCalendar(doc *model.Document, year, month, day int, taskID int64) (model.Occurrence, error) {
	if !doc.Complete() {
		return model.Occurrence{}, fmt.Errorf("task %d: %w", taskID, ErrIncompleteData)
	}
	for _, t := range doc.Tasks.Normal.DayTasks(year, month, day) {
		if t.ID == taskID {
			occ := model.OccurrenceFromTask(t)
			occ.Date = model.DateForFrontend(year, month, day)
			return occ, nil
		}
	}
	return model.Occurrence{}, fmt.Errorf("task %d: %w", taskID, ErrNotFound)
}

// RepetitiveTaskFromCalendar looks up a recurring task by id. The display
// date is pinned to day 1 of the requested month.
func (s *Store) RepetitiveTaskFromCalendar(doc *model.Document, year, month int, taskID int64) (model.Occurrence, error) {
	if !doc.Complete() {
		return model.Occurrence{}, fmt.Errorf("repetitive task %d: %w", taskID, ErrIncompleteData)
	}
	for _, rt := range doc.Tasks.Repetition {
		if rt.ID == taskID {
			occ := model.OccurrenceFromRecurring(rt)
			occ.Date = model.DateForFrontend(year, month, 1)
			return occ, nil
		}
	}
	return model.Occurrence{}, fmt.Errorf("repetitive task %d: %w", taskID, ErrNotFound)
}

// Save compacts and persists the document. The write goes through a temp
// file and rename, so a failed save leaves the previous file intact.
func (s *Store) Save(calendarID string, doc *model.Document) error {
	path, err := s.path(calendarID)
	if err != nil {
		return err
	}
	if !doc.Complete() {
		return fmt.Errorf("save calendar %q: %w", calendarID, ErrIncompleteData)
	}

	s.clearEmptyEntries(doc)
	s.clearPastHiddenEntries(doc)

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode calendar %q: %w", calendarID, err)
	}

	if err := os.MkdirAll(s.dataDir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dataDir, "."+calendarID+"-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// CalendarIDs lists every calendar present in the data directory.
func (s *Store) CalendarIDs() ([]string, error) {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}

// Sweep re-saves every calendar so that compaction and hidden-entry
// retention run even for calendars nobody has touched. Returns how many
// calendars were rewritten.
func (s *Store) Sweep() (int, error) {
	ids, err := s.CalendarIDs()
	if err != nil {
		return 0, err
	}
	swept := 0
	for _, id := range ids {
		doc, err := s.Load(id)
		if err != nil {
			applog.Warn("gc sweep: skipping calendar", "calendar", id, "reason", err)
			continue
		}
		if !doc.Complete() {
			applog.Warn("gc sweep: skipping incomplete calendar", "calendar", id)
			continue
		}
		if err := s.Save(id, doc); err != nil {
			return swept, fmt.Errorf("gc sweep: %w", err)
		}
		swept++
	}
	return swept, nil
}

// clearEmptyEntries strips day/month/year nodes of the one-off tree whose
// list or subtree is empty, bottom-up.
func (s *Store) clearEmptyEntries(doc *model.Document) {
	normal := doc.Tasks.Normal
	for year, months := range normal {
		for month, days := range months {
			for day, list := range days {
				if len(list) == 0 {
					delete(days, day)
				}
			}
			if len(days) == 0 {
				delete(months, month)
			}
		}
		if len(months) == 0 {
			delete(normal, year)
		}
	}
}

// clearPastHiddenEntries drops hidden-repetition month entries older than
// the retention window, then the empty year and task-id branches above
// them. Stale hides would never be consulted again and only bloat the
// document.
func (s *Store) clearPastHiddenEntries(doc *model.Document) {
	_, curMonth, curYear := dateutil.CurrentDate(s.clock)
	cutoff := curYear*12 + (curMonth - 1) - s.retentionMonths

	hidden := doc.Tasks.HiddenRepetition
	for taskID, years := range hidden {
		for year, months := range years {
			for month := range months {
				if year*12+(month-1) < cutoff {
					delete(months, month)
				}
			}
			if len(months) == 0 {
				delete(years, year)
			}
		}
		if len(years) == 0 {
			delete(hidden, taskID)
		}
	}
}
