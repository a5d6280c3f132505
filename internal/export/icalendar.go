// Package export renders a calendar document as an iCalendar feed.
//
// One-off tasks become plain VEVENTs. Recurring tasks become a single
// VEVENT carrying an RRULE, with hidden instances inside the export
// horizon emitted as EXDATEs, so subscribing clients see the same
// occurrences the month view shows.
package export

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	"taskcal/internal/dateutil"
	applog "taskcal/internal/log"
	"taskcal/internal/model"
	"taskcal/internal/recurrence"
	"taskcal/internal/store"
)

// Exporter builds ICS feeds from calendar documents.
type Exporter struct {
	store  *store.Store
	engine *recurrence.Engine
	clock  dateutil.Clock

	// timezone is the stored IANA name stamped onto timed events. It is
	// passed through, not converted.
	timezone string
	months   int
}

// New returns an Exporter covering the next months months.
func New(s *store.Store, e *recurrence.Engine, clock dateutil.Clock, timezone string, months int) *Exporter {
	if clock == nil {
		clock = dateutil.SystemClock
	}
	if months <= 0 {
		months = 6
	}
	return &Exporter{store: s, engine: e, clock: clock, timezone: timezone, months: months}
}

// Export writes the ICS feed for doc to w. username only brands the
// PRODID and UIDs; authorization happens at the call site.
func (e *Exporter) Export(username, calendarID string, doc *model.Document, w io.Writer) error {
	if !doc.Complete() {
		return fmt.Errorf("export calendar %q: %w", calendarID, store.ErrIncompleteData)
	}

	name := doc.Name
	if name == "" {
		name = calendarID
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(fmt.Sprintf("-//%s//%s//EN", username, name))
	cal.SetXWRCalName(name)

	loc := e.location()
	_, curMonth, curYear := dateutil.CurrentDate(e.clock)

	// Months are exported starting right after the current one, like the
	// month navigation does.
	year, month := curYear, curMonth
	for i := 0; i < e.months; i++ {
		month, year = dateutil.NextMonthAndYear(year, month)
		tasks, err := e.store.TasksFromCalendar(year, month, doc)
		if err != nil {
			return err
		}
		e.addOneOffEvents(cal, username, year, month, tasks, loc)
	}

	e.addRecurringEvents(cal, username, curYear, curMonth, doc, loc)

	_, err := io.WriteString(w, cal.Serialize())
	return err
}

func (e *Exporter) location() *time.Location {
	loc, err := time.LoadLocation(e.timezone)
	if err != nil {
		applog.Warn("export: unknown timezone, using UTC", "timezone", e.timezone)
		return time.UTC
	}
	return loc
}

func (e *Exporter) addOneOffEvents(cal *ical.Calendar, username string, year, month int, tasks model.DayMap, loc *time.Location) {
	days := make([]int, 0, len(tasks))
	for day := range tasks {
		days = append(days, day)
	}
	sort.Ints(days)

	for _, day := range days {
		for _, occ := range tasks[day] {
			ev := cal.AddEvent(fmt.Sprintf("%d@%s", occ.ID, username))
			ev.SetSummary(occ.Title)
			ev.SetDescription(plainDetails(occ.Details))

			start, end, allDay := eventTimes(year, month, day, occ.Task, loc)
			if allDay {
				ev.SetAllDayStartAt(start)
				ev.SetAllDayEndAt(end)
			} else {
				ev.SetStartAt(start)
				ev.SetEndAt(end)
			}
		}
	}
}

func (e *Exporter) addRecurringEvents(cal *ical.Calendar, username string, curYear, curMonth int, doc *model.Document, loc *time.Location) {
	hidden := doc.Tasks.HiddenRepetition

	for _, rt := range doc.Tasks.Repetition {
		ruleStr, ok := ruleString(rt)
		if !ok {
			applog.Warn("export: skipping task with unsupported repetition rule",
				"task_id", rt.ID, "type", rt.RepetitionType, "subtype", rt.RepetitionSubtype)
			continue
		}

		var firstVisible time.Time
		var firstAny time.Time
		var exdates []time.Time

		year, month := curYear, curMonth
		for i := 0; i < e.months; i++ {
			month, year = dateutil.NextMonthAndYear(year, month)
			for _, day := range ruleDaysInMonth(rt, year, month) {
				start, _, _ := eventTimes(year, month, day, rt.Task, loc)
				if firstAny.IsZero() {
					firstAny = start
				}
				if isHidden(hidden, rt, year, month, day) {
					exdates = append(exdates, start)
				} else if firstVisible.IsZero() {
					firstVisible = start
				}
			}
		}

		if firstAny.IsZero() {
			// Rule never fires inside the horizon (e.g. day 31 across
			// short months only).
			continue
		}
		dtstart := firstVisible
		if dtstart.IsZero() {
			dtstart = firstAny
		}

		ev := cal.AddEvent(fmt.Sprintf("%d@%s", rt.ID, username))
		ev.SetSummary(rt.Title + " [R]")
		ev.SetDescription(plainDetails(rt.Details))
		ev.AddProperty(ical.ComponentPropertyRrule, ruleStr)

		_, end, allDay := eventTimes(dtstart.Year(), int(dtstart.Month()), dtstart.Day(), rt.Task, loc)
		if allDay {
			ev.SetAllDayStartAt(dtstart)
			ev.SetAllDayEndAt(end)
		} else {
			ev.SetStartAt(dtstart)
			ev.SetEndAt(end)
		}

		// EXDATE value types must match DTSTART: DATE for all-day series,
		// local DATE-TIME otherwise.
		for _, ex := range exdates {
			if ex.Before(dtstart) {
				continue
			}
			if allDay {
				ev.AddProperty(ical.ComponentPropertyExdate, ex.Format("20060102"),
					ical.WithValue(string(ical.ValueDataTypeDate)))
			} else {
				ev.AddProperty(ical.ComponentPropertyExdate, ex.Format("20060102T150405"))
			}
		}
	}
}

// ruleString renders the repetition rule as an RFC 5545 RRULE value.
func ruleString(rt model.RecurringTask) (string, bool) {
	switch rt.RepetitionType {
	case model.RepetitionTypeWeekly:
		wd, ok := rruleWeekday(rt.RepetitionValue)
		if !ok {
			return "", false
		}
		opt := rrule.ROption{Freq: rrule.WEEKLY, Byweekday: []rrule.Weekday{wd}}
		if _, err := rrule.NewRRule(opt); err != nil {
			return "", false
		}
		return opt.RRuleString(), true
	case model.RepetitionTypeMonthly:
		if rt.RepetitionSubtype == model.RepetitionSubtypeWeekDay {
			wd, ok := rruleWeekday(rt.RepetitionValue)
			if !ok {
				return "", false
			}
			opt := rrule.ROption{Freq: rrule.MONTHLY, Byweekday: []rrule.Weekday{wd.Nth(1)}}
			if _, err := rrule.NewRRule(opt); err != nil {
				return "", false
			}
			return opt.RRuleString(), true
		}
		if rt.RepetitionValue < 1 || rt.RepetitionValue > 31 {
			return "", false
		}
		opt := rrule.ROption{Freq: rrule.MONTHLY, Bymonthday: []int{rt.RepetitionValue}}
		if _, err := rrule.NewRRule(opt); err != nil {
			return "", false
		}
		return opt.RRuleString(), true
	}
	return "", false
}

// rruleWeekday maps a stored weekday index (0 = Monday) to rrule-go.
func rruleWeekday(value int) (rrule.Weekday, bool) {
	weekdays := []rrule.Weekday{rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA, rrule.SU}
	if value < 0 || value >= len(weekdays) {
		return rrule.Weekday{}, false
	}
	return weekdays[value], true
}

// ruleDaysInMonth lists the days the rule would fire on, ignoring hidden
// entries.
func ruleDaysInMonth(rt model.RecurringTask, year, month int) []int {
	var days []int
	for _, week := range dateutil.MonthDaysWithWeekday(year, month, dateutil.WeekStartMonday) {
		for weekday, day := range week {
			if day == 0 {
				continue
			}
			switch rt.RepetitionType {
			case model.RepetitionTypeWeekly:
				if rt.RepetitionValue == weekday {
					days = append(days, day)
				}
			case model.RepetitionTypeMonthly:
				if rt.RepetitionSubtype == model.RepetitionSubtypeWeekDay {
					if rt.RepetitionValue == weekday && len(days) == 0 {
						days = append(days, day)
					}
				} else if rt.RepetitionValue == day {
					days = append(days, day)
				}
			}
		}
	}
	return days
}

func isHidden(hidden model.HiddenTree, rt model.RecurringTask, year, month, day int) bool {
	if rt.RepetitionType == model.RepetitionTypeMonthly {
		return hidden.HiddenForMonth(rt.ID, year, month)
	}
	return hidden.HiddenForDay(rt.ID, year, month, day)
}

// eventTimes computes start/end for a task on a given day. Tasks without
// a parseable start time fall back to all-day.
func eventTimes(year, month, day int, t model.Task, loc *time.Location) (start, end time.Time, allDay bool) {
	date := time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc)

	if t.IsAllDay {
		return date, date.AddDate(0, 0, 1), true
	}

	sh, sm, ok := parseClock(t.StartTime)
	if !ok {
		return date, date.AddDate(0, 0, 1), true
	}
	start = time.Date(year, time.Month(month), day, sh, sm, 0, 0, loc)

	if eh, em, ok := parseClock(t.EndTime); ok {
		end = time.Date(year, time.Month(month), day, eh, em, 0, 0, loc)
	}
	if !end.After(start) {
		// Match the historical export convention: one hour long, capped
		// at end of day.
		end = start.Add(time.Hour)
		if end.Day() != start.Day() {
			end = time.Date(year, time.Month(month), day, 23, 59, 0, 0, loc)
		}
	}
	return start, end, false
}

// parseClock parses "HH:MM" wall-clock strings.
func parseClock(s string) (hour, minute int, ok bool) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	h, err1 := parseIntStrict(parts[0])
	m, err2 := parseIntStrict(parts[1])
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, false
	}
	return h, m, true
}

func parseIntStrict(s string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0, err
	}
	return n, nil
}

// plainDetails strips the storage markup from task details.
func plainDetails(details string) string {
	if details == model.DetailsPlaceholder {
		return ""
	}
	return strings.ReplaceAll(details, model.LineBreak, " ")
}
