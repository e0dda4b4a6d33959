package compiler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rbright/classcal/internal/timetable"
)

const DefaultAlarmBefore = 20 * time.Minute

var ErrSerialization = errors.New("calendar serialization failed")

type Input struct {
	TermStart   timetable.Date
	Sections    timetable.SectionTable
	Courses     []timetable.CourseInfo
	TermName    string
	StudentName string
	Holidays    timetable.HolidayCalendar
	Mode        Mode

	// Location defaults to time.Local, Stamp to time.Now.
	Location *time.Location
	Stamp    time.Time
}

type Result struct {
	CalendarName string
	Events       []CalendarEvent
	ICS          string
}

func CalendarName(termName, studentName string) string {
	return fmt.Sprintf("%s (%s)", termName, studentName)
}

// Compile builds the event list and serializes it. Nothing is returned on
// failure.
func Compile(in Input) (Result, error) {
	events, err := BuildEvents(in)
	if err != nil {
		return Result{}, err
	}

	name := CalendarName(in.TermName, in.StudentName)
	stamp := in.Stamp
	if stamp.IsZero() {
		stamp = time.Now()
	}

	payload, err := Serialize(name, events, stamp)
	if err != nil {
		return Result{}, err
	}

	return Result{CalendarName: name, Events: events, ICS: payload}, nil
}

func BuildEvents(in Input) ([]CalendarEvent, error) {
	if in.TermStart.IsZero() {
		return nil, fmt.Errorf("term start is required")
	}

	loc := in.Location
	if loc == nil {
		loc = time.Local
	}
	mode := in.Mode
	if mode == "" {
		mode = ModeExplicit
	}

	b := builder{
		in:           in,
		loc:          loc,
		calendarName: CalendarName(in.TermName, in.StudentName),
	}

	events := make([]CalendarEvent, 0, len(in.Courses)*8)
	for _, course := range in.Courses {
		if err := course.Validate(); err != nil {
			return nil, err
		}

		var (
			courseEvents []CalendarEvent
			err          error
		)
		switch mode {
		case ModeExplicit:
			courseEvents, err = b.explicit(course)
		case ModeCompressed:
			courseEvents, err = b.compressed(course)
		default:
			return nil, fmt.Errorf("unknown recurrence mode %q", mode)
		}
		if err != nil {
			return nil, err
		}
		events = append(events, courseEvents...)
	}
	return events, nil
}

type builder struct {
	in           Input
	loc          *time.Location
	calendarName string
}

func (b builder) explicit(course timetable.CourseInfo) ([]CalendarEvent, error) {
	hour, minute, err := b.startClock(course)
	if err != nil {
		return nil, err
	}

	events := make([]CalendarEvent, 0, len(course.Weeks))
	for _, week := range course.Weeks {
		date, ok := ResolveDate(b.in.TermStart, week, course.Day, b.in.Holidays)
		if !ok {
			continue
		}
		event := b.event(course, date.In(b.loc, hour, minute))
		event.UID = eventUID(b.calendarName, "|", course.Name, "|", course.Day, "|", course.StartSection(), "|", week)
		events = append(events, event)
	}
	return events, nil
}

// compressed folds a course into one recurring event when its week mask is
// regular and no holiday touches any of its days; otherwise it falls back to
// explicit events.
func (b builder) compressed(course timetable.CourseInfo) ([]CalendarEvent, error) {
	if len(course.Weeks) == 0 {
		return nil, nil
	}

	interval := ClassifyWeekPattern(course.Pattern()).interval()
	if interval == 0 || b.touchesHoliday(course) {
		return b.explicit(course)
	}

	hour, minute, err := b.startClock(course)
	if err != nil {
		return nil, err
	}

	first := BaseDate(b.in.TermStart, course.Weeks[0], course.Day)
	event := b.event(course, first.In(b.loc, hour, minute))
	event.UID = eventUID(b.calendarName, "|", course.Name, "|", course.Day, "|", course.StartSection(), "|rrule")
	event.Recurrence = &Recurrence{
		Interval: interval,
		Until:    weekEnd(b.in.TermStart, course.LastWeek(), b.loc),
	}

	starts, err := event.Occurrences()
	if err != nil {
		return nil, err
	}
	if !b.matchesWeeks(course, starts, hour, minute) {
		return b.explicit(course)
	}
	return []CalendarEvent{event}, nil
}

func (b builder) touchesHoliday(course timetable.CourseInfo) bool {
	for _, week := range course.Weeks {
		if b.in.Holidays.Covers(BaseDate(b.in.TermStart, week, course.Day)) {
			return true
		}
	}
	return false
}

// matchesWeeks checks the rule lands on every class day at the section's
// wall-clock start. When the zone cannot be named in the document the
// UTC offset must also stay fixed, otherwise clients drift an hour at DST.
func (b builder) matchesWeeks(course timetable.CourseInfo, starts []time.Time, hour, minute int) bool {
	if len(starts) != len(course.Weeks) {
		return false
	}
	_, named := zoneID(b.loc)
	_, firstOffset := starts[0].In(b.loc).Zone()
	for i, week := range course.Weeks {
		local := starts[i].In(b.loc)
		if timetable.DateOf(local) != BaseDate(b.in.TermStart, week, course.Day) {
			return false
		}
		if local.Hour() != hour || local.Minute() != minute {
			return false
		}
		if _, offset := local.Zone(); !named && offset != firstOffset {
			return false
		}
	}
	return true
}

func (b builder) startClock(course timetable.CourseInfo) (int, int, error) {
	hour, minute, ok := b.in.Sections.Start(course.StartSection())
	if !ok {
		return 0, 0, fmt.Errorf("course %q: no start time for section %d", course.Name, course.StartSection())
	}
	return hour, minute, nil
}

func (b builder) event(course timetable.CourseInfo, start time.Time) CalendarEvent {
	return CalendarEvent{
		Start:        start,
		Duration:     SectionDuration(len(course.Sections), course.StartSection()),
		Title:        strings.TrimSpace(course.Name),
		Location:     strings.TrimSpace(course.Position),
		Description:  strings.TrimSpace(course.Teacher),
		CalendarName: b.calendarName,
		AlarmBefore:  DefaultAlarmBefore,
	}
}
