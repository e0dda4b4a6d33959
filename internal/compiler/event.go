package compiler

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/teambition/rrule-go"
)

var eventNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/rbright/classcal/events"))

// Recurrence repeats an event every Interval weeks up to and including Until.
type Recurrence struct {
	Interval int
	Until    time.Time
}

type CalendarEvent struct {
	UID          string
	Start        time.Time
	Duration     time.Duration
	Title        string
	Location     string
	Description  string
	CalendarName string
	AlarmBefore  time.Duration
	Recurrence   *Recurrence
}

func (e CalendarEvent) End() time.Time {
	return e.Start.Add(e.Duration)
}

func (e CalendarEvent) option() rrule.ROption {
	return rrule.ROption{
		Freq:     rrule.WEEKLY,
		Interval: e.Recurrence.Interval,
		Until:    e.Recurrence.Until,
		Dtstart:  e.Start,
	}
}

// RRule renders the RRULE value, or "" for single events.
func (e CalendarEvent) RRule() string {
	if e.Recurrence == nil {
		return ""
	}
	opt := e.option()
	opt.Dtstart = time.Time{}
	return opt.RRuleString()
}

// Occurrences lists every start time the event stands for.
func (e CalendarEvent) Occurrences() ([]time.Time, error) {
	if e.Recurrence == nil {
		return []time.Time{e.Start}, nil
	}

	rule, err := rrule.NewRRule(e.option())
	if err != nil {
		return nil, fmt.Errorf("build rrule for %q: %w", e.Title, err)
	}
	return rule.All(), nil
}

func eventUID(parts ...any) string {
	return uuid.NewSHA1(eventNamespace, []byte(fmt.Sprint(parts...))).String()
}

func CountOccurrences(events []CalendarEvent) (int, error) {
	total := 0
	for _, event := range events {
		starts, err := event.Occurrences()
		if err != nil {
			return 0, err
		}
		total += len(starts)
	}
	return total, nil
}
