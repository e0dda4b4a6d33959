package compiler

import (
	"fmt"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"
)

const (
	productID        = "-//rbright//classcal//EN"
	alarmDescription = "Class starts in 20 minutes"

	localTimestamp = "20060102T150405"
)

// Serialize renders events as an iCalendar document. Any malformed event
// fails the whole document.
func Serialize(calendarName string, events []CalendarEvent, stamp time.Time) (string, error) {
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId(productID)
	if strings.TrimSpace(calendarName) != "" {
		cal.SetXWRCalName(calendarName)
	}
	if len(events) > 0 {
		if tzid, ok := zoneID(events[0].Start.Location()); ok {
			cal.SetXWRTimezone(tzid)
		}
	}

	for i, event := range events {
		if err := validateEvent(event); err != nil {
			return "", fmt.Errorf("%w: event %d: %v", ErrSerialization, i, err)
		}

		uid := event.UID
		if uid == "" {
			uid = eventUID(calendarName, "|", event.Title, "|", event.Start.UTC().Format(time.RFC3339))
		}

		vevent := cal.AddEvent(uid)
		vevent.SetDtStampTime(stamp)
		setTimes(vevent, event)
		vevent.SetSummary(event.Title)
		if event.Location != "" {
			vevent.SetLocation(event.Location)
		}
		if event.Description != "" {
			vevent.SetDescription(event.Description)
		}
		if rule := event.RRule(); rule != "" {
			vevent.AddRrule(rule)
		}

		if event.AlarmBefore > 0 {
			alarm := vevent.AddAlarm()
			alarm.SetAction(ics.ActionDisplay)
			alarm.SetTrigger(triggerBefore(event.AlarmBefore))
			alarm.SetProperty(ics.ComponentPropertyDescription, alarmDescription)
		}
	}

	return cal.Serialize(), nil
}

// setTimes writes DTSTART/DTEND as wall-clock times with a TZID when the
// zone has an IANA name, so recurrences keep their local hour across DST.
// Anything else is written in UTC.
func setTimes(vevent *ics.VEvent, event CalendarEvent) {
	tzid, ok := zoneID(event.Start.Location())
	if !ok {
		vevent.SetStartAt(event.Start)
		vevent.SetEndAt(event.End())
		return
	}
	loc := event.Start.Location()
	vevent.SetProperty(ics.ComponentPropertyDtStart, event.Start.In(loc).Format(localTimestamp), ics.WithTZID(tzid))
	vevent.SetProperty(ics.ComponentPropertyDtEnd, event.End().In(loc).Format(localTimestamp), ics.WithTZID(tzid))
}

// zoneID reports the IANA name of loc. UTC and Local have none worth
// writing.
func zoneID(loc *time.Location) (string, bool) {
	if loc == nil || loc == time.UTC || loc == time.Local {
		return "", false
	}
	switch name := loc.String(); name {
	case "", "UTC", "Local":
		return "", false
	default:
		return name, true
	}
}

func validateEvent(event CalendarEvent) error {
	if strings.TrimSpace(event.Title) == "" {
		return fmt.Errorf("missing title")
	}
	if event.Start.IsZero() {
		return fmt.Errorf("%q has no start time", event.Title)
	}
	if event.Duration <= 0 {
		return fmt.Errorf("%q has non-positive duration %s", event.Title, event.Duration)
	}
	if event.Recurrence != nil {
		if event.Recurrence.Interval < 1 {
			return fmt.Errorf("%q has recurrence interval %d", event.Title, event.Recurrence.Interval)
		}
		if event.Recurrence.Until.Before(event.Start) {
			return fmt.Errorf("%q recurs until %s, before it starts", event.Title, event.Recurrence.Until)
		}
	}
	return nil
}

func triggerBefore(d time.Duration) string {
	return fmt.Sprintf("-PT%dM", int(d.Minutes()))
}
