package compiler

import (
	"time"

	"github.com/rbright/classcal/internal/timetable"
)

const (
	sectionMinutes = 45
	shortBreak     = 10
	longBreak      = 20
)

// BaseDate is the scheduled day of (week, weekday) before holiday shifts.
func BaseDate(termStart timetable.Date, week, weekday int) timetable.Date {
	return termStart.AddDays((week-1)*7 + (weekday - 1))
}

// ResolveDate applies the holiday calendar to the scheduled day. ok is false
// when the occurrence is suppressed.
func ResolveDate(termStart timetable.Date, week, weekday int, holidays timetable.HolidayCalendar) (timetable.Date, bool) {
	return holidays.Resolve(BaseDate(termStart, week, weekday))
}

// SectionDuration is the span of length contiguous sections starting at
// startSection. Breaks alternate; a block starting on an even section hits the
// long break first.
func SectionDuration(length, startSection int) time.Duration {
	if length <= 0 {
		return 0
	}

	gapA, gapB := longBreak, shortBreak
	if startSection%2 == 0 {
		gapA, gapB = shortBreak, longBreak
	}

	minutes := length*sectionMinutes + (length-1)/2*gapA + length/2*gapB
	return time.Duration(minutes) * time.Minute
}

// weekEnd is the last instant of the day before week+1 starts.
func weekEnd(termStart timetable.Date, week int, loc *time.Location) time.Time {
	return termStart.AddDays(week*7-1).In(loc, 23, 59).Add(59 * time.Second)
}
