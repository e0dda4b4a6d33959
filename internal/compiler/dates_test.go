package compiler

import (
	"testing"
	"time"

	"github.com/rbright/classcal/internal/timetable"
)

func mustDate(t *testing.T, value string) timetable.Date {
	t.Helper()
	d, err := timetable.ParseDate(value)
	if err != nil {
		t.Fatalf("parse date: %v", err)
	}
	return d
}

func TestResolveDate_WithoutHolidays(t *testing.T) {
	t.Parallel()

	termStart := mustDate(t, "2025-02-17")
	start := time.Date(2025, 2, 17, 0, 0, 0, 0, time.UTC)

	for week := 1; week <= 20; week++ {
		for weekday := 1; weekday <= 7; weekday++ {
			got, ok := ResolveDate(termStart, week, weekday, timetable.HolidayCalendar{})
			if !ok {
				t.Fatalf("week %d day %d unexpectedly suppressed", week, weekday)
			}
			want := timetable.DateOf(start.AddDate(0, 0, (week-1)*7+weekday-1))
			if got != want {
				t.Fatalf("ResolveDate(%d, %d) = %s, want %s", week, weekday, got, want)
			}
		}
	}
}

func TestResolveDate_Holidays(t *testing.T) {
	t.Parallel()

	holidays, err := timetable.NewHolidayCalendar([]timetable.HolidayReplacement{
		{
			Topic: "National Day",
			From:  mustDate(t, "2024-10-01"),
			To:    mustDate(t, "2024-10-07"),
			Replace: map[timetable.Date]timetable.Date{
				mustDate(t, "2024-10-04"): mustDate(t, "2024-09-29"),
			},
		},
	})
	if err != nil {
		t.Fatalf("holidays: %v", err)
	}

	termStart := mustDate(t, "2024-09-09")

	got, ok := ResolveDate(termStart, 4, 5, holidays)
	if !ok || got.String() != "2024-09-29" {
		t.Fatalf("expected substitute 2024-09-29, got %s %v", got, ok)
	}

	if _, ok := ResolveDate(termStart, 4, 2, holidays); ok {
		t.Fatalf("expected 2024-10-01 to be suppressed")
	}
}

func TestSectionDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		length       int
		startSection int
		minutes      int
	}{
		{name: "single", length: 1, startSection: 1, minutes: 45},
		{name: "pair_odd_start", length: 2, startSection: 1, minutes: 100},
		{name: "pair_even_start", length: 2, startSection: 2, minutes: 110},
		{name: "triple_even_start", length: 3, startSection: 2, minutes: 165},
		{name: "four_odd_start", length: 4, startSection: 1, minutes: 220},
		{name: "four_even_start", length: 4, startSection: 2, minutes: 230},
		{name: "empty", length: 0, startSection: 1, minutes: 0},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := SectionDuration(tc.length, tc.startSection)
			if got != time.Duration(tc.minutes)*time.Minute {
				t.Fatalf("SectionDuration(%d, %d) = %s, want %dm", tc.length, tc.startSection, got, tc.minutes)
			}
		})
	}
}

func TestSectionDuration_MatchesDefaultGrid(t *testing.T) {
	t.Parallel()

	table, err := timetable.NewSectionTable(timetable.DefaultSectionTimes())
	if err != nil {
		t.Fatalf("section table: %v", err)
	}

	for start := 1; start < table.Len(); start++ {
		hour, minute, _ := table.Start(start)
		nextHour, nextMinute, _ := table.Start(start + 1)
		gap := time.Duration((nextHour-hour)*60+nextMinute-minute) * time.Minute

		want := gap + 45*time.Minute
		if got := SectionDuration(2, start); got != want {
			t.Fatalf("two sections from %d: got %s, grid says %s", start, got, want)
		}
	}
}

func TestClassifyWeekPattern(t *testing.T) {
	t.Parallel()

	tests := []struct {
		pattern int
		want    PatternKind
	}{
		{pattern: 0b0101010101, want: PatternOddEven},
		{pattern: 0b1010101010, want: PatternOddEven},
		{pattern: 0b1111111111, want: PatternContinuous},
		{pattern: 0b0000000000, want: PatternContinuous},
		{pattern: 0b0000011111, want: PatternContinuous},
		{pattern: 0b0011111100, want: PatternContinuous},
		{pattern: 0b1110000111, want: PatternContinuous},
		{pattern: 0b0101000101, want: PatternOther},
		{pattern: 0b0010101010, want: PatternOther},
	}

	for _, tc := range tests {
		if got := ClassifyWeekPattern(tc.pattern); got != tc.want {
			t.Fatalf("ClassifyWeekPattern(%010b) = %s, want %s", tc.pattern, got, tc.want)
		}
	}
}

func TestParseMode(t *testing.T) {
	t.Parallel()

	for input, want := range map[string]Mode{"": ModeExplicit, "Explicit": ModeExplicit, "compressed": ModeCompressed} {
		got, err := ParseMode(input)
		if err != nil || got != want {
			t.Fatalf("ParseMode(%q) = %q, %v", input, got, err)
		}
	}
	if _, err := ParseMode("weekly"); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}
