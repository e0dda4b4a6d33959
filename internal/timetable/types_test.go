package timetable

import (
	"encoding/json"
	"testing"
)

func TestSectionList_DecodesBothShapes(t *testing.T) {
	t.Parallel()

	for _, payload := range []string{
		`{"name":"Math","day":3,"sections":[1,2],"weeks":[1,2,3]}`,
		`{"name":"Math","day":3,"sections":[{"section":1},{"section":2}],"weeks":[1,2,3]}`,
	} {
		var course CourseInfo
		if err := json.Unmarshal([]byte(payload), &course); err != nil {
			t.Fatalf("decode %s: %v", payload, err)
		}
		if len(course.Sections) != 2 || course.StartSection() != 1 {
			t.Fatalf("unexpected sections: %v", course.Sections)
		}
		if err := course.Validate(); err != nil {
			t.Fatalf("validate: %v", err)
		}
	}
}

func TestCourseInfo_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		course CourseInfo
	}{
		{name: "weekday_zero", course: CourseInfo{Day: 0, Sections: SectionList{1}, Weeks: []int{1}}},
		{name: "weekday_eight", course: CourseInfo{Day: 8, Sections: SectionList{1}, Weeks: []int{1}}},
		{name: "no_sections", course: CourseInfo{Day: 1, Weeks: []int{1}}},
		{name: "gap_in_sections", course: CourseInfo{Day: 1, Sections: SectionList{1, 3}, Weeks: []int{1}}},
		{name: "weeks_not_increasing", course: CourseInfo{Day: 1, Sections: SectionList{1}, Weeks: []int{2, 2}}},
		{name: "week_zero", course: CourseInfo{Day: 1, Sections: SectionList{1}, Weeks: []int{0, 1}}},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if err := tc.course.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestCourseInfo_Pattern(t *testing.T) {
	t.Parallel()

	course := CourseInfo{Weeks: []int{1, 3, 5, 7, 9, 11}}
	if got := course.Pattern(); got != 0b0101010101 {
		t.Fatalf("Pattern() = %010b", got)
	}

	explicit := 0b1111111111
	course.WeekPattern = &explicit
	if got := course.Pattern(); got != explicit {
		t.Fatalf("Pattern() = %010b, want explicit", got)
	}
}

func TestSectionTable(t *testing.T) {
	t.Parallel()

	table, err := NewSectionTable(DefaultSectionTimes())
	if err != nil {
		t.Fatalf("new table: %v", err)
	}
	hour, minute, ok := table.Start(3)
	if !ok || hour != 10 || minute != 0 {
		t.Fatalf("Start(3) = %02d:%02d %v", hour, minute, ok)
	}
	if _, _, ok := table.Start(14); ok {
		t.Fatalf("expected section 14 to be missing")
	}

	if _, err := NewSectionTable([]SectionTime{{Section: 1, StartTime: "8h"}}); err == nil {
		t.Fatalf("expected invalid start time error")
	}
	if _, err := NewSectionTable([]SectionTime{{Section: 1, StartTime: "08:00"}, {Section: 1, StartTime: "09:00"}}); err == nil {
		t.Fatalf("expected duplicate section error")
	}
}

func TestDate_AddDays(t *testing.T) {
	t.Parallel()

	start := mustDate(t, "2025-02-17")
	if got := start.AddDays(16).String(); got != "2025-03-05" {
		t.Fatalf("AddDays(16) = %s", got)
	}
	if got := mustDate(t, "2024-12-30").AddDays(3).String(); got != "2025-01-02" {
		t.Fatalf("AddDays across year = %s", got)
	}
}
