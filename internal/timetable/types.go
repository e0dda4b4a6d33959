package timetable

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// PatternWeeks is the number of weeks a WeekPattern covers.
const PatternWeeks = 10

type SectionTime struct {
	Section   int    `json:"section"`
	StartTime string `json:"startTime"`
}

// Clock parses StartTime as HH:MM.
func (s SectionTime) Clock() (hour, minute int, err error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s.StartTime), ":")
	if !ok {
		return 0, 0, fmt.Errorf("section %d: invalid start time %q", s.Section, s.StartTime)
	}
	hour, err = strconv.Atoi(hh)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("section %d: invalid hour in %q", s.Section, s.StartTime)
	}
	minute, err = strconv.Atoi(mm)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("section %d: invalid minute in %q", s.Section, s.StartTime)
	}
	return hour, minute, nil
}

// SectionList accepts both [1,2] and [{"section":1},{"section":2}] on decode.
type SectionList []int

func (l *SectionList) UnmarshalJSON(data []byte) error {
	var plain []int
	if err := json.Unmarshal(data, &plain); err == nil {
		*l = plain
		return nil
	}

	var wrapped []struct {
		Section int `json:"section"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return fmt.Errorf("decode sections: %w", err)
	}

	sections := make(SectionList, 0, len(wrapped))
	for _, item := range wrapped {
		sections = append(sections, item.Section)
	}
	*l = sections
	return nil
}

// CourseInfo is one weekly meeting pattern of one course.
type CourseInfo struct {
	Name        string      `json:"name"`
	Teacher     string      `json:"teacher"`
	Position    string      `json:"position"`
	Day         int         `json:"day"`
	Sections    SectionList `json:"sections"`
	Weeks       []int       `json:"weeks"`
	WeekPattern *int        `json:"weekPattern,omitempty"`
}

func (c CourseInfo) Validate() error {
	if c.Day < 1 || c.Day > 7 {
		return fmt.Errorf("course %q: weekday %d out of range", c.Name, c.Day)
	}
	if len(c.Sections) == 0 {
		return fmt.Errorf("course %q: no sections", c.Name)
	}
	for i := 1; i < len(c.Sections); i++ {
		if c.Sections[i] != c.Sections[i-1]+1 {
			return fmt.Errorf("course %q: sections %v are not contiguous", c.Name, []int(c.Sections))
		}
	}
	for i, week := range c.Weeks {
		if week < 1 {
			return fmt.Errorf("course %q: week %d out of range", c.Name, week)
		}
		if i > 0 && week <= c.Weeks[i-1] {
			return fmt.Errorf("course %q: weeks %v are not strictly increasing", c.Name, c.Weeks)
		}
	}
	return nil
}

func (c CourseInfo) StartSection() int {
	if len(c.Sections) == 0 {
		return 0
	}
	return c.Sections[0]
}

// Pattern returns WeekPattern, deriving it from Weeks when unset. Bit i is
// week i+1; weeks past PatternWeeks are not representable.
func (c CourseInfo) Pattern() int {
	if c.WeekPattern != nil {
		return *c.WeekPattern
	}
	pattern := 0
	for _, week := range c.Weeks {
		if week >= 1 && week <= PatternWeeks {
			pattern |= 1 << (week - 1)
		}
	}
	return pattern
}

func (c CourseInfo) LastWeek() int {
	if len(c.Weeks) == 0 {
		return 0
	}
	return c.Weeks[len(c.Weeks)-1]
}
