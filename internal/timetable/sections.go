package timetable

import "fmt"

type clock struct {
	hour   int
	minute int
}

// SectionTable is the daily period grid, keyed by 1-based section index.
type SectionTable struct {
	starts map[int]clock
}

func NewSectionTable(sections []SectionTime) (SectionTable, error) {
	starts := make(map[int]clock, len(sections))
	for _, section := range sections {
		if section.Section < 1 {
			return SectionTable{}, fmt.Errorf("section index %d out of range", section.Section)
		}
		if _, exists := starts[section.Section]; exists {
			return SectionTable{}, fmt.Errorf("duplicate section %d", section.Section)
		}
		hour, minute, err := section.Clock()
		if err != nil {
			return SectionTable{}, err
		}
		starts[section.Section] = clock{hour: hour, minute: minute}
	}
	return SectionTable{starts: starts}, nil
}

func (t SectionTable) Start(section int) (hour, minute int, ok bool) {
	c, ok := t.starts[section]
	return c.hour, c.minute, ok
}

func (t SectionTable) Len() int {
	return len(t.starts)
}

// DefaultSectionTimes is the 13-period grid: 45 minute sections, a 10 minute
// break after odd sections and a 20 minute break after even ones.
func DefaultSectionTimes() []SectionTime {
	return []SectionTime{
		{Section: 1, StartTime: "08:00"},
		{Section: 2, StartTime: "08:55"},
		{Section: 3, StartTime: "10:00"},
		{Section: 4, StartTime: "10:55"},
		{Section: 5, StartTime: "12:00"},
		{Section: 6, StartTime: "12:55"},
		{Section: 7, StartTime: "14:00"},
		{Section: 8, StartTime: "14:55"},
		{Section: 9, StartTime: "16:00"},
		{Section: 10, StartTime: "16:55"},
		{Section: 11, StartTime: "18:00"},
		{Section: 12, StartTime: "18:55"},
		{Section: 13, StartTime: "20:00"},
	}
}
