package timetable

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/ini.v1"
)

var ErrInvalidHolidays = errors.New("invalid holiday calendar")

//go:embed holidays.ini
var defaultHolidaysINI []byte

// HolidayReplacement cancels classes inside [From, To] unless the day has a
// Replace entry, in which case that day's classes move to the mapped date.
type HolidayReplacement struct {
	Topic   string        `json:"topic"`
	From    Date          `json:"from"`
	To      Date          `json:"to"`
	Replace map[Date]Date `json:"replace"`
}

func (h HolidayReplacement) Contains(d Date) bool {
	return !d.Before(h.From) && !d.After(h.To)
}

// HolidayCalendar is a validated, ordered list of non-overlapping ranges.
type HolidayCalendar struct {
	entries []HolidayReplacement
}

func NewHolidayCalendar(entries []HolidayReplacement) (HolidayCalendar, error) {
	for _, entry := range entries {
		if entry.From.IsZero() || entry.To.IsZero() {
			return HolidayCalendar{}, fmt.Errorf("%w: %q has no date range", ErrInvalidHolidays, entry.Topic)
		}
		if entry.To.Before(entry.From) {
			return HolidayCalendar{}, fmt.Errorf("%w: %q ends %s before it starts %s", ErrInvalidHolidays, entry.Topic, entry.To, entry.From)
		}
		for from := range entry.Replace {
			if !entry.Contains(from) {
				return HolidayCalendar{}, fmt.Errorf("%w: %q replaces %s outside [%s, %s]", ErrInvalidHolidays, entry.Topic, from, entry.From, entry.To)
			}
		}
	}

	sorted := make([]HolidayReplacement, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].From.Before(sorted[j].From)
	})
	for i := 1; i < len(sorted); i++ {
		if !sorted[i].From.After(sorted[i-1].To) {
			return HolidayCalendar{}, fmt.Errorf("%w: %q overlaps %q", ErrInvalidHolidays, sorted[i].Topic, sorted[i-1].Topic)
		}
	}

	kept := make([]HolidayReplacement, len(entries))
	copy(kept, entries)
	return HolidayCalendar{entries: kept}, nil
}

func (c HolidayCalendar) Entries() []HolidayReplacement {
	out := make([]HolidayReplacement, len(c.entries))
	copy(out, c.entries)
	return out
}

func (c HolidayCalendar) MarshalJSON() ([]byte, error) {
	if c.entries == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(c.entries)
}

func (c HolidayCalendar) Len() int {
	return len(c.entries)
}

// Resolve maps a scheduled day to the day the class actually happens on.
// ok is false when the day falls in a holiday without a replacement.
func (c HolidayCalendar) Resolve(d Date) (resolved Date, ok bool) {
	for _, entry := range c.entries {
		if !entry.Contains(d) {
			continue
		}
		if substitute, found := entry.Replace[d]; found {
			return substitute, true
		}
		return Date{}, false
	}
	return d, true
}

// Covers reports whether any range contains d.
func (c HolidayCalendar) Covers(d Date) bool {
	for _, entry := range c.entries {
		if entry.Contains(d) {
			return true
		}
	}
	return false
}

func DefaultHolidays() (HolidayCalendar, error) {
	return ParseHolidaysINI(defaultHolidaysINI)
}

func LoadHolidaysINI(path string) (HolidayCalendar, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return HolidayCalendar{}, fmt.Errorf("read holidays file %s: %w", path, err)
	}
	return ParseHolidaysINI(raw)
}

// ParseHolidaysINI reads one section per holiday:
//
//	[National Day]
//	from = 2024-10-01
//	to = 2024-10-07
//	2024-10-04 = 2024-09-29
func ParseHolidaysINI(data []byte) (HolidayCalendar, error) {
	cfg, err := ini.LoadSources(ini.LoadOptions{
		IgnoreInlineComment: true,
	}, data)
	if err != nil {
		return HolidayCalendar{}, fmt.Errorf("parse holidays: %w", err)
	}

	entries := make([]HolidayReplacement, 0, len(cfg.Sections()))
	for _, section := range cfg.Sections() {
		if section.Name() == ini.DefaultSection {
			continue
		}

		entry := HolidayReplacement{
			Topic:   strings.TrimSpace(section.Name()),
			Replace: make(map[Date]Date),
		}
		for _, key := range section.Keys() {
			name := strings.TrimSpace(key.Name())
			value := strings.TrimSpace(key.String())
			switch strings.ToLower(name) {
			case "from":
				entry.From, err = ParseDate(value)
			case "to":
				entry.To, err = ParseDate(value)
			default:
				var from, to Date
				from, err = ParseDate(name)
				if err == nil {
					to, err = ParseDate(value)
				}
				if err == nil {
					entry.Replace[from] = to
				}
			}
			if err != nil {
				return HolidayCalendar{}, fmt.Errorf("%w: section %q: %v", ErrInvalidHolidays, section.Name(), err)
			}
		}
		entries = append(entries, entry)
	}

	return NewHolidayCalendar(entries)
}
