package compiler

import (
	"fmt"
	"strings"

	"github.com/rbright/classcal/internal/timetable"
)

type Mode string

const (
	ModeExplicit   Mode = "explicit"
	ModeCompressed Mode = "compressed"
)

func ParseMode(value string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(value))) {
	case "", ModeExplicit:
		return ModeExplicit, nil
	case ModeCompressed:
		return ModeCompressed, nil
	default:
		return "", fmt.Errorf("unknown recurrence mode %q", value)
	}
}

type PatternKind string

const (
	PatternOddEven    PatternKind = "odd-even"
	PatternContinuous PatternKind = "continuous"
	PatternOther      PatternKind = "other"
)

const (
	oddWeeks  = 0b0101010101
	evenWeeks = 0b1010101010
)

// ClassifyWeekPattern looks at the low timetable.PatternWeeks bits of a week
// mask.
func ClassifyWeekPattern(pattern int) PatternKind {
	if pattern == oddWeeks || pattern == evenWeeks {
		return PatternOddEven
	}

	last := pattern & 1
	toggles := 0
	for i := 1; i < timetable.PatternWeeks; i++ {
		bit := (pattern >> i) & 1
		if bit != last {
			toggles++
		}
		last = bit
	}
	if toggles <= 2 {
		return PatternContinuous
	}
	return PatternOther
}

func (k PatternKind) interval() int {
	switch k {
	case PatternOddEven:
		return 2
	case PatternContinuous:
		return 1
	default:
		return 0
	}
}
