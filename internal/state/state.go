package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rbright/classcal/internal/timetable"
)

var ErrNotFound = errors.New("state file not found")

// Infos is the course document the compile command reads: what the portal
// parser produced plus the term's first Monday.
type Infos struct {
	TermStart    string                  `json:"termStart,omitempty"`
	TermName     string                  `json:"termName"`
	Name         string                  `json:"name"`
	SectionTimes []timetable.SectionTime `json:"sectionTimes"`
	CourseInfos  []timetable.CourseInfo  `json:"courseInfos"`
}

func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir %s: %w", dir, err)
	}
	return nil
}

func SaveCalendar(path, payload string) error {
	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	return writeFileAtomically(path, []byte(payload), 0o644)
}

func SaveJSON(path string, value any) error {
	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}

	payload, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	return writeFileAtomically(path, append(payload, '\n'), 0o600)
}

func LoadInfos(path string) (Infos, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Infos{}, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return Infos{}, fmt.Errorf("read infos file: %w", err)
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return Infos{}, fmt.Errorf("infos file %s is empty", path)
	}

	var infos Infos
	if err := json.Unmarshal(raw, &infos); err != nil {
		return Infos{}, fmt.Errorf("decode infos file: %w", err)
	}
	if len(infos.SectionTimes) == 0 {
		infos.SectionTimes = timetable.DefaultSectionTimes()
	}
	return infos, nil
}

func writeFileAtomically(path string, content []byte, mode os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, mode); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
