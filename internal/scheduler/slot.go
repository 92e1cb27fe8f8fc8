// Package scheduler builds and optimizes weekly timetables in memory.
//
// Nothing in this package performs I/O: the constructor, evaluator, workspace
// and optimizers operate on plain models.ScheduleEntry slices and report
// progress through hooks supplied by the caller.
package scheduler

import (
	"errors"
	"strings"
	"unicode"

	"github.com/noah-isme/timetable-engine/internal/models"
)

const (
	// MaxDays is Monday..Saturday. Sunday is never schedulable.
	MaxDays = 6
	// DefaultSlots is the number of lesson slots per day.
	DefaultSlots = 6
	// DailyLessonCap is the legal maximum of lessons per day for a teacher or a group.
	DailyLessonCap = 4
	// DefaultWeeksInSemester is used to convert semester hours into weekly lessons.
	DefaultWeeksInSemester = 16
)

var (
	ErrInvalidDay    = errors.New("Only days 1-6 allowed")
	ErrInvalidSlot   = errors.New("time slot out of range")
	ErrUnknownLesson = errors.New("lesson not found")
	ErrNoCheckpoint  = errors.New("no checkpoint to roll back")
	ErrSlotOccupied  = errors.New("slot already occupied")
	ErrSlotConflict  = errors.New("slot conflicts with existing lesson")
)

// Grid is the day x slot lattice of a teaching week.
type Grid struct {
	Days  int
	Slots int
}

// DefaultGrid returns the 6x6 university week.
func DefaultGrid() Grid {
	return Grid{Days: MaxDays, Slots: DefaultSlots}
}

// NewGrid clamps the dimensions to the supported range.
func NewGrid(days, slots int) Grid {
	if days <= 0 || days > MaxDays {
		days = MaxDays
	}
	if slots <= 0 {
		slots = DefaultSlots
	}
	return Grid{Days: days, Slots: slots}
}

// Cells is the number of (day, slot) pairs in the grid.
func (g Grid) Cells() int {
	return g.Days * g.Slots
}

// Contains reports whether the pair lies inside the grid.
func (g Grid) Contains(day, slot int) bool {
	return day >= 1 && day <= g.Days && slot >= 1 && slot <= g.Slots
}

// Validate returns ErrInvalidDay or ErrInvalidSlot for coordinates outside the grid.
func (g Grid) Validate(day, slot int) error {
	if day < 1 || day > g.Days || day > MaxDays {
		return ErrInvalidDay
	}
	if slot < 1 || slot > g.Slots {
		return ErrInvalidSlot
	}
	return nil
}

// Keys enumerates every slot of the grid in lexicographic order.
func (g Grid) Keys() []SlotKey {
	keys := make([]SlotKey, 0, g.Cells())
	for day := 1; day <= g.Days; day++ {
		for slot := 1; slot <= g.Slots; slot++ {
			keys = append(keys, SlotKey{Day: day, Slot: slot})
		}
	}
	return keys
}

// SlotKey identifies a (day, slot) cell.
type SlotKey struct {
	Day  int `json:"day"`
	Slot int `json:"slot"`
}

// Less orders keys by day, then slot.
func (k SlotKey) Less(other SlotKey) bool {
	if k.Day != other.Day {
		return k.Day < other.Day
	}
	return k.Slot < other.Slot
}

// KeyOf returns the slot key of a lesson.
func KeyOf(lesson models.ScheduleEntry) SlotKey {
	return SlotKey{Day: lesson.DayOfWeek, Slot: lesson.TimeSlot}
}

var lessonKindAliases = map[string]string{
	"lecture":      models.LessonTypeLecture,
	"lec":          models.LessonTypeLecture,
	"practice":     models.LessonTypePractice,
	"practical":    models.LessonTypePractice,
	"practicum":    models.LessonTypePractice,
	"lab":          models.LessonTypeLab,
	"labs":         models.LessonTypeLab,
	"laboratory":   models.LessonTypeLab,
	"seminar":      models.LessonTypeSeminar,
	"consultation": models.LessonTypeConsultation,
	"consult":      models.LessonTypeConsultation,
}

// CanonicalLessonKind maps free-form lesson kinds onto canonical labels.
// Matching ignores case and whitespace; unknown values are returned unchanged.
func CanonicalLessonKind(raw string) string {
	normalized := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '-' || r == '_' {
			return -1
		}
		return unicode.ToLower(r)
	}, raw)
	if canonical, ok := lessonKindAliases[normalized]; ok {
		return canonical
	}
	return raw
}

// LessonsPerWeek converts semester hours into weekly lesson occurrences.
// One lesson is two academic hours (1.5 clock hours), so a 16 week semester
// divides by 24. The result is rounded half-up, floored at 1 when hours are
// positive and capped at the number of grid cells.
func LessonsPerWeek(hoursPerSemester, weeksInSemester int, grid Grid) int {
	if hoursPerSemester <= 0 {
		return 0
	}
	if weeksInSemester <= 0 {
		weeksInSemester = DefaultWeeksInSemester
	}
	divisor := weeksInSemester * 3 / 2
	if divisor <= 0 {
		divisor = 1
	}
	lessons := (hoursPerSemester + divisor/2) / divisor
	if lessons < 1 {
		lessons = 1
	}
	if cells := grid.Cells(); lessons > cells {
		lessons = cells
	}
	return lessons
}
