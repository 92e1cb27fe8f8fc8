package dto

import (
	"github.com/noah-isme/timetable-engine/internal/models"
	"github.com/noah-isme/timetable-engine/internal/scheduler"
)

// ScheduleQuery selects either one generation's lessons or the active set.
type ScheduleQuery struct {
	GenerationID int64  `form:"generationId" validate:"omitempty,min=1"`
	OnlyActive   *bool  `form:"onlyActive"`
	Semester     int    `form:"semester" validate:"omitempty,min=1,max=12"`
	AcademicYear string `form:"academicYear" validate:"omitempty,academic_year"`
}

// EntityScheduleQuery filters the timetable of one group, teacher or classroom.
// Days are 1 (Monday) to 6 (Saturday).
type EntityScheduleQuery struct {
	Semester     int    `form:"semester" validate:"required,min=1,max=12"`
	AcademicYear string `form:"academicYear" validate:"required,academic_year"`
	Day          *int   `form:"day" validate:"omitempty,min=1,max=6"`
	WeekType     string `form:"weekType" validate:"omitempty,oneof=odd even both"`
}

// AnalysisQuery picks the schedule to analyze; the active set when no
// generation is given.
type AnalysisQuery struct {
	GenerationID int64  `form:"generationId" validate:"omitempty,min=1"`
	Semester     int    `form:"semester" validate:"omitempty,min=1,max=12"`
	AcademicYear string `form:"academicYear" validate:"omitempty,academic_year"`
}

// ScheduleResponse wraps a lesson list.
type ScheduleResponse struct {
	GenerationID *int64                 `json:"generationId,omitempty"`
	OnlyActive   bool                   `json:"onlyActive"`
	Lessons      []models.ScheduleEntry `json:"lessons"`
}

// ScheduleAnalysisResponse is the fitness breakdown of a stored schedule.
type ScheduleAnalysisResponse struct {
	GenerationID         *int64                          `json:"generationId,omitempty"`
	LessonCount          int                             `json:"lessonCount"`
	TotalScore           int                             `json:"total_score"`
	Feasible             bool                            `json:"feasible"`
	Conflicts            []scheduler.Conflict            `json:"conflicts"`
	ConflictsByKind      map[string][]scheduler.Conflict `json:"conflicts_by_kind"`
	HardViolations       []scheduler.HardViolation       `json:"hard_violations"`
	PreferenceViolations []scheduler.PreferenceViolation `json:"preference_violations"`
	IsolatedLessons      []scheduler.IsolatedLesson      `json:"isolated_lessons"`
	Gaps                 []scheduler.Gap                 `json:"gaps"`
	GapsCount            int                             `json:"gaps_count"`
}
