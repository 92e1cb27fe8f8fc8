package models

import "time"

// WeekType labels.
const (
	WeekTypeOdd  = "odd"
	WeekTypeEven = "even"
	WeekTypeBoth = "both"
)

// ScheduleEntry is a single lesson placed on the timetable grid.
type ScheduleEntry struct {
	ID              int64     `db:"id" json:"id"`
	GenerationID    *int64    `db:"generation_id" json:"generation_id,omitempty"`
	CourseLoadID    int64     `db:"course_load_id" json:"course_load_id"`
	DayOfWeek       int       `db:"day_of_week" json:"day_of_week"`
	TimeSlot        int       `db:"time_slot" json:"time_slot"`
	WeekType        string    `db:"week_type" json:"week_type"`
	ClassroomID     *int64    `db:"classroom_id" json:"classroom_id,omitempty"`
	ClassroomName   *string   `db:"classroom_name" json:"classroom_name,omitempty"`
	TeacherID       int64     `db:"teacher_id" json:"teacher_id"`
	TeacherName     string    `db:"teacher_name" json:"teacher_name"`
	TeacherPriority int       `db:"teacher_priority" json:"-"`
	GroupID         int64     `db:"group_id" json:"group_id"`
	GroupName       string    `db:"group_name" json:"group_name"`
	GroupSize       int       `db:"group_size" json:"-"`
	DisciplineName  string    `db:"discipline_name" json:"discipline_name"`
	LessonType      string    `db:"lesson_type" json:"lesson_type"`
	Semester        int       `db:"semester" json:"semester"`
	AcademicYear    string    `db:"academic_year" json:"academic_year"`
	IsActive        bool      `db:"is_active" json:"is_active"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// EffectiveWeekType treats a missing label as "both".
func (e ScheduleEntry) EffectiveWeekType() string {
	if e.WeekType == "" {
		return WeekTypeBoth
	}
	return e.WeekType
}

// ScheduleFilter narrows entity timetable reads.
type ScheduleFilter struct {
	Semester     int
	AcademicYear string
	DayOfWeek    *int
	WeekType     string
}
