package models

import "time"

// LessonType values after canonicalisation.
const (
	LessonTypeLecture      = "Lecture"
	LessonTypePractice     = "Practice"
	LessonTypeLab          = "Lab"
	LessonTypeSeminar      = "Seminar"
	LessonTypeConsultation = "Consultation"
)

// CourseLoad is one teacher-delivers-discipline-to-group contract for a semester.
type CourseLoad struct {
	ID               int64     `db:"id" json:"id"`
	DisciplineName   string    `db:"discipline_name" json:"discipline_name"`
	DisciplineCode   *string   `db:"discipline_code" json:"discipline_code,omitempty"`
	LessonType       string    `db:"lesson_type" json:"lesson_type"`
	TeacherID        *int64    `db:"teacher_id" json:"teacher_id,omitempty"`
	TeacherName      string    `db:"teacher_name" json:"teacher_name"`
	TeacherPriority  int       `db:"teacher_priority" json:"teacher_priority"`
	GroupID          *int64    `db:"group_id" json:"group_id,omitempty"`
	GroupName        string    `db:"group_name" json:"group_name"`
	GroupSize        int       `db:"group_size" json:"group_size"`
	HoursPerSemester int       `db:"hours_per_semester" json:"hours_per_semester"`
	Semester         int       `db:"semester" json:"semester"`
	AcademicYear     string    `db:"academic_year" json:"academic_year"`
	IsActive         bool      `db:"is_active" json:"is_active"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

// Linked reports whether the load references both a teacher and a group.
func (l CourseLoad) Linked() bool {
	return l.TeacherID != nil && *l.TeacherID > 0 && l.GroupID != nil && *l.GroupID > 0
}
