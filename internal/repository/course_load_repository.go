package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/timetable-engine/internal/models"
)

// CourseLoadRepository reads teaching loads.
type CourseLoadRepository struct {
	db *sqlx.DB
}

// NewCourseLoadRepository constructs the repository.
func NewCourseLoadRepository(db *sqlx.DB) *CourseLoadRepository {
	return &CourseLoadRepository{db: db}
}

// ListActive returns the active loads of a semester. An empty academic year
// matches every year.
func (r *CourseLoadRepository) ListActive(ctx context.Context, semester int, academicYear string) ([]models.CourseLoad, error) {
	const query = `SELECT cl.id, cl.discipline_name, cl.discipline_code, cl.lesson_type, cl.teacher_id,
       COALESCE(cl.teacher_name, '') AS teacher_name, COALESCE(cl.teacher_priority, 4) AS teacher_priority,
       cl.group_id, COALESCE(cl.group_name, '') AS group_name, COALESCE(cl.group_size, 0) AS group_size,
       cl.hours_per_semester, cl.semester, cl.academic_year, cl.is_active, cl.created_at
FROM course_loads cl
WHERE cl.is_active = TRUE AND cl.semester = $1 AND ($2 = '' OR cl.academic_year = $2)
ORDER BY cl.id`
	var loads []models.CourseLoad
	if err := r.db.SelectContext(ctx, &loads, query, semester, academicYear); err != nil {
		return nil, fmt.Errorf("list course loads: %w", err)
	}
	return loads, nil
}
