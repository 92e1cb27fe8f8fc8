package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/timetable-engine/internal/models"
)

// TeacherPreferenceRepository reads teacher slot preferences.
type TeacherPreferenceRepository struct {
	db *sqlx.DB
}

// NewTeacherPreferenceRepository constructs the repository.
func NewTeacherPreferenceRepository(db *sqlx.DB) *TeacherPreferenceRepository {
	return &TeacherPreferenceRepository{db: db}
}

// List returns preference rows, optionally limited to the given teachers.
// Rows outside Monday..Saturday are never returned.
func (r *TeacherPreferenceRepository) List(ctx context.Context, teacherIDs []int64) ([]models.TeacherPreference, error) {
	query := `SELECT id, teacher_id, day_of_week, time_slot, is_preferred, preference_strength, reason
FROM teacher_preferences WHERE day_of_week BETWEEN 1 AND 6`
	var args []interface{}
	if len(teacherIDs) > 0 {
		query += " AND teacher_id = ANY($1)"
		args = append(args, pq.Array(teacherIDs))
	}
	query += " ORDER BY teacher_id, day_of_week, time_slot"

	var prefs []models.TeacherPreference
	if err := r.db.SelectContext(ctx, &prefs, query, args...); err != nil {
		return nil, fmt.Errorf("list teacher preferences: %w", err)
	}
	return prefs, nil
}
