package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/samber/lo"

	"github.com/noah-isme/timetable-engine/internal/models"
)

// TeacherRepository resolves teacher display names.
type TeacherRepository struct {
	db *sqlx.DB
}

// NewTeacherRepository constructs a TeacherRepository.
func NewTeacherRepository(db *sqlx.DB) *TeacherRepository {
	return &TeacherRepository{db: db}
}

// NamesByIDs returns the full names of the given teachers keyed by id.
// Unknown ids are absent from the result.
func (r *TeacherRepository) NamesByIDs(ctx context.Context, ids []int64) (map[int64]string, error) {
	ids = lo.Uniq(ids)
	if len(ids) == 0 {
		return map[int64]string{}, nil
	}
	const query = `SELECT id, full_name FROM teachers WHERE id = ANY($1)`
	var teachers []models.Teacher
	if err := r.db.SelectContext(ctx, &teachers, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("list teacher names: %w", err)
	}
	return lo.Associate(teachers, func(t models.Teacher) (int64, string) { return t.ID, t.FullName }), nil
}
