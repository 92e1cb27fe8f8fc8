package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/timetable-engine/internal/models"
)

// ErrDayOutOfRange is returned for lessons outside Monday..Saturday.
var ErrDayOutOfRange = errors.New("day_of_week must be between 1 and 6")

// Entity columns schedules can be filtered by.
const (
	ScheduleEntityGroup     = "group"
	ScheduleEntityTeacher   = "teacher"
	ScheduleEntityClassroom = "classroom"
)

var scheduleEntityColumns = map[string]string{
	ScheduleEntityGroup:     "group_id",
	ScheduleEntityTeacher:   "teacher_id",
	ScheduleEntityClassroom: "classroom_id",
}

const scheduleColumns = `id, generation_id, course_load_id, day_of_week, time_slot, COALESCE(week_type, 'both') AS week_type,
       classroom_id, classroom_name, teacher_id, teacher_name, group_id, group_name, discipline_name, lesson_type,
       semester, academic_year, is_active, created_at`

// ScheduleRepository persists timetable lessons.
type ScheduleRepository struct {
	db *sqlx.DB
}

// NewScheduleRepository creates a new schedule repository.
func NewScheduleRepository(db *sqlx.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

func (r *ScheduleRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Insert stores a lesson and fills its id. Lessons outside Monday..Saturday
// are refused with ErrDayOutOfRange.
func (r *ScheduleRepository) Insert(ctx context.Context, exec sqlx.ExtContext, entry *models.ScheduleEntry) error {
	if entry == nil {
		return fmt.Errorf("schedule entry is nil")
	}
	if entry.DayOfWeek < 1 || entry.DayOfWeek > 6 {
		return ErrDayOutOfRange
	}
	if entry.WeekType == "" {
		entry.WeekType = models.WeekTypeBoth
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	const query = `INSERT INTO schedules (generation_id, course_load_id, day_of_week, time_slot, week_type, classroom_id, classroom_name,
	teacher_id, teacher_name, group_id, group_name, discipline_name, lesson_type, semester, academic_year, is_active, created_at)
VALUES (:generation_id, :course_load_id, :day_of_week, :time_slot, :week_type, :classroom_id, :classroom_name,
	:teacher_id, :teacher_name, :group_id, :group_name, :discipline_name, :lesson_type, :semester, :academic_year, :is_active, :created_at)
RETURNING id`
	rows, err := sqlx.NamedQueryContext(ctx, r.exec(exec), query, entry)
	if err != nil {
		return fmt.Errorf("insert schedule entry: %w", err)
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&entry.ID); err != nil {
			return fmt.Errorf("scan schedule entry id: %w", err)
		}
	}
	return rows.Err()
}

// DeactivateActive flags every active lesson of the semester inactive except
// those belonging to keepGenerationID.
func (r *ScheduleRepository) DeactivateActive(ctx context.Context, exec sqlx.ExtContext, semester int, academicYear string, keepGenerationID int64) (int64, error) {
	const query = `UPDATE schedules SET is_active = FALSE
WHERE semester = $1 AND academic_year = $2 AND is_active = TRUE AND (generation_id IS NULL OR generation_id <> $3)`
	result, err := r.exec(exec).ExecContext(ctx, query, semester, academicYear, keepGenerationID)
	if err != nil {
		return 0, fmt.Errorf("deactivate schedules: %w", err)
	}
	return result.RowsAffected()
}

// DeleteByGeneration removes every lesson written by a generation.
func (r *ScheduleRepository) DeleteByGeneration(ctx context.Context, exec sqlx.ExtContext, generationID int64) (int64, error) {
	const query = `DELETE FROM schedules WHERE generation_id = $1`
	result, err := r.exec(exec).ExecContext(ctx, query, generationID)
	if err != nil {
		return 0, fmt.Errorf("delete generation schedules: %w", err)
	}
	return result.RowsAffected()
}

// DedupExact keeps the highest id among lessons of a generation that share
// (day, slot, teacher, group).
func (r *ScheduleRepository) DedupExact(ctx context.Context, exec sqlx.ExtContext, generationID int64) (int64, error) {
	const query = `DELETE FROM schedules a USING schedules b
WHERE a.generation_id = $1 AND b.generation_id = a.generation_id
  AND a.day_of_week = b.day_of_week AND a.time_slot = b.time_slot
  AND a.teacher_id = b.teacher_id AND a.group_id = b.group_id
  AND a.id < b.id`
	result, err := r.exec(exec).ExecContext(ctx, query, generationID)
	if err != nil {
		return 0, fmt.Errorf("dedup exact schedules: %w", err)
	}
	return result.RowsAffected()
}

// DedupGroup keeps the lowest id among lessons of a generation that share
// (day, slot, group).
func (r *ScheduleRepository) DedupGroup(ctx context.Context, exec sqlx.ExtContext, generationID int64) (int64, error) {
	const query = `DELETE FROM schedules a USING schedules b
WHERE a.generation_id = $1 AND b.generation_id = a.generation_id
  AND a.day_of_week = b.day_of_week AND a.time_slot = b.time_slot
  AND a.group_id = b.group_id
  AND a.id > b.id`
	result, err := r.exec(exec).ExecContext(ctx, query, generationID)
	if err != nil {
		return 0, fmt.Errorf("dedup group schedules: %w", err)
	}
	return result.RowsAffected()
}

// ListByGeneration returns the lessons written by a generation.
func (r *ScheduleRepository) ListByGeneration(ctx context.Context, generationID int64) ([]models.ScheduleEntry, error) {
	query := `SELECT ` + scheduleColumns + `
FROM schedules WHERE generation_id = $1 AND day_of_week BETWEEN 1 AND 6
ORDER BY day_of_week, time_slot, id`
	var entries []models.ScheduleEntry
	if err := r.db.SelectContext(ctx, &entries, query, generationID); err != nil {
		return nil, fmt.Errorf("list generation schedules: %w", err)
	}
	return entries, nil
}

// ListActive returns the active lessons. A zero semester or an empty year
// widens the selection.
func (r *ScheduleRepository) ListActive(ctx context.Context, semester int, academicYear string) ([]models.ScheduleEntry, error) {
	query := `SELECT ` + scheduleColumns + `
FROM schedules
WHERE is_active = TRUE AND day_of_week BETWEEN 1 AND 6
  AND ($1 = 0 OR semester = $1) AND ($2 = '' OR academic_year = $2)
ORDER BY day_of_week, time_slot, id`
	var entries []models.ScheduleEntry
	if err := r.db.SelectContext(ctx, &entries, query, semester, academicYear); err != nil {
		return nil, fmt.Errorf("list active schedules: %w", err)
	}
	return entries, nil
}

// ListForEntity returns the active lessons of a group, teacher or classroom.
// A week type filter also matches lessons held every week.
func (r *ScheduleRepository) ListForEntity(ctx context.Context, entity string, entityID int64, filter models.ScheduleFilter) ([]models.ScheduleEntry, error) {
	column, ok := scheduleEntityColumns[entity]
	if !ok {
		return nil, fmt.Errorf("unknown schedule entity %q", entity)
	}

	conditions := []string{
		"is_active = TRUE",
		"day_of_week BETWEEN 1 AND 6",
		fmt.Sprintf("%s = $1", column),
	}
	args := []interface{}{entityID}
	if filter.Semester > 0 {
		args = append(args, filter.Semester)
		conditions = append(conditions, fmt.Sprintf("semester = $%d", len(args)))
	}
	if filter.AcademicYear != "" {
		args = append(args, filter.AcademicYear)
		conditions = append(conditions, fmt.Sprintf("academic_year = $%d", len(args)))
	}
	if filter.DayOfWeek != nil {
		args = append(args, *filter.DayOfWeek)
		conditions = append(conditions, fmt.Sprintf("day_of_week = $%d", len(args)))
	}
	if filter.WeekType != "" && filter.WeekType != models.WeekTypeBoth {
		args = append(args, filter.WeekType)
		conditions = append(conditions, fmt.Sprintf("COALESCE(week_type, 'both') IN ($%d, 'both')", len(args)))
	}

	query := `SELECT ` + scheduleColumns + `
FROM schedules WHERE ` + strings.Join(conditions, " AND ") + `
ORDER BY day_of_week, time_slot, id`
	var entries []models.ScheduleEntry
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("list %s schedules: %w", entity, err)
	}
	return entries, nil
}

// PurgeInactive hard-deletes superseded lessons of the semester created before cutoff.
func (r *ScheduleRepository) PurgeInactive(ctx context.Context, semester int, academicYear string, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM schedules WHERE semester = $1 AND academic_year = $2 AND is_active = FALSE AND created_at < $3`
	result, err := r.db.ExecContext(ctx, query, semester, academicYear, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge inactive schedules: %w", err)
	}
	return result.RowsAffected()
}
