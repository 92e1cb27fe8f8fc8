package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/timetable-engine/internal/models"
)

func newScheduleRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

var scheduleRowColumns = []string{
	"id", "generation_id", "course_load_id", "day_of_week", "time_slot", "week_type", "classroom_id", "classroom_name",
	"teacher_id", "teacher_name", "group_id", "group_name", "discipline_name", "lesson_type", "semester", "academic_year",
	"is_active", "created_at",
}

func TestScheduleRepositoryInsert(t *testing.T) {
	db, mock, cleanup := newScheduleRepoMock(t)
	defer cleanup()
	repo := NewScheduleRepository(db)

	mock.ExpectQuery("INSERT INTO schedules").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

	generationID := int64(7)
	entry := &models.ScheduleEntry{
		GenerationID: &generationID,
		CourseLoadID: 3,
		DayOfWeek:    2,
		TimeSlot:     4,
		TeacherID:    10,
		GroupID:      20,
		Semester:     1,
		AcademicYear: "2025/2026",
		IsActive:     true,
	}
	require.NoError(t, repo.Insert(context.Background(), nil, entry))
	assert.Equal(t, int64(42), entry.ID)
	assert.Equal(t, models.WeekTypeBoth, entry.WeekType)
	assert.False(t, entry.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepositoryInsertRejectsSunday(t *testing.T) {
	db, mock, cleanup := newScheduleRepoMock(t)
	defer cleanup()
	repo := NewScheduleRepository(db)

	for _, day := range []int{0, 7} {
		err := repo.Insert(context.Background(), nil, &models.ScheduleEntry{DayOfWeek: day, TimeSlot: 1})
		assert.ErrorIs(t, err, ErrDayOutOfRange)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepositoryReplaceInTransaction(t *testing.T) {
	db, mock, cleanup := newScheduleRepoMock(t)
	defer cleanup()
	repo := NewScheduleRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE schedules SET is_active = FALSE")).
		WithArgs(1, "2025/2026", int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 12))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM schedules WHERE generation_id = $1")).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(`DELETE FROM schedules a USING schedules b(.|\n)*a\.teacher_id = b\.teacher_id(.|\n)*a\.id < b\.id`).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM schedules a USING schedules b(.|\n)*a\.group_id = b\.group_id(.|\n)*a\.id > b\.id`).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	ctx := context.Background()
	tx, err := db.BeginTxx(ctx, nil)
	require.NoError(t, err)

	deactivated, err := repo.DeactivateActive(ctx, tx, 1, "2025/2026", 7)
	require.NoError(t, err)
	assert.Equal(t, int64(12), deactivated)
	deleted, err := repo.DeleteByGeneration(ctx, tx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)
	exact, err := repo.DedupExact(ctx, tx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(1), exact)
	group, err := repo.DedupGroup(ctx, tx, 7)
	require.NoError(t, err)
	assert.Zero(t, group)
	require.NoError(t, tx.Commit())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepositoryListReadsOnlyWeekdays(t *testing.T) {
	db, mock, cleanup := newScheduleRepoMock(t)
	defer cleanup()
	repo := NewScheduleRepository(db)

	now := time.Now()
	mock.ExpectQuery(`FROM schedules WHERE generation_id = \$1 AND day_of_week BETWEEN 1 AND 6`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(scheduleRowColumns).
			AddRow(1, 7, 3, 1, 2, "both", nil, nil, 10, "Dr. Lee", 20, "CS-1", "Math", "Lecture", 1, "2025/2026", true, now))

	entries, err := repo.ListByGeneration(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Dr. Lee", entries[0].TeacherName)
	assert.Nil(t, entries[0].ClassroomID)

	mock.ExpectQuery(`WHERE is_active = TRUE AND day_of_week BETWEEN 1 AND 6`).
		WithArgs(1, "2025/2026").
		WillReturnRows(sqlmock.NewRows(scheduleRowColumns))
	active, err := repo.ListActive(context.Background(), 1, "2025/2026")
	require.NoError(t, err)
	assert.Empty(t, active)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepositoryListForEntity(t *testing.T) {
	db, mock, cleanup := newScheduleRepoMock(t)
	defer cleanup()
	repo := NewScheduleRepository(db)

	day := 3
	mock.ExpectQuery(regexp.QuoteMeta("group_id = $1 AND semester = $2 AND academic_year = $3 AND day_of_week = $4 AND COALESCE(week_type, 'both') IN ($5, 'both')")).
		WithArgs(int64(20), 1, "2025/2026", 3, models.WeekTypeOdd).
		WillReturnRows(sqlmock.NewRows(scheduleRowColumns).
			AddRow(5, 7, 3, 3, 1, "odd", 2, "A-101", 10, "Dr. Lee", 20, "CS-1", "Math", "Lecture", 1, "2025/2026", true, time.Now()))

	entries, err := repo.ListForEntity(context.Background(), ScheduleEntityGroup, 20, models.ScheduleFilter{
		Semester:     1,
		AcademicYear: "2025/2026",
		DayOfWeek:    &day,
		WeekType:     models.WeekTypeOdd,
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].ClassroomID)
	assert.Equal(t, int64(2), *entries[0].ClassroomID)
	assert.NoError(t, mock.ExpectationsWereMet())

	_, err = repo.ListForEntity(context.Background(), "building", 1, models.ScheduleFilter{})
	assert.Error(t, err)
}

func TestScheduleRepositoryPurgeInactive(t *testing.T) {
	db, mock, cleanup := newScheduleRepoMock(t)
	defer cleanup()
	repo := NewScheduleRepository(db)

	cutoff := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM schedules WHERE semester = $1 AND academic_year = $2 AND is_active = FALSE AND created_at < $3")).
		WithArgs(1, "2025/2026", cutoff).
		WillReturnResult(sqlmock.NewResult(0, 30))

	purged, err := repo.PurgeInactive(context.Background(), 1, "2025/2026", cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(30), purged)
	assert.NoError(t, mock.ExpectationsWereMet())
}
