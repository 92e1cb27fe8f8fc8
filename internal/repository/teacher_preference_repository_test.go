package repository

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTeacherPrefMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

var teacherPrefColumns = []string{"id", "teacher_id", "day_of_week", "time_slot", "is_preferred", "preference_strength", "reason"}

func TestTeacherPreferenceRepositoryListAll(t *testing.T) {
	db, mock, cleanup := newTeacherPrefMock(t)
	defer cleanup()
	repo := NewTeacherPreferenceRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM teacher_preferences WHERE day_of_week BETWEEN 1 AND 6 ORDER BY teacher_id")).
		WillReturnRows(sqlmock.NewRows(teacherPrefColumns).
			AddRow(1, 10, 1, 1, true, nil, nil).
			AddRow(2, 10, 5, 6, false, "strong", "evening classes"))

	prefs, err := repo.List(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, prefs, 2)
	assert.Nil(t, prefs[0].Strength)
	assert.False(t, prefs[0].Veto())
	assert.True(t, prefs[1].Veto())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTeacherPreferenceRepositoryListForTeachers(t *testing.T) {
	db, mock, cleanup := newTeacherPrefMock(t)
	defer cleanup()
	repo := NewTeacherPreferenceRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("AND teacher_id = ANY($1)")).
		WithArgs(pq.Array([]int64{10, 12})).
		WillReturnRows(sqlmock.NewRows(teacherPrefColumns).
			AddRow(3, 12, 2, 3, true, "medium", nil))

	prefs, err := repo.List(context.Background(), []int64{10, 12})
	require.NoError(t, err)
	require.Len(t, prefs, 1)
	assert.Equal(t, int64(12), prefs[0].TeacherID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
