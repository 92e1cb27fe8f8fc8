package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/timetable-engine/internal/models"
	"github.com/noah-isme/timetable-engine/internal/repository"
)

type txProviderMock struct {
	db *sqlx.DB
}

func newTxProviderMock(t *testing.T) (txProvider, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &txProviderMock{db: sqlx.NewDb(db, "sqlmock")}, mock
}

func (m *txProviderMock) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return m.db.BeginTxx(ctx, opts)
}

type scheduleWriterStub struct {
	deactivateErrs []error
	insertErr      error
	inserted       []models.ScheduleEntry
	deactivated    int
	deleted        int
	purgeCalls     int
}

func (s *scheduleWriterStub) Insert(ctx context.Context, exec sqlx.ExtContext, entry *models.ScheduleEntry) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	entry.ID = int64(len(s.inserted) + 1)
	s.inserted = append(s.inserted, *entry)
	return nil
}

func (s *scheduleWriterStub) DeactivateActive(ctx context.Context, exec sqlx.ExtContext, semester int, academicYear string, keepGenerationID int64) (int64, error) {
	s.deactivated++
	if len(s.deactivateErrs) > 0 {
		err := s.deactivateErrs[0]
		s.deactivateErrs = s.deactivateErrs[1:]
		if err != nil {
			return 0, err
		}
	}
	return 4, nil
}

func (s *scheduleWriterStub) DeleteByGeneration(ctx context.Context, exec sqlx.ExtContext, generationID int64) (int64, error) {
	s.deleted++
	s.inserted = nil
	return 0, nil
}

func (s *scheduleWriterStub) DedupExact(ctx context.Context, exec sqlx.ExtContext, generationID int64) (int64, error) {
	return 1, nil
}

func (s *scheduleWriterStub) DedupGroup(ctx context.Context, exec sqlx.ExtContext, generationID int64) (int64, error) {
	return 0, nil
}

func (s *scheduleWriterStub) PurgeInactive(ctx context.Context, semester int, academicYear string, cutoff time.Time) (int64, error) {
	s.purgeCalls++
	return 0, errors.New("connection reset by peer")
}

type generationRepoStub struct {
	updateErr   error
	updateCalls int
}

func (s *generationRepoStub) Create(ctx context.Context, gen *models.Generation) error {
	gen.ID = 1
	return nil
}

func (s *generationRepoStub) GetByJobID(ctx context.Context, jobID string) (*models.Generation, error) {
	return nil, sql.ErrNoRows
}

func (s *generationRepoStub) Update(ctx context.Context, id int64, params models.UpdateGenerationParams) error {
	s.updateCalls++
	return s.updateErr
}

func (s *generationRepoStub) RequestStop(ctx context.Context, jobID string) (bool, error) {
	return true, nil
}

func (s *generationRepoStub) IsStopRequested(ctx context.Context, id int64) (bool, error) {
	return false, nil
}

func (s *generationRepoStub) MarkInterrupted(ctx context.Context, message string) (int64, error) {
	return 0, nil
}

type courseLoadReaderStub struct{ loads []models.CourseLoad }

func (s courseLoadReaderStub) ListActive(ctx context.Context, semester int, academicYear string) ([]models.CourseLoad, error) {
	return s.loads, nil
}

type preferenceReaderStub struct {
	prefs      []models.TeacherPreference
	err        error
	calls      int
	teacherIDs []int64
}

func (s *preferenceReaderStub) List(ctx context.Context, teacherIDs []int64) ([]models.TeacherPreference, error) {
	s.calls++
	s.teacherIDs = teacherIDs
	if s.err != nil {
		return nil, s.err
	}
	return lo.Filter(s.prefs, func(p models.TeacherPreference, _ int) bool {
		return lo.Contains(teacherIDs, p.TeacherID)
	}), nil
}

type classroomReaderStub struct{ rooms []models.Classroom }

func (s classroomReaderStub) ListActive(ctx context.Context) ([]models.Classroom, error) {
	return s.rooms, nil
}

type teacherNameReaderStub struct{ names map[int64]string }

func (s teacherNameReaderStub) NamesByIDs(ctx context.Context, ids []int64) (map[int64]string, error) {
	return s.names, nil
}

type storeFixture struct {
	loads       courseLoadReader
	prefs       teacherPreferenceReader
	classrooms  classroomReader
	teachers    teacherNameReader
	schedules   *scheduleWriterStub
	generations *generationRepoStub
	tx          txProvider
}

func newGenerationStoreFixture(f storeFixture) *GenerationStore {
	if f.schedules == nil {
		f.schedules = &scheduleWriterStub{}
	}
	if f.generations == nil {
		f.generations = &generationRepoStub{}
	}
	return NewGenerationStore(f.loads, f.prefs, f.classrooms, f.teachers, f.schedules, f.generations, nil, f.tx, nil, nil,
		GenerationStoreConfig{Timeout: time.Second, MaxRetries: 3, RetryDelay: time.Millisecond})
}

func scheduleLesson(courseLoadID int64, day, slot int) models.ScheduleEntry {
	return models.ScheduleEntry{
		ID:           courseLoadID * 100,
		CourseLoadID: courseLoadID,
		DayOfWeek:    day,
		TimeSlot:     slot,
		TeacherID:    10,
		GroupID:      100,
		IsActive:     false,
	}
}

func TestGenerationStoreReplaceActive(t *testing.T) {
	tx, mock := newTxProviderMock(t)
	schedules := &scheduleWriterStub{}
	store := newGenerationStoreFixture(storeFixture{schedules: schedules, tx: tx})

	mock.ExpectBegin()
	mock.ExpectCommit()

	gen := &models.Generation{ID: 9, JobID: "job-9", Semester: 1, AcademicYear: "2025/2026"}
	result, err := store.ReplaceActive(context.Background(), gen, []models.ScheduleEntry{
		scheduleLesson(1, 1, 1),
		scheduleLesson(2, 7, 1),
		scheduleLesson(3, 6, 6),
	})
	require.NoError(t, err)
	assert.Equal(t, ReplaceResult{Inserted: 2, Skipped: 1, Deactivated: 4, Deduplicated: 1}, result)

	require.Len(t, schedules.inserted, 2)
	for _, row := range schedules.inserted {
		require.NotNil(t, row.GenerationID)
		assert.Equal(t, int64(9), *row.GenerationID)
		assert.True(t, row.IsActive)
		assert.Equal(t, models.WeekTypeBoth, row.WeekType)
		assert.Equal(t, "2025/2026", row.AcademicYear)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGenerationStoreReplaceActiveRetriesTransientFailures(t *testing.T) {
	tx, mock := newTxProviderMock(t)
	schedules := &scheduleWriterStub{deactivateErrs: []error{errors.New("could not serialize access")}}
	store := newGenerationStoreFixture(storeFixture{schedules: schedules, tx: tx})

	mock.ExpectBegin()
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectCommit()

	gen := &models.Generation{ID: 9, JobID: "job-9", Semester: 1, AcademicYear: "2025/2026"}
	result, err := store.ReplaceActive(context.Background(), gen, []models.ScheduleEntry{scheduleLesson(1, 2, 3)})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Inserted)
	assert.Equal(t, 2, schedules.deactivated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGenerationStoreReplaceActiveStopsOnInvalidDay(t *testing.T) {
	tx, mock := newTxProviderMock(t)
	schedules := &scheduleWriterStub{insertErr: repository.ErrDayOutOfRange}
	store := newGenerationStoreFixture(storeFixture{schedules: schedules, tx: tx})

	mock.ExpectBegin()
	mock.ExpectRollback()

	gen := &models.Generation{ID: 9, JobID: "job-9", Semester: 1, AcademicYear: "2025/2026"}
	_, err := store.ReplaceActive(context.Background(), gen, []models.ScheduleEntry{scheduleLesson(1, 2, 3)})
	assert.ErrorIs(t, err, repository.ErrDayOutOfRange)
	assert.Equal(t, 1, schedules.deactivated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGenerationStoreReplaceActiveRequiresPersistedGeneration(t *testing.T) {
	store := newGenerationStoreFixture(storeFixture{})
	_, err := store.ReplaceActive(context.Background(), &models.Generation{}, nil)
	assert.Error(t, err)
}

func TestGenerationStoreWriteGivesUpAfterRetries(t *testing.T) {
	schedules := &scheduleWriterStub{}
	store := newGenerationStoreFixture(storeFixture{schedules: schedules})

	_, err := store.PurgeInactive(context.Background(), 1, "2025/2026", time.Now())
	assert.Error(t, err)
	assert.Equal(t, 4, schedules.purgeCalls)
}

func TestGenerationStoreUpdateDoesNotRetryMissingRows(t *testing.T) {
	generations := &generationRepoStub{updateErr: sql.ErrNoRows}
	store := newGenerationStoreFixture(storeFixture{generations: generations})

	stage := models.GenerationStageLoading
	err := store.UpdateGeneration(context.Background(), 1, models.UpdateGenerationParams{Stage: &stage})
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.Equal(t, 1, generations.updateCalls)
}

func TestGenerationStoreLoadInputsScopesPreferences(t *testing.T) {
	unlinked := courseLoadFixture(3, 0, 100, 48)
	unlinked.TeacherID = nil
	prefs := &preferenceReaderStub{prefs: []models.TeacherPreference{
		{TeacherID: 10, DayOfWeek: 1, TimeSlot: 1, IsPreferred: true},
		{TeacherID: 99, DayOfWeek: 1, TimeSlot: 2, IsPreferred: true},
		{TeacherID: 11, DayOfWeek: 2, TimeSlot: 1},
	}}
	store := newGenerationStoreFixture(storeFixture{
		loads: courseLoadReaderStub{loads: []models.CourseLoad{
			courseLoadFixture(1, 10, 100, 48),
			courseLoadFixture(2, 11, 100, 48),
			courseLoadFixture(4, 10, 101, 48),
			unlinked,
		}},
		prefs:      prefs,
		classrooms: classroomReaderStub{rooms: []models.Classroom{{ID: 1, Capacity: 30, IsActive: true}}},
	})

	inputs, err := store.LoadInputs(context.Background(), 1, "2025/2026")
	require.NoError(t, err)
	assert.Len(t, inputs.Loads, 4)
	assert.Len(t, inputs.Classrooms, 1)
	assert.Equal(t, 1, prefs.calls)
	assert.Equal(t, []int64{10, 11}, prefs.teacherIDs)
	require.Len(t, inputs.Preferences, 2)
	assert.Equal(t, int64(10), inputs.Preferences[0].TeacherID)
	assert.Equal(t, int64(11), inputs.Preferences[1].TeacherID)
}

func TestGenerationStoreLoadInputsSkipsPreferencesWithoutTeachers(t *testing.T) {
	unlinked := courseLoadFixture(3, 0, 100, 48)
	unlinked.TeacherID = nil
	prefs := &preferenceReaderStub{prefs: []models.TeacherPreference{{TeacherID: 10, DayOfWeek: 1, TimeSlot: 1}}}
	store := newGenerationStoreFixture(storeFixture{
		loads:      courseLoadReaderStub{loads: []models.CourseLoad{unlinked}},
		prefs:      prefs,
		classrooms: classroomReaderStub{},
	})

	inputs, err := store.LoadInputs(context.Background(), 1, "2025/2026")
	require.NoError(t, err)
	assert.Zero(t, prefs.calls)
	assert.Empty(t, inputs.Preferences)
}

func TestGenerationStoreLoadInputsError(t *testing.T) {
	store := newGenerationStoreFixture(storeFixture{
		loads:      courseLoadReaderStub{loads: []models.CourseLoad{courseLoadFixture(1, 10, 100, 48)}},
		prefs:      &preferenceReaderStub{err: errors.New("relation does not exist")},
		classrooms: classroomReaderStub{},
	})
	_, err := store.LoadInputs(context.Background(), 1, "2025/2026")
	assert.ErrorContains(t, err, "load teacher preferences")
}

func TestGenerationStoreRefreshTeacherNames(t *testing.T) {
	store := newGenerationStoreFixture(storeFixture{
		teachers: teacherNameReaderStub{names: map[int64]string{10: "Dr. Rahma Putri"}},
	})
	lessons := []models.ScheduleEntry{
		{ID: 1, TeacherID: 10, TeacherName: "R. Putri"},
		{ID: 2, TeacherID: 11, TeacherName: "B. Santoso"},
	}

	refreshed, err := store.RefreshTeacherNames(context.Background(), lessons)
	require.NoError(t, err)
	assert.Equal(t, "Dr. Rahma Putri", refreshed[0].TeacherName)
	assert.Equal(t, "B. Santoso", refreshed[1].TeacherName)
	assert.Equal(t, "R. Putri", lessons[0].TeacherName)
}
