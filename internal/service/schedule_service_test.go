package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/timetable-engine/internal/dto"
	"github.com/noah-isme/timetable-engine/internal/models"
	"github.com/noah-isme/timetable-engine/internal/repository"
	"github.com/noah-isme/timetable-engine/internal/scheduler"
	appErrors "github.com/noah-isme/timetable-engine/pkg/errors"
)

type scheduleReaderStub struct {
	byGeneration map[int64][]models.ScheduleEntry
	active       []models.ScheduleEntry
	err          error

	calls        int
	activeArgs   []interface{}
	entity       string
	entityID     int64
	entityFilter models.ScheduleFilter
}

func (s *scheduleReaderStub) ListByGeneration(ctx context.Context, generationID int64) ([]models.ScheduleEntry, error) {
	s.calls++
	return s.byGeneration[generationID], s.err
}

func (s *scheduleReaderStub) ListActive(ctx context.Context, semester int, academicYear string) ([]models.ScheduleEntry, error) {
	s.calls++
	s.activeArgs = []interface{}{semester, academicYear}
	return s.active, s.err
}

func (s *scheduleReaderStub) ListForEntity(ctx context.Context, entity string, entityID int64, filter models.ScheduleFilter) ([]models.ScheduleEntry, error) {
	s.calls++
	s.entity, s.entityID, s.entityFilter = entity, entityID, filter
	return s.active, s.err
}

type analysisInputStub struct {
	inputs map[string]scheduler.Inputs
	calls  []string
}

func (s *analysisInputStub) LoadInputs(ctx context.Context, semester int, academicYear string) (scheduler.Inputs, error) {
	key := academicYear
	if semester == 2 {
		key += "/2"
	}
	s.calls = append(s.calls, key)
	return s.inputs[key], nil
}

type memoryCacheRepo struct {
	entries map[string][]byte
}

func newMemoryCacheRepo() *memoryCacheRepo {
	return &memoryCacheRepo{entries: make(map[string][]byte)}
}

func (m *memoryCacheRepo) Get(ctx context.Context, key string, dest interface{}) error {
	payload, ok := m.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(payload, dest)
}

func (m *memoryCacheRepo) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.entries[key] = payload
	return nil
}

func (m *memoryCacheRepo) DeleteByPattern(ctx context.Context, pattern string) error {
	prefix := strings.TrimSuffix(pattern, "*")
	for key := range m.entries {
		if strings.HasPrefix(key, prefix) {
			delete(m.entries, key)
		}
	}
	return nil
}

func activeLesson(id, courseLoadID, teacherID, groupID int64, day, slot int) models.ScheduleEntry {
	generationID := int64(3)
	return models.ScheduleEntry{
		ID:           id,
		GenerationID: &generationID,
		CourseLoadID: courseLoadID,
		DayOfWeek:    day,
		TimeSlot:     slot,
		WeekType:     models.WeekTypeBoth,
		TeacherID:    teacherID,
		GroupID:      groupID,
		Semester:     1,
		AcademicYear: "2025/2026",
		IsActive:     true,
	}
}

func TestScheduleServiceGetSchedule(t *testing.T) {
	reader := &scheduleReaderStub{
		byGeneration: map[int64][]models.ScheduleEntry{3: {activeLesson(1, 1, 10, 100, 1, 1)}},
		active:       []models.ScheduleEntry{activeLesson(1, 1, 10, 100, 1, 1), activeLesson(2, 2, 11, 101, 1, 2)},
	}
	svc := NewScheduleService(reader, nil, nil, nil, nil, scheduler.Grid{})

	resp, err := svc.GetSchedule(context.Background(), dto.ScheduleQuery{GenerationID: 3})
	require.NoError(t, err)
	require.NotNil(t, resp.GenerationID)
	assert.Equal(t, int64(3), *resp.GenerationID)
	assert.False(t, resp.OnlyActive)
	assert.Len(t, resp.Lessons, 1)

	onlyActive := true
	resp, err = svc.GetSchedule(context.Background(), dto.ScheduleQuery{GenerationID: 3, OnlyActive: &onlyActive, Semester: 1, AcademicYear: "2025/2026"})
	require.NoError(t, err)
	assert.True(t, resp.OnlyActive)
	assert.Nil(t, resp.GenerationID)
	assert.Len(t, resp.Lessons, 2)
	assert.Equal(t, []interface{}{1, "2025/2026"}, reader.activeArgs)

	resp, err = svc.GetSchedule(context.Background(), dto.ScheduleQuery{GenerationID: 99})
	require.NoError(t, err)
	assert.NotNil(t, resp.Lessons)
	assert.Empty(t, resp.Lessons)
}

func TestScheduleServiceGetScheduleErrors(t *testing.T) {
	reader := &scheduleReaderStub{err: errors.New("connection refused")}
	svc := NewScheduleService(reader, nil, nil, nil, nil, scheduler.Grid{})

	_, err := svc.GetSchedule(context.Background(), dto.ScheduleQuery{AcademicYear: "2025"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = svc.GetSchedule(context.Background(), dto.ScheduleQuery{})
	assert.ErrorIs(t, err, appErrors.ErrInternal)
}

func TestScheduleServiceCachesUntilInvalidated(t *testing.T) {
	reader := &scheduleReaderStub{active: []models.ScheduleEntry{activeLesson(1, 1, 10, 100, 1, 1)}}
	cache := NewCacheService(newMemoryCacheRepo(), nil, time.Minute, nil, true)
	svc := NewScheduleService(reader, nil, cache, nil, nil, scheduler.Grid{})
	ctx := context.Background()

	first, err := svc.GetSchedule(ctx, dto.ScheduleQuery{Semester: 1, AcademicYear: "2025/2026"})
	require.NoError(t, err)
	second, err := svc.GetSchedule(ctx, dto.ScheduleQuery{Semester: 1, AcademicYear: "2025/2026"})
	require.NoError(t, err)
	assert.Equal(t, 1, reader.calls)
	assert.Equal(t, first.Lessons[0].ID, second.Lessons[0].ID)

	require.NoError(t, cache.InvalidateSchedules(ctx))
	_, err = svc.GetSchedule(ctx, dto.ScheduleQuery{Semester: 1, AcademicYear: "2025/2026"})
	require.NoError(t, err)
	assert.Equal(t, 2, reader.calls)
}

func TestScheduleServiceGetForEntity(t *testing.T) {
	reader := &scheduleReaderStub{active: []models.ScheduleEntry{activeLesson(1, 1, 10, 100, 2, 1)}}
	svc := NewScheduleService(reader, nil, nil, nil, nil, scheduler.Grid{})
	day := 2

	lessons, err := svc.GetForEntity(context.Background(), repository.ScheduleEntityTeacher, 10, dto.EntityScheduleQuery{
		Semester:     1,
		AcademicYear: "2025/2026",
		Day:          &day,
		WeekType:     models.WeekTypeOdd,
	})
	require.NoError(t, err)
	assert.Len(t, lessons, 1)
	assert.Equal(t, repository.ScheduleEntityTeacher, reader.entity)
	assert.Equal(t, int64(10), reader.entityID)
	require.NotNil(t, reader.entityFilter.DayOfWeek)
	assert.Equal(t, 2, *reader.entityFilter.DayOfWeek)
	assert.Equal(t, models.WeekTypeOdd, reader.entityFilter.WeekType)

	_, err = svc.GetForEntity(context.Background(), repository.ScheduleEntityGroup, 100, dto.EntityScheduleQuery{Semester: 1, AcademicYear: "2025/2026"})
	require.NoError(t, err)
	assert.Equal(t, repository.ScheduleEntityGroup, reader.entity)

	_, err = svc.GetForEntity(context.Background(), repository.ScheduleEntityClassroom, 0, dto.EntityScheduleQuery{Semester: 1, AcademicYear: "2025/2026"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestScheduleServiceGetForEntityRejectsSunday(t *testing.T) {
	svc := NewScheduleService(&scheduleReaderStub{}, nil, nil, nil, nil, scheduler.Grid{})
	for _, day := range []int{0, 7} {
		day := day
		_, err := svc.GetForEntity(context.Background(), repository.ScheduleEntityGroup, 100, dto.EntityScheduleQuery{Semester: 1, AcademicYear: "2025/2026", Day: &day})
		assert.ErrorIs(t, err, appErrors.ErrValidation, "day %d", day)
	}
	_, err := svc.GetForEntity(context.Background(), repository.ScheduleEntityGroup, 100, dto.EntityScheduleQuery{AcademicYear: "2025/2026"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestScheduleServiceAnalyze(t *testing.T) {
	loadA := courseLoadFixture(1, 10, 100, 48)
	loadA.TeacherPriority = 1
	loadB := courseLoadFixture(2, 10, 101, 48)
	loadB.TeacherPriority = 1
	reader := &scheduleReaderStub{active: []models.ScheduleEntry{
		activeLesson(1, 1, 10, 100, 1, 1),
		activeLesson(2, 2, 10, 101, 1, 1),
		activeLesson(3, 1, 10, 100, 2, 3),
	}}
	inputs := &analysisInputStub{inputs: map[string]scheduler.Inputs{
		"2025/2026": {
			Loads:       []models.CourseLoad{loadA, loadB},
			Preferences: []models.TeacherPreference{{TeacherID: 10, DayOfWeek: 1, TimeSlot: 1, IsPreferred: true}},
		},
	}}
	svc := NewScheduleService(reader, inputs, nil, nil, nil, scheduler.Grid{})

	resp, err := svc.Analyze(context.Background(), dto.AnalysisQuery{})
	require.NoError(t, err)
	assert.Equal(t, 3, resp.LessonCount)
	assert.False(t, resp.Feasible)
	require.Len(t, resp.ConflictsByKind[scheduler.KindTeacher], 1)
	assert.ElementsMatch(t, []int64{1, 2}, resp.ConflictsByKind[scheduler.KindTeacher][0].LessonIDs)

	require.Len(t, resp.PreferenceViolations, 1)
	violation := resp.PreferenceViolations[0]
	assert.Equal(t, int64(3), violation.LessonID)
	assert.Equal(t, 1, violation.Priority)
	assert.Equal(t, scheduler.PriorityPenalty(1), violation.Penalty)
	assert.Less(t, resp.TotalScore, 0)
	assert.Equal(t, []string{"2025/2026"}, inputs.calls)
}

func TestScheduleServiceAnalyzeSplitsSemesters(t *testing.T) {
	other := activeLesson(2, 2, 10, 100, 1, 1)
	other.Semester = 2
	reader := &scheduleReaderStub{byGeneration: map[int64][]models.ScheduleEntry{
		3: {activeLesson(1, 1, 10, 100, 1, 1), other},
	}}
	inputs := &analysisInputStub{inputs: map[string]scheduler.Inputs{}}
	svc := NewScheduleService(reader, inputs, nil, nil, nil, scheduler.Grid{})

	resp, err := svc.Analyze(context.Background(), dto.AnalysisQuery{GenerationID: 3})
	require.NoError(t, err)
	require.NotNil(t, resp.GenerationID)
	assert.True(t, resp.Feasible)
	assert.Empty(t, resp.Conflicts)
	assert.Equal(t, []string{"2025/2026", "2025/2026/2"}, inputs.calls)
}

func TestScheduleServiceAnalyzeMergesInTermOrder(t *testing.T) {
	later := activeLesson(1, 2, 10, 100, 1, 1)
	later.Semester = 2
	earlier := activeLesson(2, 1, 10, 100, 1, 1)

	for i := 0; i < 20; i++ {
		reader := &scheduleReaderStub{byGeneration: map[int64][]models.ScheduleEntry{3: {later, earlier}}}
		inputs := &analysisInputStub{inputs: map[string]scheduler.Inputs{}}
		svc := NewScheduleService(reader, inputs, nil, nil, nil, scheduler.Grid{})

		resp, err := svc.Analyze(context.Background(), dto.AnalysisQuery{GenerationID: 3})
		require.NoError(t, err)
		require.Len(t, resp.IsolatedLessons, 2)
		assert.Equal(t, int64(2), resp.IsolatedLessons[0].LessonID)
		assert.Equal(t, int64(1), resp.IsolatedLessons[1].LessonID)
		assert.Equal(t, []string{"2025/2026", "2025/2026/2"}, inputs.calls)
	}
}

func TestScheduleServiceAnalyzeEmpty(t *testing.T) {
	svc := NewScheduleService(&scheduleReaderStub{}, &analysisInputStub{}, nil, nil, nil, scheduler.Grid{})
	resp, err := svc.Analyze(context.Background(), dto.AnalysisQuery{})
	require.NoError(t, err)
	assert.Equal(t, 0, resp.LessonCount)
	assert.Equal(t, 0, resp.TotalScore)
	assert.True(t, resp.Feasible)
	assert.NotNil(t, resp.Gaps)
}
