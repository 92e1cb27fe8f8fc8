package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/noah-isme/timetable-engine/internal/dto"
	"github.com/noah-isme/timetable-engine/internal/models"
	"github.com/noah-isme/timetable-engine/internal/scheduler"
	appErrors "github.com/noah-isme/timetable-engine/pkg/errors"
)

type scheduleReader interface {
	ListByGeneration(ctx context.Context, generationID int64) ([]models.ScheduleEntry, error)
	ListActive(ctx context.Context, semester int, academicYear string) ([]models.ScheduleEntry, error)
	ListForEntity(ctx context.Context, entity string, entityID int64, filter models.ScheduleFilter) ([]models.ScheduleEntry, error)
}

type analysisInputLoader interface {
	LoadInputs(ctx context.Context, semester int, academicYear string) (scheduler.Inputs, error)
}

// ScheduleService serves persisted timetables and their fitness analysis.
type ScheduleService struct {
	schedules scheduleReader
	inputs    analysisInputLoader
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
	grid      scheduler.Grid
}

// NewScheduleService instantiates ScheduleService.
func NewScheduleService(schedules scheduleReader, inputs analysisInputLoader, cache *CacheService, validate *validator.Validate, logger *zap.Logger, grid scheduler.Grid) *ScheduleService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if grid.Days == 0 || grid.Slots == 0 {
		grid = scheduler.DefaultGrid()
	}
	registerAcademicYear(validate)
	return &ScheduleService{schedules: schedules, inputs: inputs, cache: cache, validator: validate, logger: logger, grid: grid}
}

// GetSchedule returns the lessons of one generation, or the active lessons
// when no generation is given or onlyActive is set.
func (s *ScheduleService) GetSchedule(ctx context.Context, query dto.ScheduleQuery) (*dto.ScheduleResponse, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, appErrors.WrapAs(err, appErrors.ErrValidation, "invalid schedule query")
	}
	generationID := query.GenerationID
	if query.OnlyActive != nil && *query.OnlyActive {
		generationID = 0
	}

	key := scheduleCacheKey(cacheFamilySchedule, generationID, query.Semester, query.AcademicYear)
	var cached dto.ScheduleResponse
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return &cached, nil
	}

	lessons, err := s.lessons(ctx, generationID, query.Semester, query.AcademicYear)
	if err != nil {
		return nil, err
	}
	resp := &dto.ScheduleResponse{OnlyActive: generationID == 0, Lessons: lessons}
	if generationID > 0 {
		resp.GenerationID = &generationID
	}
	_ = s.cache.Set(ctx, key, resp, 0)
	return resp, nil
}

// GetForEntity returns the active timetable of a group, teacher or classroom.
func (s *ScheduleService) GetForEntity(ctx context.Context, entity string, entityID int64, query dto.EntityScheduleQuery) ([]models.ScheduleEntry, error) {
	if entityID <= 0 {
		return nil, appErrors.Validationf("invalid %s id", entity)
	}
	if err := s.validator.Struct(query); err != nil {
		return nil, appErrors.WrapAs(err, appErrors.ErrValidation, "invalid schedule query")
	}

	day := 0
	if query.Day != nil {
		day = *query.Day
	}
	key := fmt.Sprintf("%s:%s:%d:%d:%s:%d:%s", cacheFamilyEntity, entity, entityID, query.Semester, query.AcademicYear, day, query.WeekType)
	var cached []models.ScheduleEntry
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return cached, nil
	}

	lessons, err := s.schedules.ListForEntity(ctx, entity, entityID, models.ScheduleFilter{
		Semester:     query.Semester,
		AcademicYear: query.AcademicYear,
		DayOfWeek:    query.Day,
		WeekType:     query.WeekType,
	})
	if err != nil {
		return nil, appErrors.WrapAs(err, appErrors.ErrInternal, fmt.Sprintf("failed to list %s schedule", entity))
	}
	if lessons == nil {
		lessons = []models.ScheduleEntry{}
	}
	_ = s.cache.Set(ctx, key, lessons, 0)
	return lessons, nil
}

type termKey struct {
	semester     int
	academicYear string
}

// Analyze scores a stored schedule. Lessons of different semesters never
// compete for a slot, so each (semester, academic year) is evaluated against
// its own course loads and the reports are merged in term order.
func (s *ScheduleService) Analyze(ctx context.Context, query dto.AnalysisQuery) (*dto.ScheduleAnalysisResponse, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, appErrors.WrapAs(err, appErrors.ErrValidation, "invalid analysis query")
	}

	key := scheduleCacheKey(cacheFamilyAnalysis, query.GenerationID, query.Semester, query.AcademicYear)
	var cached dto.ScheduleAnalysisResponse
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return &cached, nil
	}

	lessons, err := s.lessons(ctx, query.GenerationID, query.Semester, query.AcademicYear)
	if err != nil {
		return nil, err
	}

	report := emptyReport()
	partitions := lo.GroupBy(lessons, func(l models.ScheduleEntry) termKey {
		return termKey{semester: l.Semester, academicYear: l.AcademicYear}
	})
	terms := lo.Keys(partitions)
	sort.Slice(terms, func(i, j int) bool {
		if terms[i].semester != terms[j].semester {
			return terms[i].semester < terms[j].semester
		}
		return terms[i].academicYear < terms[j].academicYear
	})
	for _, term := range terms {
		partition := partitions[term]
		inputs, err := s.inputs.LoadInputs(ctx, term.semester, term.academicYear)
		if err != nil {
			return nil, appErrors.WrapAs(err, appErrors.ErrInternal, "failed to load analysis inputs")
		}
		evaluator := scheduler.NewEvaluator(s.grid, inputs.Preferences, inputs.Classrooms)
		mergeReport(&report, evaluator.Evaluate(enrichLessons(partition, inputs.Loads)))
	}

	resp := &dto.ScheduleAnalysisResponse{
		LessonCount:          len(lessons),
		TotalScore:           report.TotalScore,
		Feasible:             report.Feasible(),
		Conflicts:            report.Conflicts,
		ConflictsByKind:      report.ConflictsByKind(),
		HardViolations:       report.HardViolations,
		PreferenceViolations: report.PreferenceViolations,
		IsolatedLessons:      report.IsolatedLessons,
		Gaps:                 report.Gaps,
		GapsCount:            report.GapsCount(),
	}
	if query.GenerationID > 0 {
		generationID := query.GenerationID
		resp.GenerationID = &generationID
	}
	s.logger.Debug("schedule analysed",
		zap.Int64("generation_id", query.GenerationID),
		zap.Int("lessons", resp.LessonCount),
		zap.Int("total_score", resp.TotalScore),
	)
	_ = s.cache.Set(ctx, key, resp, 0)
	return resp, nil
}

func (s *ScheduleService) lessons(ctx context.Context, generationID int64, semester int, academicYear string) ([]models.ScheduleEntry, error) {
	var (
		lessons []models.ScheduleEntry
		err     error
	)
	if generationID > 0 {
		lessons, err = s.schedules.ListByGeneration(ctx, generationID)
	} else {
		lessons, err = s.schedules.ListActive(ctx, semester, academicYear)
	}
	if err != nil {
		return nil, appErrors.WrapAs(err, appErrors.ErrInternal, "failed to list schedules")
	}
	if lessons == nil {
		lessons = []models.ScheduleEntry{}
	}
	return lessons, nil
}

// enrichLessons restores the teacher priority and group size the schedules
// table does not store.
func enrichLessons(lessons []models.ScheduleEntry, loads []models.CourseLoad) []models.ScheduleEntry {
	byID := lo.KeyBy(loads, func(load models.CourseLoad) int64 { return load.ID })
	enriched := make([]models.ScheduleEntry, len(lessons))
	for i, lesson := range lessons {
		if load, ok := byID[lesson.CourseLoadID]; ok {
			lesson.TeacherPriority = load.TeacherPriority
			lesson.GroupSize = load.GroupSize
		}
		enriched[i] = lesson
	}
	return enriched
}

func emptyReport() scheduler.Report {
	return scheduler.Report{
		Conflicts:            []scheduler.Conflict{},
		HardViolations:       []scheduler.HardViolation{},
		PreferenceViolations: []scheduler.PreferenceViolation{},
		IsolatedLessons:      []scheduler.IsolatedLesson{},
		Gaps:                 []scheduler.Gap{},
	}
}

func mergeReport(dst *scheduler.Report, src scheduler.Report) {
	dst.TotalScore += src.TotalScore
	dst.HardScore += src.HardScore
	dst.PreferenceScore += src.PreferenceScore
	dst.IsolatedScore += src.IsolatedScore
	dst.GapScore += src.GapScore
	dst.AuxiliaryScore += src.AuxiliaryScore
	dst.Conflicts = append(dst.Conflicts, src.Conflicts...)
	dst.HardViolations = append(dst.HardViolations, src.HardViolations...)
	dst.PreferenceViolations = append(dst.PreferenceViolations, src.PreferenceViolations...)
	dst.IsolatedLessons = append(dst.IsolatedLessons, src.IsolatedLessons...)
	dst.Gaps = append(dst.Gaps, src.Gaps...)
}
