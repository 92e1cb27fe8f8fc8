package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/timetable-engine/internal/models"
	"github.com/noah-isme/timetable-engine/internal/repository"
	"github.com/noah-isme/timetable-engine/internal/scheduler"
)

type courseLoadReader interface {
	ListActive(ctx context.Context, semester int, academicYear string) ([]models.CourseLoad, error)
}

type teacherPreferenceReader interface {
	List(ctx context.Context, teacherIDs []int64) ([]models.TeacherPreference, error)
}

type classroomReader interface {
	ListActive(ctx context.Context) ([]models.Classroom, error)
}

type teacherNameReader interface {
	NamesByIDs(ctx context.Context, ids []int64) (map[int64]string, error)
}

type scheduleWriter interface {
	Insert(ctx context.Context, exec sqlx.ExtContext, entry *models.ScheduleEntry) error
	DeactivateActive(ctx context.Context, exec sqlx.ExtContext, semester int, academicYear string, keepGenerationID int64) (int64, error)
	DeleteByGeneration(ctx context.Context, exec sqlx.ExtContext, generationID int64) (int64, error)
	DedupExact(ctx context.Context, exec sqlx.ExtContext, generationID int64) (int64, error)
	DedupGroup(ctx context.Context, exec sqlx.ExtContext, generationID int64) (int64, error)
	PurgeInactive(ctx context.Context, semester int, academicYear string, cutoff time.Time) (int64, error)
}

type generationRepository interface {
	Create(ctx context.Context, gen *models.Generation) error
	GetByJobID(ctx context.Context, jobID string) (*models.Generation, error)
	Update(ctx context.Context, id int64, params models.UpdateGenerationParams) error
	RequestStop(ctx context.Context, jobID string) (bool, error)
	IsStopRequested(ctx context.Context, id int64) (bool, error)
	MarkInterrupted(ctx context.Context, message string) (int64, error)
}

type agentActionRepository interface {
	Insert(ctx context.Context, action *models.AgentAction) error
	ListByGeneration(ctx context.Context, generationID int64, limit int) ([]models.AgentAction, error)
	Statistics(ctx context.Context, generationID int64) ([]models.ActionStatistics, error)
}

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

// GenerationStoreConfig bounds store calls.
type GenerationStoreConfig struct {
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// ReplaceResult describes one active-set replacement.
type ReplaceResult struct {
	Inserted     int   `json:"inserted"`
	Skipped      int   `json:"skipped"`
	Deactivated  int64 `json:"deactivated"`
	Deduplicated int64 `json:"deduplicated"`
}

// GenerationStore is the only path from the generation workers to Postgres.
// Reads fail fast; writes are retried with exponential backoff. Replacing the
// active set of a semester is serialised per (semester, academic year).
type GenerationStore struct {
	loads       courseLoadReader
	prefs       teacherPreferenceReader
	classrooms  classroomReader
	teachers    teacherNameReader
	schedules   scheduleWriter
	generations generationRepository
	actions     agentActionRepository
	tx          txProvider
	metrics     *MetricsService
	logger      *zap.Logger
	cfg         GenerationStoreConfig

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewGenerationStore wires the store adapter.
func NewGenerationStore(
	loads courseLoadReader,
	prefs teacherPreferenceReader,
	classrooms classroomReader,
	teachers teacherNameReader,
	schedules scheduleWriter,
	generations generationRepository,
	actions agentActionRepository,
	tx txProvider,
	metrics *MetricsService,
	logger *zap.Logger,
	cfg GenerationStoreConfig,
) *GenerationStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 200 * time.Millisecond
	}
	return &GenerationStore{
		loads:       loads,
		prefs:       prefs,
		classrooms:  classrooms,
		teachers:    teachers,
		schedules:   schedules,
		generations: generations,
		actions:     actions,
		tx:          tx,
		metrics:     metrics,
		logger:      logger,
		cfg:         cfg,
		locks:       make(map[string]*sync.Mutex),
	}
}

func (s *GenerationStore) read(ctx context.Context, label string, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	start := time.Now()
	err := fn(callCtx)
	s.metrics.ObserveDBQuery(label, time.Since(start))
	return err
}

// write retries fn until it succeeds, returns a permanent error or the retry
// budget is spent. Each attempt gets its own timeout.
func (s *GenerationStore) write(ctx context.Context, label string, fn func(ctx context.Context) error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.cfg.RetryDelay
	policy.MaxElapsedTime = 0

	operation := func() error {
		err := s.read(ctx, label, fn)
		if err == nil {
			return nil
		}
		if errors.Is(err, sql.ErrNoRows) || errors.Is(err, repository.ErrDayOutOfRange) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		s.logger.Warn("store write failed, retrying",
			zap.String("operation", label),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
	}
	policyWithLimit := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(s.cfg.MaxRetries)), ctx)
	return backoff.RetryNotify(operation, policyWithLimit, notify)
}

func (s *GenerationStore) semesterLock(semester int, academicYear string) *sync.Mutex {
	key := fmt.Sprintf("%d:%s", semester, academicYear)
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[key] = lock
	}
	return lock
}

// LoadInputs reads loads and classrooms in parallel. Preferences are read
// once the loads are known, scoped to the teachers that appear in them.
func (s *GenerationStore) LoadInputs(ctx context.Context, semester int, academicYear string) (scheduler.Inputs, error) {
	var inputs scheduler.Inputs
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		err := s.read(groupCtx, "course_loads.list_active", func(ctx context.Context) error {
			loads, err := s.loads.ListActive(ctx, semester, academicYear)
			if err != nil {
				return fmt.Errorf("load course loads: %w", err)
			}
			inputs.Loads = loads
			return nil
		})
		if err != nil {
			return err
		}
		prefs, err := s.Preferences(groupCtx, loadTeacherIDs(inputs.Loads))
		if err != nil {
			return err
		}
		inputs.Preferences = prefs
		return nil
	})
	group.Go(func() error {
		return s.read(groupCtx, "classrooms.list_active", func(ctx context.Context) error {
			rooms, err := s.classrooms.ListActive(ctx)
			if err != nil {
				return fmt.Errorf("load classrooms: %w", err)
			}
			inputs.Classrooms = rooms
			return nil
		})
	})
	if err := group.Wait(); err != nil {
		return scheduler.Inputs{}, err
	}
	return inputs, nil
}

func loadTeacherIDs(loads []models.CourseLoad) []int64 {
	ids := make([]int64, 0, len(loads))
	for _, load := range loads {
		if load.TeacherID != nil {
			ids = append(ids, *load.TeacherID)
		}
	}
	return lo.Uniq(ids)
}

// Preferences reads the preference rows of the given teachers. An empty list
// reads nothing.
func (s *GenerationStore) Preferences(ctx context.Context, teacherIDs []int64) ([]models.TeacherPreference, error) {
	if len(teacherIDs) == 0 {
		return []models.TeacherPreference{}, nil
	}
	var prefs []models.TeacherPreference
	err := s.read(ctx, "teacher_preferences.list", func(ctx context.Context) error {
		var err error
		prefs, err = s.prefs.List(ctx, teacherIDs)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("load teacher preferences: %w", err)
	}
	return prefs, nil
}

// RefreshTeacherNames replaces the denormalised teacher names of lessons with
// the current names from the teachers table. Unknown teachers keep theirs.
func (s *GenerationStore) RefreshTeacherNames(ctx context.Context, lessons []models.ScheduleEntry) ([]models.ScheduleEntry, error) {
	if len(lessons) == 0 {
		return lessons, nil
	}
	ids := lo.Map(lessons, func(l models.ScheduleEntry, _ int) int64 { return l.TeacherID })
	var names map[int64]string
	err := s.read(ctx, "teachers.names", func(ctx context.Context) error {
		var err error
		names, err = s.teachers.NamesByIDs(ctx, ids)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("refresh teacher names: %w", err)
	}
	refreshed := make([]models.ScheduleEntry, len(lessons))
	for i, lesson := range lessons {
		if name, ok := names[lesson.TeacherID]; ok && name != "" {
			lesson.TeacherName = name
		}
		refreshed[i] = lesson
	}
	return refreshed, nil
}

// ReplaceActive makes lessons the active schedule of the generation's
// semester in one transaction: other active rows are deactivated, rows the
// generation wrote earlier are removed, the lessons are inserted and both
// dedup sweeps run. Lessons outside Monday..Saturday are skipped.
func (s *GenerationStore) ReplaceActive(ctx context.Context, gen *models.Generation, lessons []models.ScheduleEntry) (ReplaceResult, error) {
	if gen == nil || gen.ID == 0 {
		return ReplaceResult{}, fmt.Errorf("replace active schedule: generation is not persisted")
	}
	lock := s.semesterLock(gen.Semester, gen.AcademicYear)
	lock.Lock()
	defer lock.Unlock()

	var result ReplaceResult
	err := s.write(ctx, "schedules.replace_active", func(ctx context.Context) error {
		var err error
		result, err = s.replaceActive(ctx, gen, lessons)
		return err
	})
	if err != nil {
		return ReplaceResult{}, fmt.Errorf("replace active schedule: %w", err)
	}
	s.logger.Info("active schedule replaced",
		zap.String("job_id", gen.JobID),
		zap.Int("semester", gen.Semester),
		zap.String("academic_year", gen.AcademicYear),
		zap.Int("inserted", result.Inserted),
		zap.Int("skipped", result.Skipped),
		zap.Int64("deactivated", result.Deactivated),
		zap.Int64("deduplicated", result.Deduplicated),
	)
	return result, nil
}

func (s *GenerationStore) replaceActive(ctx context.Context, gen *models.Generation, lessons []models.ScheduleEntry) (result ReplaceResult, err error) {
	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if result.Deactivated, err = s.schedules.DeactivateActive(ctx, tx, gen.Semester, gen.AcademicYear, gen.ID); err != nil {
		return result, err
	}
	if _, err = s.schedules.DeleteByGeneration(ctx, tx, gen.ID); err != nil {
		return result, err
	}

	generationID := gen.ID
	for _, lesson := range lessons {
		if lesson.DayOfWeek < 1 || lesson.DayOfWeek > scheduler.MaxDays {
			s.logger.Warn("skipping lesson outside Monday..Saturday",
				zap.String("job_id", gen.JobID),
				zap.Int64("course_load_id", lesson.CourseLoadID),
				zap.Int("day_of_week", lesson.DayOfWeek),
			)
			result.Skipped++
			continue
		}
		row := lesson
		row.ID = 0
		row.GenerationID = &generationID
		row.Semester = gen.Semester
		row.AcademicYear = gen.AcademicYear
		row.WeekType = row.EffectiveWeekType()
		row.IsActive = true
		row.CreatedAt = time.Time{}
		if err = s.schedules.Insert(ctx, tx, &row); err != nil {
			return result, err
		}
		result.Inserted++
	}

	exact, err := s.schedules.DedupExact(ctx, tx, gen.ID)
	if err != nil {
		return result, err
	}
	group, err := s.schedules.DedupGroup(ctx, tx, gen.ID)
	if err != nil {
		return result, err
	}
	result.Deduplicated = exact + group

	if err = tx.Commit(); err != nil {
		return result, fmt.Errorf("commit transaction: %w", err)
	}
	return result, nil
}

// PurgeInactive hard-deletes superseded rows of a semester older than cutoff.
func (s *GenerationStore) PurgeInactive(ctx context.Context, semester int, academicYear string, cutoff time.Time) (int64, error) {
	var purged int64
	err := s.write(ctx, "schedules.purge_inactive", func(ctx context.Context) error {
		var err error
		purged, err = s.schedules.PurgeInactive(ctx, semester, academicYear, cutoff)
		return err
	})
	return purged, err
}

// CreateGeneration inserts the generation row. It is not retried: a lost
// acknowledgement would otherwise produce a second row for the job.
func (s *GenerationStore) CreateGeneration(ctx context.Context, gen *models.Generation) error {
	return s.read(ctx, "generations.create", func(ctx context.Context) error {
		return s.generations.Create(ctx, gen)
	})
}

// GetGeneration loads a generation by job id.
func (s *GenerationStore) GetGeneration(ctx context.Context, jobID string) (*models.Generation, error) {
	var gen *models.Generation
	err := s.read(ctx, "generations.get", func(ctx context.Context) error {
		var err error
		gen, err = s.generations.GetByJobID(ctx, jobID)
		return err
	})
	return gen, err
}

// UpdateGeneration writes progress or status columns.
func (s *GenerationStore) UpdateGeneration(ctx context.Context, id int64, params models.UpdateGenerationParams) error {
	return s.write(ctx, "generations.update", func(ctx context.Context) error {
		return s.generations.Update(ctx, id, params)
	})
}

// RequestStop flags a running generation.
func (s *GenerationStore) RequestStop(ctx context.Context, jobID string) (bool, error) {
	var ok bool
	err := s.write(ctx, "generations.request_stop", func(ctx context.Context) error {
		var err error
		ok, err = s.generations.RequestStop(ctx, jobID)
		return err
	})
	return ok, err
}

// IsStopRequested polls the stop flag.
func (s *GenerationStore) IsStopRequested(ctx context.Context, id int64) (bool, error) {
	var requested bool
	err := s.read(ctx, "generations.stop_flag", func(ctx context.Context) error {
		var err error
		requested, err = s.generations.IsStopRequested(ctx, id)
		return err
	})
	return requested, err
}

// MarkInterrupted fails generations orphaned by a previous process.
func (s *GenerationStore) MarkInterrupted(ctx context.Context, message string) (int64, error) {
	var count int64
	err := s.write(ctx, "generations.mark_interrupted", func(ctx context.Context) error {
		var err error
		count, err = s.generations.MarkInterrupted(ctx, message)
		return err
	})
	return count, err
}

// RecordAction appends an optimizer action.
func (s *GenerationStore) RecordAction(ctx context.Context, action *models.AgentAction) error {
	return s.write(ctx, "agent_actions.insert", func(ctx context.Context) error {
		return s.actions.Insert(ctx, action)
	})
}

// ListActions returns the recorded actions of a generation.
func (s *GenerationStore) ListActions(ctx context.Context, generationID int64, limit int) ([]models.AgentAction, error) {
	var actions []models.AgentAction
	err := s.read(ctx, "agent_actions.list", func(ctx context.Context) error {
		var err error
		actions, err = s.actions.ListByGeneration(ctx, generationID, limit)
		return err
	})
	return actions, err
}

// ActionStatistics aggregates the actions of a generation.
func (s *GenerationStore) ActionStatistics(ctx context.Context, generationID int64) ([]models.ActionStatistics, error) {
	var stats []models.ActionStatistics
	err := s.read(ctx, "agent_actions.statistics", func(ctx context.Context) error {
		var err error
		stats, err = s.actions.Statistics(ctx, generationID)
		return err
	})
	return stats, err
}
