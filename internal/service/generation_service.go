package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jinzhu/now"
	"github.com/jmoiron/sqlx/types"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/noah-isme/timetable-engine/internal/dto"
	"github.com/noah-isme/timetable-engine/internal/models"
	"github.com/noah-isme/timetable-engine/internal/scheduler"
	appErrors "github.com/noah-isme/timetable-engine/pkg/errors"
	"github.com/noah-isme/timetable-engine/pkg/jobs"
)

// GenerationJobType tags generation jobs on the worker queue.
const GenerationJobType = "timetable_generation"

const (
	messageNoCourseLoads = "No course loads found"
	messageInterrupted   = "interrupted by restart"
	defaultHistoryLimit  = 100
)

// JobOutcome is the terminal result of a generation worker.
type JobOutcome struct {
	Status models.GenerationStatus
	Reason string
}

func completedOutcome() JobOutcome {
	return JobOutcome{Status: models.GenerationStatusCompleted}
}

func stoppedOutcome() JobOutcome {
	return JobOutcome{Status: models.GenerationStatusStopped, Reason: "stop requested"}
}

func failedOutcome(format string, args ...interface{}) JobOutcome {
	return JobOutcome{Status: models.GenerationStatusFailed, Reason: fmt.Sprintf(format, args...)}
}

type generationStore interface {
	CreateGeneration(ctx context.Context, gen *models.Generation) error
	GetGeneration(ctx context.Context, jobID string) (*models.Generation, error)
	UpdateGeneration(ctx context.Context, id int64, params models.UpdateGenerationParams) error
	RequestStop(ctx context.Context, jobID string) (bool, error)
	IsStopRequested(ctx context.Context, id int64) (bool, error)
	MarkInterrupted(ctx context.Context, message string) (int64, error)
	LoadInputs(ctx context.Context, semester int, academicYear string) (scheduler.Inputs, error)
	RefreshTeacherNames(ctx context.Context, lessons []models.ScheduleEntry) ([]models.ScheduleEntry, error)
	ReplaceActive(ctx context.Context, gen *models.Generation, lessons []models.ScheduleEntry) (ReplaceResult, error)
	RecordAction(ctx context.Context, action *models.AgentAction) error
	ListActions(ctx context.Context, generationID int64, limit int) ([]models.AgentAction, error)
	ActionStatistics(ctx context.Context, generationID int64) ([]models.ActionStatistics, error)
	PurgeInactive(ctx context.Context, semester int, academicYear string, cutoff time.Time) (int64, error)
}

type jobEnqueuer interface {
	Enqueue(job jobs.Job) error
}

// GenerationConfig carries the algorithmic settings of generation jobs.
type GenerationConfig struct {
	DefaultIterations int
	Patience          int
	Grid              scheduler.Grid
	WeeksInSemester   int
	Retention         time.Duration
	// Seed fixes the random source of every job. Zero seeds from the clock.
	Seed int64
}

// runSummary accumulates what a job did; it is stored in generations.metrics.
type runSummary struct {
	Strategy     string                `json:"strategy"`
	Lessons      int                   `json:"lessons"`
	Shortfalls   []scheduler.Shortfall `json:"shortfalls,omitempty"`
	SkippedLoads int                   `json:"skipped_loads"`
	Iterations   int                   `json:"iterations"`
	InitialScore *int                  `json:"initial_score,omitempty"`
	CurrentScore *int                  `json:"current_score,omitempty"`
	BestScore    *int                  `json:"best_score,omitempty"`
	Replace      ReplaceResult         `json:"replace"`
	Purged       int64                 `json:"purged"`
	DurationMs   int64                 `json:"duration_ms"`
}

func (r *runSummary) setScores(current, best int) {
	r.CurrentScore = &current
	r.BestScore = &best
}

// GenerationService starts, tracks and executes timetable generations.
type GenerationService struct {
	store     generationStore
	queue     jobEnqueuer
	cache     *CacheService
	metrics   *MetricsService
	advisor   scheduler.Advisor
	validator *validator.Validate
	logger    *zap.Logger
	cfg       GenerationConfig
	now       func() time.Time
}

// NewGenerationService wires the orchestrator. The queue is attached
// separately because the queue's handler is the service itself.
func NewGenerationService(store generationStore, cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, cfg GenerationConfig) *GenerationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultIterations < 0 {
		cfg.DefaultIterations = 0
	}
	if cfg.Grid.Days == 0 || cfg.Grid.Slots == 0 {
		cfg.Grid = scheduler.DefaultGrid()
	}
	if cfg.WeeksInSemester <= 0 {
		cfg.WeeksInSemester = scheduler.DefaultWeeksInSemester
	}
	svc := &GenerationService{
		store:     store,
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
	registerAcademicYear(svc.validator)
	return svc
}

// AttachQueue sets the queue generation jobs are dispatched on.
func (s *GenerationService) AttachQueue(queue jobEnqueuer) {
	s.queue = queue
}

// UseAdvisor lets an external advisor propose local-search moves. The
// deterministic ruleset stays as fallback.
func (s *GenerationService) UseAdvisor(advisor scheduler.Advisor) {
	s.advisor = advisor
}

// ResolveAcademicYear maps a date to its academic year: September to
// December belong to "Y/Y+1", January to August to "Y-1/Y".
func ResolveAcademicYear(t time.Time) string {
	september := now.With(t).BeginningOfYear().AddDate(0, 8, 0)
	year := t.Year()
	if t.Before(september) {
		return fmt.Sprintf("%d/%d", year-1, year)
	}
	return fmt.Sprintf("%d/%d", year, year+1)
}

// ValidAcademicYear accepts "YYYY/YYYY" where the second year follows the first.
func ValidAcademicYear(raw string) bool {
	if len(raw) != 9 || raw[4] != '/' {
		return false
	}
	var first, second int
	if _, err := fmt.Sscanf(raw, "%4d/%4d", &first, &second); err != nil {
		return false
	}
	return first >= 1000 && second == first+1
}

// registerAcademicYear installs the academic_year tag used by the DTOs.
func registerAcademicYear(v *validator.Validate) {
	_ = v.RegisterValidation("academic_year", func(fl validator.FieldLevel) bool {
		return ValidAcademicYear(fl.Field().String())
	})
}

// Start persists a running generation and queues it for a worker.
func (s *GenerationService) Start(ctx context.Context, req dto.StartGenerationRequest, actor string) (*dto.StartGenerationResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.WrapAs(err, appErrors.ErrValidation, "invalid generation payload")
	}
	if s.queue == nil {
		return nil, appErrors.Clone(appErrors.ErrUnavailable, "generation queue unavailable")
	}

	academicYear := req.AcademicYear
	if academicYear == "" {
		academicYear = ResolveAcademicYear(s.now())
	}
	iterations := s.cfg.DefaultIterations
	if req.MaxIterations != nil {
		iterations = *req.MaxIterations
	}
	strategy := req.Strategy
	if strategy == "" {
		strategy = models.StrategyLocalSearch
	}

	gen := &models.Generation{
		JobID:         uuid.NewString(),
		Semester:      req.Semester,
		AcademicYear:  academicYear,
		Strategy:      strategy,
		Stage:         models.GenerationStageQueued,
		Status:        models.GenerationStatusRunning,
		MaxIterations: iterations,
	}
	if actor != "" {
		gen.CreatedBy = &actor
	}
	if err := s.store.CreateGeneration(ctx, gen); err != nil {
		return nil, appErrors.WrapAs(err, appErrors.ErrInternal, "failed to create generation")
	}

	if err := s.queue.Enqueue(jobs.Job{ID: gen.JobID, Type: GenerationJobType, Payload: *gen}); err != nil {
		s.finalize(ctx, gen, failedOutcome("failed to queue generation: %v", err), &runSummary{Strategy: strategy})
		return nil, appErrors.WrapAs(err, appErrors.ErrUnavailable, "generation queue is busy")
	}

	s.logger.Info("generation queued",
		zap.String("job_id", gen.JobID),
		zap.Int("semester", gen.Semester),
		zap.String("academic_year", gen.AcademicYear),
		zap.String("strategy", strategy),
		zap.Int("max_iterations", iterations),
	)
	return &dto.StartGenerationResponse{
		Success:      true,
		JobID:        gen.JobID,
		AcademicYear: academicYear,
		Message:      "Generation started",
	}, nil
}

// Stop asks a running generation to stop at its next iteration boundary.
func (s *GenerationService) Stop(ctx context.Context, jobID string) (*dto.StopGenerationResponse, error) {
	requested, err := s.store.RequestStop(ctx, jobID)
	if err != nil {
		return nil, appErrors.WrapAs(err, appErrors.ErrInternal, "failed to request stop")
	}
	if requested {
		s.logger.Info("generation stop requested", zap.String("job_id", jobID))
		return &dto.StopGenerationResponse{Success: true, Message: "Stop requested"}, nil
	}
	gen, err := s.generation(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !gen.Terminal() {
		return &dto.StopGenerationResponse{Success: true, Message: "Stop already requested"}, nil
	}
	return &dto.StopGenerationResponse{Success: false, Message: fmt.Sprintf("Generation already %s", gen.Status)}, nil
}

// GetStatus returns the generation row and its progress.
func (s *GenerationService) GetStatus(ctx context.Context, jobID string) (*dto.GenerationStatusResponse, error) {
	gen, err := s.generation(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return statusResponse(gen), nil
}

// GetHistory returns the generation with its latest actions and per-type statistics.
func (s *GenerationService) GetHistory(ctx context.Context, jobID string, query dto.HistoryQuery) (*dto.GenerationHistoryResponse, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, appErrors.WrapAs(err, appErrors.ErrValidation, "invalid history query")
	}
	limit := query.Limit
	if limit == 0 {
		limit = defaultHistoryLimit
	}
	gen, err := s.generation(ctx, jobID)
	if err != nil {
		return nil, err
	}
	actions, err := s.store.ListActions(ctx, gen.ID, limit)
	if err != nil {
		return nil, appErrors.WrapAs(err, appErrors.ErrInternal, "failed to load generation actions")
	}
	stats, err := s.store.ActionStatistics(ctx, gen.ID)
	if err != nil {
		return nil, appErrors.WrapAs(err, appErrors.ErrInternal, "failed to load action statistics")
	}
	if actions == nil {
		actions = []models.AgentAction{}
	}
	if stats == nil {
		stats = []models.ActionStatistics{}
	}
	return &dto.GenerationHistoryResponse{Generation: *statusResponse(gen), Actions: actions, Statistics: stats}, nil
}

// RecoverInterrupted fails generations a previous process left running.
func (s *GenerationService) RecoverInterrupted(ctx context.Context) (int64, error) {
	count, err := s.store.MarkInterrupted(ctx, messageInterrupted)
	if err != nil {
		return 0, fmt.Errorf("recover interrupted generations: %w", err)
	}
	if count > 0 {
		s.logger.Warn("marked interrupted generations as failed", zap.Int64("count", count))
	}
	return count, nil
}

// Handle is the queue handler for generation jobs.
func (s *GenerationService) Handle(ctx context.Context, job jobs.Job) error {
	gen, ok := job.Payload.(models.Generation)
	if !ok {
		return jobs.Permanent(fmt.Errorf("unexpected generation payload %T", job.Payload))
	}
	outcome := s.Run(ctx, &gen)
	if outcome.Status == models.GenerationStatusFailed {
		return jobs.Permanent(errors.New(outcome.Reason))
	}
	return nil
}

// Run executes a generation to its terminal state and records it.
func (s *GenerationService) Run(ctx context.Context, gen *models.Generation) JobOutcome {
	started := s.now()
	logger := s.logger.With(zap.String("job_id", gen.JobID), zap.Int64("generation_id", gen.ID))
	logger.Info("generation started", zap.String("strategy", gen.Strategy), zap.Int("max_iterations", gen.MaxIterations))
	s.metrics.GenerationStarted()

	summary := &runSummary{Strategy: gen.Strategy}
	outcome := s.execute(ctx, gen, summary, logger)
	if outcome.Status == models.GenerationStatusCompleted {
		s.purge(ctx, gen, summary, logger)
	}
	summary.DurationMs = s.now().Sub(started).Milliseconds()

	s.finalize(context.WithoutCancel(ctx), gen, outcome, summary)
	s.metrics.GenerationFinished(gen.JobID, gen.Strategy, string(outcome.Status), s.now().Sub(started))
	return outcome
}

func (s *GenerationService) execute(ctx context.Context, gen *models.Generation, summary *runSummary, logger *zap.Logger) JobOutcome {
	if err := s.setStage(ctx, gen, models.GenerationStageLoading); err != nil {
		return failedOutcome("failed to update generation: %v", err)
	}
	inputs, err := s.store.LoadInputs(ctx, gen.Semester, gen.AcademicYear)
	if err != nil {
		return failedOutcome("failed to load inputs: %v", err)
	}
	if !lo.ContainsBy(inputs.Loads, func(load models.CourseLoad) bool { return load.Linked() }) {
		return failedOutcome(messageNoCourseLoads)
	}

	if err := s.setStage(ctx, gen, models.GenerationStageConstructing); err != nil {
		return failedOutcome("failed to update generation: %v", err)
	}
	rng := s.rand()
	constructor := scheduler.NewConstructor(scheduler.ConstructorConfig{
		Grid:            s.cfg.Grid,
		WeeksInSemester: s.cfg.WeeksInSemester,
		SharedSlots:     true,
		Rand:            rng,
		Logger:          logger,
	})
	construction := constructor.Build(inputs)
	summary.Shortfalls = construction.Shortfalls
	summary.SkippedLoads = len(construction.Skipped)

	variant := scheduler.VariantLocalSearch
	if gen.Strategy == models.StrategyEvolutionary {
		variant = scheduler.VariantEvolutionary
	}
	evaluator := scheduler.NewEvaluator(s.cfg.Grid, inputs.Preferences, inputs.Classrooms, scheduler.WithVariant(variant))
	seed := construction.Lessons
	seedScore := evaluator.Score(seed)
	summary.InitialScore = &seedScore
	summary.setScores(seedScore, seedScore)

	reasoning := constructionReasoning(construction)
	if err := s.store.UpdateGeneration(ctx, gen.ID, models.UpdateGenerationParams{
		InitialScore:  &seedScore,
		CurrentScore:  &seedScore,
		BestScore:     &seedScore,
		LastReasoning: &reasoning,
	}); err != nil {
		return failedOutcome("failed to update generation: %v", err)
	}

	if err := s.setStage(ctx, gen, models.GenerationStagePersisting); err != nil {
		return failedOutcome("failed to update generation: %v", err)
	}
	if err := s.persist(ctx, gen, seed, summary); err != nil {
		return failedOutcome("failed to persist seed schedule: %v", err)
	}
	if gen.MaxIterations <= 0 {
		return completedOutcome()
	}

	if err := s.setStage(ctx, gen, models.GenerationStageOptimizing); err != nil {
		return failedOutcome("failed to update generation: %v", err)
	}
	if gen.Strategy == models.StrategyEvolutionary {
		return s.evolve(ctx, gen, inputs, evaluator, constructor, seed, rng, summary, logger)
	}
	return s.localSearch(ctx, gen, inputs, evaluator, seed, rng, summary, logger)
}

func (s *GenerationService) localSearch(
	ctx context.Context,
	gen *models.Generation,
	inputs scheduler.Inputs,
	evaluator *scheduler.Evaluator,
	seed []models.ScheduleEntry,
	rng *rand.Rand,
	summary *runSummary,
	logger *zap.Logger,
) JobOutcome {
	var selector scheduler.MoveSelector = scheduler.NewRulesetSelector(rng)
	if s.advisor != nil {
		selector = scheduler.NewAdvisorSelector(s.advisor, selector)
	}
	search := scheduler.NewLocalSearch(scheduler.LocalSearchConfig{
		MaxIterations: gen.MaxIterations,
		Patience:      s.cfg.Patience,
		Logger:        logger,
	}, selector)

	ws := scheduler.NewWorkspace(seed, evaluator, inputs.Classrooms, logger)
	result, err := search.Run(ctx, ws, scheduler.Hooks{
		OnIteration: func(ctx context.Context, record scheduler.IterationRecord) error {
			return s.recordIteration(ctx, gen, record)
		},
		ShouldStop: s.stopPoller(gen),
	})
	summary.Iterations = result.Iterations
	summary.setScores(result.FinalScore, result.BestScore)
	if err != nil {
		return failedOutcome("optimization failed: %v", err)
	}

	lessons, outcome := result.Best, completedOutcome()
	if result.Stopped {
		lessons, outcome = result.Current, stoppedOutcome()
	} else {
		summary.setScores(result.BestScore, result.BestScore)
	}
	logger.Info("local search finished",
		zap.Int("iterations", result.Iterations),
		zap.Int("initial_score", result.InitialScore),
		zap.Int("best_score", result.BestScore),
		zap.Bool("stopped", result.Stopped),
		zap.Bool("early_stopped", result.EarlyStopped),
	)

	if err := s.setStage(ctx, gen, models.GenerationStagePersisting); err != nil {
		return failedOutcome("failed to update generation: %v", err)
	}
	if err := s.persist(ctx, gen, lessons, summary); err != nil {
		return failedOutcome("failed to persist optimized schedule: %v", err)
	}
	return outcome
}

func (s *GenerationService) evolve(
	ctx context.Context,
	gen *models.Generation,
	inputs scheduler.Inputs,
	evaluator *scheduler.Evaluator,
	constructor *scheduler.Constructor,
	seed []models.ScheduleEntry,
	rng *rand.Rand,
	summary *runSummary,
	logger *zap.Logger,
) JobOutcome {
	evolution := scheduler.NewEvolution(scheduler.EvolutionConfig{
		Generations: gen.MaxIterations,
		Rand:        rng,
		Logger:      logger,
	}, evaluator, constructor, inputs)

	best := *summary.BestScore
	result, err := evolution.Run(ctx, seed, scheduler.EvolutionHooks{
		OnGeneration: func(ctx context.Context, record scheduler.GenerationRecord) error {
			before := best
			if record.BestScore > best {
				best = record.BestScore
			}
			return s.recordGeneration(ctx, gen, record, before, best)
		},
		ShouldStop: s.stopPoller(gen),
	})
	summary.Iterations = result.Generations
	summary.setScores(result.BestScore, result.BestScore)
	if err != nil {
		return failedOutcome("optimization failed: %v", err)
	}
	logger.Info("evolution finished",
		zap.Int("generations", result.Generations),
		zap.Int("initial_score", result.InitialScore),
		zap.Int("best_score", result.BestScore),
		zap.Bool("stopped", result.Stopped),
	)

	outcome := completedOutcome()
	if result.Stopped {
		outcome = stoppedOutcome()
	}
	if err := s.setStage(ctx, gen, models.GenerationStagePersisting); err != nil {
		return failedOutcome("failed to update generation: %v", err)
	}
	if err := s.persist(ctx, gen, result.Best, summary); err != nil {
		return failedOutcome("failed to persist optimized schedule: %v", err)
	}
	return outcome
}

// recordIteration makes an iteration durable before the next one starts.
func (s *GenerationService) recordIteration(ctx context.Context, gen *models.Generation, record scheduler.IterationRecord) error {
	params, err := json.Marshal(record.Proposal)
	if err != nil {
		return fmt.Errorf("encode move params: %w", err)
	}
	reasoning := record.Proposal.Reasoning
	if !record.Accepted && record.Outcome.Reason != "" {
		reasoning = fmt.Sprintf("%s (%s: %s)", reasoning, record.Outcome.Kind, record.Outcome.Reason)
	}
	action := &models.AgentAction{
		GenerationID:    gen.ID,
		Iteration:       record.Iteration,
		ActionType:      record.Proposal.Kind,
		ActionParams:    types.JSONText(params),
		Success:         record.Accepted,
		ScoreBefore:     record.ScoreBefore,
		ScoreAfter:      record.ScoreAfter,
		ScoreDelta:      record.Delta,
		Reasoning:       reasoning,
		ExecutionTimeMs: record.Elapsed.Milliseconds(),
	}
	if err := s.store.RecordAction(ctx, action); err != nil {
		return err
	}

	outcome := string(record.Outcome.Kind)
	if record.Accepted {
		outcome = "accepted"
	} else if record.Outcome.Kind == scheduler.OutcomeCommitted {
		outcome = "rolled_back"
	}
	s.metrics.RecordMove(record.Proposal.Kind, outcome)
	s.metrics.SetBestScore(gen.JobID, record.BestScore)

	iteration, current, best := record.Iteration, record.ScoreAfter, record.BestScore
	return s.store.UpdateGeneration(ctx, gen.ID, models.UpdateGenerationParams{
		CurrentIteration: &iteration,
		CurrentScore:     &current,
		BestScore:        &best,
		LastReasoning:    &reasoning,
	})
}

func (s *GenerationService) recordGeneration(ctx context.Context, gen *models.Generation, record scheduler.GenerationRecord, before, best int) error {
	params, err := json.Marshal(map[string]interface{}{
		"best_score": record.BestScore,
		"mean_score": record.MeanScore,
		"valid":      record.Valid,
		"population": record.Population,
	})
	if err != nil {
		return fmt.Errorf("encode generation params: %w", err)
	}
	reasoning := fmt.Sprintf("generation %d: best %d, mean %.1f, %d of %d feasible",
		record.Generation, record.BestScore, record.MeanScore, record.Valid, record.Population)
	action := &models.AgentAction{
		GenerationID:    gen.ID,
		Iteration:       record.Generation,
		ActionType:      models.ActionEvolutionGeneration,
		ActionParams:    types.JSONText(params),
		Success:         best > before,
		ScoreBefore:     before,
		ScoreAfter:      best,
		ScoreDelta:      best - before,
		Reasoning:       reasoning,
		ExecutionTimeMs: record.Elapsed.Milliseconds(),
	}
	if err := s.store.RecordAction(ctx, action); err != nil {
		return err
	}
	s.metrics.SetBestScore(gen.JobID, best)

	iteration, current := record.Generation, record.BestScore
	return s.store.UpdateGeneration(ctx, gen.ID, models.UpdateGenerationParams{
		CurrentIteration: &iteration,
		CurrentScore:     &current,
		BestScore:        &best,
		LastReasoning:    &reasoning,
	})
}

func (s *GenerationService) stopPoller(gen *models.Generation) func(ctx context.Context) (bool, error) {
	return func(ctx context.Context) (bool, error) {
		return s.store.IsStopRequested(ctx, gen.ID)
	}
}

// persist refreshes teacher names and makes lessons the active schedule.
func (s *GenerationService) persist(ctx context.Context, gen *models.Generation, lessons []models.ScheduleEntry, summary *runSummary) error {
	lessons, err := s.store.RefreshTeacherNames(ctx, lessons)
	if err != nil {
		return err
	}
	result, err := s.store.ReplaceActive(ctx, gen, lessons)
	if err != nil {
		return err
	}
	summary.Lessons = result.Inserted
	summary.Replace = result
	if err := s.cache.InvalidateSchedules(ctx); err != nil {
		s.logger.Warn("failed to invalidate schedule cache", zap.String("job_id", gen.JobID), zap.Error(err))
	}
	return nil
}

// purge drops superseded rows of the semester older than the retention window.
func (s *GenerationService) purge(ctx context.Context, gen *models.Generation, summary *runSummary, logger *zap.Logger) {
	if s.cfg.Retention <= 0 {
		return
	}
	cutoff := now.With(s.now().Add(-s.cfg.Retention)).BeginningOfDay()
	purged, err := s.store.PurgeInactive(ctx, gen.Semester, gen.AcademicYear, cutoff)
	if err != nil {
		logger.Warn("failed to purge superseded schedules", zap.Error(err))
		return
	}
	summary.Purged = purged
}

func (s *GenerationService) setStage(ctx context.Context, gen *models.Generation, stage string) error {
	if err := s.store.UpdateGeneration(ctx, gen.ID, models.UpdateGenerationParams{Stage: &stage}); err != nil {
		return err
	}
	gen.Stage = stage
	return nil
}

// finalize records the terminal state. Failures here are logged only; a
// generation left running is failed by RecoverInterrupted on restart.
func (s *GenerationService) finalize(ctx context.Context, gen *models.Generation, outcome JobOutcome, summary *runSummary) {
	completedAt := s.now().UTC()
	stage := models.GenerationStageDone
	status := outcome.Status
	params := models.UpdateGenerationParams{
		Stage:        &stage,
		Status:       &status,
		CompletedAt:  &completedAt,
		CurrentScore: summary.CurrentScore,
		BestScore:    summary.BestScore,
	}
	if summary.Iterations > 0 {
		params.CurrentIteration = &summary.Iterations
	}
	if status == models.GenerationStatusFailed {
		params.ErrorMessage = &outcome.Reason
	}
	if payload, err := json.Marshal(summary); err == nil {
		metrics := types.JSONText(payload)
		params.Metrics = &metrics
	}
	if err := s.store.UpdateGeneration(ctx, gen.ID, params); err != nil {
		s.logger.Error("failed to record generation outcome", zap.String("job_id", gen.JobID), zap.Error(err))
	}
	gen.Status = status
	gen.Stage = stage

	fields := []zap.Field{
		zap.String("job_id", gen.JobID),
		zap.String("status", string(status)),
		zap.Int("lessons", summary.Lessons),
		zap.Int("iterations", summary.Iterations),
	}
	if status == models.GenerationStatusFailed {
		s.logger.Error("generation failed", append(fields, zap.String("reason", outcome.Reason))...)
		return
	}
	s.logger.Info("generation finished", fields...)
}

func (s *GenerationService) generation(ctx context.Context, jobID string) (*models.Generation, error) {
	gen, err := s.store.GetGeneration(ctx, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "generation not found")
		}
		return nil, appErrors.WrapAs(err, appErrors.ErrInternal, "failed to load generation")
	}
	return gen, nil
}

func (s *GenerationService) rand() *rand.Rand {
	seed := s.cfg.Seed
	if seed == 0 {
		seed = s.now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}

func statusResponse(gen *models.Generation) *dto.GenerationStatusResponse {
	return &dto.GenerationStatusResponse{Generation: *gen, ProgressPercentage: gen.ProgressPercentage()}
}

func constructionReasoning(c scheduler.Construction) string {
	msg := fmt.Sprintf("initial schedule with %d lessons", len(c.Lessons))
	if len(c.Shortfalls) > 0 {
		missing := lo.SumBy(c.Shortfalls, func(sf scheduler.Shortfall) int { return sf.Expected - sf.Placed })
		msg += fmt.Sprintf("; warning: %d loads short of target, %d lessons unplaced", len(c.Shortfalls), missing)
	}
	if len(c.Skipped) > 0 {
		msg += fmt.Sprintf("; %d loads skipped", len(c.Skipped))
	}
	return msg
}
