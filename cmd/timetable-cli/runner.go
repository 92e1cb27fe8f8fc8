package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/noah-isme/timetable-engine/internal/fixture"
	"github.com/noah-isme/timetable-engine/internal/models"
	"github.com/noah-isme/timetable-engine/internal/scheduler"
	"github.com/noah-isme/timetable-engine/internal/service"
	"github.com/noah-isme/timetable-engine/pkg/config"
)

type runner struct {
	cfg    *config.Config
	opts   *options
	grid   scheduler.Grid
	logger *zap.Logger
}

func newRunner(cfg *config.Config, opts *options) *runner {
	return &runner{cfg: cfg, opts: opts, grid: gridFrom(cfg), logger: newLogger(cfg, opts.verbose)}
}

func (r *runner) inputs() (scheduler.Inputs, error) {
	year := r.opts.academicYear
	if year == "" {
		year = service.ResolveAcademicYear(time.Now())
	}
	if !service.ValidAcademicYear(year) {
		return scheduler.Inputs{}, fmt.Errorf("invalid academic year %q", year)
	}
	return fixture.LoadInputs(r.opts.paths, r.opts.semester, year)
}

func (r *runner) evaluator(inputs scheduler.Inputs) *scheduler.Evaluator {
	variant := scheduler.VariantLocalSearch
	if r.opts.strategy == models.StrategyEvolutionary {
		variant = scheduler.VariantEvolutionary
	}
	return scheduler.NewEvaluator(r.grid, inputs.Preferences, inputs.Classrooms, scheduler.WithVariant(variant))
}

func (r *runner) constructor(rng *rand.Rand) *scheduler.Constructor {
	return scheduler.NewConstructor(scheduler.ConstructorConfig{
		Grid:            r.grid,
		WeeksInSemester: r.cfg.Scheduler.WeeksInSemester,
		SharedSlots:     true,
		Rand:            rng,
		Logger:          r.logger,
	})
}

func (r *runner) generate(ctx context.Context) error {
	defer r.logger.Sync() //nolint:errcheck

	inputs, err := r.inputs()
	if err != nil {
		return err
	}
	rng := rand.New(rand.NewSource(r.opts.seed))
	constructor := r.constructor(rng)
	construction := constructor.Build(inputs)
	for _, shortfall := range construction.Shortfalls {
		r.logger.Warn("course load not fully placed",
			zap.Int64("course_load_id", shortfall.CourseLoadID),
			zap.String("discipline", shortfall.Discipline),
			zap.Int("expected", shortfall.Expected),
			zap.Int("placed", shortfall.Placed),
		)
	}
	if len(construction.Lessons) == 0 {
		return errors.New("no lessons could be placed; check that loads reference a teacher and a group")
	}
	return r.improve(ctx, inputs, constructor, construction.Lessons, rng)
}

func (r *runner) optimize(ctx context.Context) error {
	defer r.logger.Sync() //nolint:errcheck

	inputs, err := r.inputs()
	if err != nil {
		return err
	}
	lessons, err := fixture.LoadSchedule(r.opts.schedule, r.grid)
	if err != nil {
		return err
	}
	lessons = enrich(lessons, inputs.Loads)
	rng := rand.New(rand.NewSource(r.opts.seed))
	return r.improve(ctx, inputs, r.constructor(rng), lessons, rng)
}

func (r *runner) improve(ctx context.Context, inputs scheduler.Inputs, constructor *scheduler.Constructor, seed []models.ScheduleEntry, rng *rand.Rand) error {
	evaluator := r.evaluator(inputs)
	initial := evaluator.Score(seed)

	best, bestScore := seed, initial
	switch {
	case r.opts.iterations <= 0:
	case r.opts.strategy == models.StrategyEvolutionary:
		evolution := scheduler.NewEvolution(scheduler.EvolutionConfig{
			Generations: r.opts.iterations,
			Rand:        rng,
			Logger:      r.logger,
		}, evaluator, constructor, inputs)
		result, err := evolution.Run(ctx, seed, scheduler.EvolutionHooks{
			OnGeneration: func(ctx context.Context, record scheduler.GenerationRecord) error {
				r.logger.Debug("generation",
					zap.Int("generation", record.Generation),
					zap.Int("best_score", record.BestScore),
					zap.Float64("mean_score", record.MeanScore),
				)
				return nil
			},
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		if len(result.Best) > 0 {
			best, bestScore = result.Best, result.BestScore
		}
	default:
		search := scheduler.NewLocalSearch(scheduler.LocalSearchConfig{
			MaxIterations: r.opts.iterations,
			Patience:      r.cfg.Scheduler.EarlyStoppingPatience,
			Logger:        r.logger,
		}, scheduler.NewRulesetSelector(rng))
		ws := scheduler.NewWorkspace(seed, evaluator, inputs.Classrooms, r.logger)
		result, err := search.Run(ctx, ws, scheduler.Hooks{})
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		best, bestScore = result.Best, result.BestScore
	}

	r.logger.Info("schedule ready",
		zap.String("strategy", r.opts.strategy),
		zap.Int("lessons", len(best)),
		zap.Int("initial_score", initial),
		zap.Int("best_score", bestScore),
		zap.String("out", r.opts.out),
	)
	return fixture.SaveSchedule(r.opts.out, best)
}

// scoreSummary is the printed form of a fitness report.
type scoreSummary struct {
	Lessons    int                             `json:"lessons"`
	TotalScore int                             `json:"total_score"`
	Feasible   bool                            `json:"feasible"`
	Conflicts  map[string][]scheduler.Conflict `json:"conflicts_by_kind"`
	Hard       []scheduler.HardViolation       `json:"hard_violations"`
	Preference []scheduler.PreferenceViolation `json:"preference_violations"`
	Isolated   int                             `json:"isolated_lessons"`
	Gaps       int                             `json:"gaps"`
}

func (r *runner) score(out io.Writer) error {
	inputs, err := r.inputs()
	if err != nil {
		return err
	}
	lessons, err := fixture.LoadSchedule(r.opts.schedule, r.grid)
	if err != nil {
		return err
	}
	report := r.evaluator(inputs).Evaluate(enrich(lessons, inputs.Loads))

	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(scoreSummary{
		Lessons:    len(lessons),
		TotalScore: report.TotalScore,
		Feasible:   report.Feasible(),
		Conflicts:  report.ConflictsByKind(),
		Hard:       report.HardViolations,
		Preference: report.PreferenceViolations,
		Isolated:   len(report.IsolatedLessons),
		Gaps:       report.GapsCount(),
	})
}

// enrich restores the load attributes a schedule file does not carry.
func enrich(lessons []models.ScheduleEntry, loads []models.CourseLoad) []models.ScheduleEntry {
	byID := lo.KeyBy(loads, func(load models.CourseLoad) int64 { return load.ID })
	for i := range lessons {
		load, ok := byID[lessons[i].CourseLoadID]
		if !ok {
			continue
		}
		lessons[i].TeacherPriority = load.TeacherPriority
		lessons[i].GroupSize = load.GroupSize
		lessons[i].Semester = load.Semester
		lessons[i].AcademicYear = load.AcademicYear
	}
	return lessons
}
