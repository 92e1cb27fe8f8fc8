package scheduler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/timetable-engine/internal/models"
)

// DefaultPatience is the number of iterations without a new best score after
// which the local search stops early.
const DefaultPatience = 20

// LocalSearchConfig tunes the local-search loop.
type LocalSearchConfig struct {
	MaxIterations int
	Patience      int
	// Epsilon is the initial tolerance for accepting a feasible worsening
	// move. It decays linearly to zero over the iteration budget. Zero keeps
	// the search strictly improving.
	Epsilon float64
	Logger  *zap.Logger
}

// IterationRecord is everything observable about one iteration.
type IterationRecord struct {
	Iteration   int
	Proposal    Proposal
	Outcome     MoveOutcome
	Accepted    bool
	ScoreBefore int
	ScoreAfter  int
	Delta       int
	BestScore   int
	Elapsed     time.Duration
}

// Hooks let the caller persist progress and request a stop. Both are optional.
type Hooks struct {
	OnIteration func(ctx context.Context, record IterationRecord) error
	ShouldStop  func(ctx context.Context) (bool, error)
}

// Result summarises a local-search run.
type Result struct {
	Iterations    int
	InitialScore  int
	FinalScore    int
	BestScore     int
	Best          []models.ScheduleEntry
	Current       []models.ScheduleEntry
	Stopped       bool
	EarlyStopped  bool
	LastReasoning string
}

// LocalSearch improves a workspace move by move.
type LocalSearch struct {
	cfg      LocalSearchConfig
	selector MoveSelector
	logger   *zap.Logger
}

// NewLocalSearch builds a local search driven by selector.
func NewLocalSearch(cfg LocalSearchConfig, selector MoveSelector) *LocalSearch {
	if cfg.Patience <= 0 {
		cfg.Patience = DefaultPatience
	}
	if cfg.Epsilon < 0 {
		cfg.Epsilon = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &LocalSearch{cfg: cfg, selector: selector, logger: cfg.Logger}
}

// Run iterates until the budget is spent, patience runs out, the selector has
// nothing to propose or a stop is requested. The workspace is left holding the
// current schedule; Result.Best holds the best schedule seen.
func (l *LocalSearch) Run(ctx context.Context, ws *Workspace, hooks Hooks) (Result, error) {
	result := Result{
		InitialScore: ws.Score(),
		BestScore:    ws.Score(),
		Best:         ws.Lessons(),
	}
	observer, _ := l.selector.(MoveObserver)
	sinceImprovement := 0

	for iteration := 1; iteration <= l.cfg.MaxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return l.finish(ws, result), err
		}
		if hooks.ShouldStop != nil {
			stop, err := hooks.ShouldStop(ctx)
			if err != nil {
				return l.finish(ws, result), err
			}
			if stop {
				result.Stopped = true
				break
			}
		}

		started := time.Now()
		proposal, err := l.selector.Propose(ctx, ws)
		if errors.Is(err, ErrNoProposal) {
			result.EarlyStopped = true
			break
		}
		if err != nil {
			return l.finish(ws, result), err
		}

		before := ws.Score()
		outcome, err := proposal.Apply(ws)
		if err != nil {
			outcome = MoveOutcome{Kind: OutcomeRejected, ScoreBefore: before, ScoreAfter: before, Reason: err.Error()}
		}

		accepted := outcome.Kind == OutcomeCommitted && l.accept(outcome.Delta, ws.Report().Feasible(), iteration)
		if outcome.Kind == OutcomeCommitted && !accepted {
			if err := ws.Rollback(); err != nil {
				return l.finish(ws, result), err
			}
			outcome.Reason += ": not an improvement"
		}
		if observer != nil {
			observer.Observe(proposal, accepted)
		}

		sinceImprovement++
		if accepted && ws.Score() > result.BestScore {
			result.BestScore = ws.Score()
			result.Best = ws.Lessons()
			sinceImprovement = 0
		}

		record := IterationRecord{
			Iteration:   iteration,
			Proposal:    proposal,
			Outcome:     outcome,
			Accepted:    accepted,
			ScoreBefore: before,
			ScoreAfter:  ws.Score(),
			Delta:       ws.Score() - before,
			BestScore:   result.BestScore,
			Elapsed:     time.Since(started),
		}
		result.Iterations = iteration
		result.LastReasoning = proposal.Reasoning
		l.logger.Debug("local search iteration",
			zap.Int("iteration", iteration),
			zap.String("move", proposal.Kind),
			zap.String("outcome", string(outcome.Kind)),
			zap.Bool("accepted", accepted),
			zap.Int("score", ws.Score()),
			zap.Int("best", result.BestScore),
		)
		if hooks.OnIteration != nil {
			if err := hooks.OnIteration(ctx, record); err != nil {
				return l.finish(ws, result), err
			}
		}

		if sinceImprovement >= l.cfg.Patience {
			result.EarlyStopped = true
			break
		}
	}
	return l.finish(ws, result), nil
}

// accept decides whether a committed move stays.
func (l *LocalSearch) accept(delta int, feasible bool, iteration int) bool {
	if delta > 0 {
		return true
	}
	if !feasible || l.cfg.Epsilon == 0 || l.cfg.MaxIterations <= 0 {
		return false
	}
	remaining := 1 - float64(iteration-1)/float64(l.cfg.MaxIterations)
	return float64(delta) >= -l.cfg.Epsilon*remaining
}

func (l *LocalSearch) finish(ws *Workspace, result Result) Result {
	result.FinalScore = ws.Score()
	result.Current = ws.Lessons()
	return result
}
