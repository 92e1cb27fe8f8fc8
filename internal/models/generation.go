package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// GenerationStatus represents the lifecycle of a generation job.
type GenerationStatus string

const (
	GenerationStatusRunning   GenerationStatus = "running"
	GenerationStatusCompleted GenerationStatus = "completed"
	GenerationStatusFailed    GenerationStatus = "failed"
	GenerationStatusStopped   GenerationStatus = "stopped"
)

// Generation stages reported while a job runs.
const (
	GenerationStageQueued       = "queued"
	GenerationStageLoading      = "loading"
	GenerationStageConstructing = "constructing"
	GenerationStageOptimizing   = "optimizing"
	GenerationStagePersisting   = "persisting"
	GenerationStageDone         = "done"
)

// Optimization strategies.
const (
	StrategyLocalSearch  = "local_search"
	StrategyEvolutionary = "evolutionary"
)

// Generation tracks one run of the timetable orchestrator.
type Generation struct {
	ID               int64            `db:"id" json:"id"`
	JobID            string           `db:"job_id" json:"job_id"`
	Semester         int              `db:"semester" json:"semester"`
	AcademicYear     string           `db:"academic_year" json:"academic_year"`
	Strategy         string           `db:"strategy" json:"strategy"`
	Stage            string           `db:"stage" json:"stage"`
	Status           GenerationStatus `db:"status" json:"status"`
	MaxIterations    int              `db:"max_iterations" json:"max_iterations"`
	CurrentIteration int              `db:"current_iteration" json:"current_iteration"`
	InitialScore     *int             `db:"initial_score" json:"initial_score,omitempty"`
	CurrentScore     *int             `db:"current_score" json:"current_score,omitempty"`
	BestScore        *int             `db:"best_score" json:"best_score,omitempty"`
	LastReasoning    *string          `db:"last_reasoning" json:"last_reasoning,omitempty"`
	ErrorMessage     *string          `db:"error_message" json:"error_message,omitempty"`
	CreatedBy        *string          `db:"created_by" json:"created_by,omitempty"`
	StopRequested    bool             `db:"stop_requested" json:"stop_requested"`
	Metrics          types.JSONText   `db:"metrics" json:"metrics,omitempty"`
	StartedAt        time.Time        `db:"started_at" json:"started_at"`
	CompletedAt      *time.Time       `db:"completed_at" json:"completed_at,omitempty"`
}

// Terminal reports whether the generation will not change state anymore.
func (g Generation) Terminal() bool {
	return g.Status != GenerationStatusRunning
}

// ProgressPercentage is current_iteration / max_iterations scaled to 0..100.
func (g Generation) ProgressPercentage() float64 {
	if g.MaxIterations <= 0 {
		if g.Status == GenerationStatusCompleted {
			return 100
		}
		return 0
	}
	pct := float64(g.CurrentIteration) / float64(g.MaxIterations) * 100
	if pct > 100 {
		return 100
	}
	return pct
}

// UpdateGenerationParams carries optional column updates for a generation row.
type UpdateGenerationParams struct {
	Stage            *string
	Status           *GenerationStatus
	CurrentIteration *int
	InitialScore     *int
	CurrentScore     *int
	BestScore        *int
	LastReasoning    *string
	ErrorMessage     *string
	Metrics          *types.JSONText
	CompletedAt      *time.Time
}
