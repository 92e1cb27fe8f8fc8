package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"

	"github.com/noah-isme/timetable-engine/internal/models"
)

const generationColumns = `id, job_id, semester, academic_year, strategy, stage, status, max_iterations, current_iteration,
       initial_score, current_score, best_score, last_reasoning, error_message, created_by, stop_requested,
       COALESCE(metrics, '{}'::jsonb) AS metrics, started_at, completed_at`

// GenerationRepository persists generation jobs.
type GenerationRepository struct {
	db *sqlx.DB
}

// NewGenerationRepository constructs the repository.
func NewGenerationRepository(db *sqlx.DB) *GenerationRepository {
	return &GenerationRepository{db: db}
}

// Create inserts a generation row and fills its id.
func (r *GenerationRepository) Create(ctx context.Context, gen *models.Generation) error {
	if gen == nil {
		return fmt.Errorf("generation payload is nil")
	}
	if gen.StartedAt.IsZero() {
		gen.StartedAt = time.Now().UTC()
	}
	if gen.Status == "" {
		gen.Status = models.GenerationStatusRunning
	}
	if gen.Stage == "" {
		gen.Stage = models.GenerationStageQueued
	}
	if len(gen.Metrics) == 0 {
		gen.Metrics = types.JSONText(`{}`)
	}

	const query = `INSERT INTO generations (job_id, semester, academic_year, strategy, stage, status, max_iterations, current_iteration,
	created_by, stop_requested, metrics, started_at)
VALUES (:job_id, :semester, :academic_year, :strategy, :stage, :status, :max_iterations, :current_iteration,
	:created_by, :stop_requested, :metrics, :started_at)
RETURNING id`
	rows, err := r.db.NamedQueryContext(ctx, query, gen)
	if err != nil {
		return fmt.Errorf("insert generation: %w", err)
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&gen.ID); err != nil {
			return fmt.Errorf("scan generation id: %w", err)
		}
	}
	return rows.Err()
}

// GetByJobID loads a generation by its public job id.
func (r *GenerationRepository) GetByJobID(ctx context.Context, jobID string) (*models.Generation, error) {
	query := `SELECT ` + generationColumns + ` FROM generations WHERE job_id = $1`
	var gen models.Generation
	if err := r.db.GetContext(ctx, &gen, query, jobID); err != nil {
		return nil, err
	}
	return &gen, nil
}

// Update applies the non-nil fields of params.
func (r *GenerationRepository) Update(ctx context.Context, id int64, params models.UpdateGenerationParams) error {
	var sets []string
	var args []interface{}
	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if params.Stage != nil {
		add("stage", *params.Stage)
	}
	if params.Status != nil {
		add("status", *params.Status)
	}
	if params.CurrentIteration != nil {
		add("current_iteration", *params.CurrentIteration)
	}
	if params.InitialScore != nil {
		add("initial_score", *params.InitialScore)
	}
	if params.CurrentScore != nil {
		add("current_score", *params.CurrentScore)
	}
	if params.BestScore != nil {
		add("best_score", *params.BestScore)
	}
	if params.LastReasoning != nil {
		add("last_reasoning", *params.LastReasoning)
	}
	if params.ErrorMessage != nil {
		add("error_message", *params.ErrorMessage)
	}
	if params.Metrics != nil {
		add("metrics", *params.Metrics)
	}
	if params.CompletedAt != nil {
		add("completed_at", *params.CompletedAt)
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE generations SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update generation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("generation rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// RequestStop flags a running generation for cooperative cancellation. It
// reports false when the job is unknown or already finished.
func (r *GenerationRepository) RequestStop(ctx context.Context, jobID string) (bool, error) {
	const query = `UPDATE generations SET stop_requested = TRUE WHERE job_id = $1 AND status = $2`
	result, err := r.db.ExecContext(ctx, query, jobID, models.GenerationStatusRunning)
	if err != nil {
		return false, fmt.Errorf("request generation stop: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("generation stop rows affected: %w", err)
	}
	return affected > 0, nil
}

// IsStopRequested reads the stop flag of a generation.
func (r *GenerationRepository) IsStopRequested(ctx context.Context, id int64) (bool, error) {
	const query = `SELECT stop_requested FROM generations WHERE id = $1`
	var requested bool
	if err := r.db.GetContext(ctx, &requested, query, id); err != nil {
		return false, fmt.Errorf("read generation stop flag: %w", err)
	}
	return requested, nil
}

// MarkInterrupted fails every generation still marked running.
func (r *GenerationRepository) MarkInterrupted(ctx context.Context, message string) (int64, error) {
	const query = `UPDATE generations SET status = $1, stage = $2, error_message = $3, completed_at = $4 WHERE status = $5`
	result, err := r.db.ExecContext(ctx, query,
		models.GenerationStatusFailed,
		models.GenerationStageDone,
		message,
		time.Now().UTC(),
		models.GenerationStatusRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("mark interrupted generations: %w", err)
	}
	return result.RowsAffected()
}
