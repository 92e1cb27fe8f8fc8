package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"

	"github.com/noah-isme/timetable-engine/internal/models"
)

// AgentActionRepository appends and reads optimizer iteration records.
type AgentActionRepository struct {
	db *sqlx.DB
}

// NewAgentActionRepository constructs the repository.
func NewAgentActionRepository(db *sqlx.DB) *AgentActionRepository {
	return &AgentActionRepository{db: db}
}

// Insert appends an action row.
func (r *AgentActionRepository) Insert(ctx context.Context, action *models.AgentAction) error {
	if action == nil {
		return fmt.Errorf("agent action is nil")
	}
	if action.CreatedAt.IsZero() {
		action.CreatedAt = time.Now().UTC()
	}
	if len(action.ActionParams) == 0 {
		action.ActionParams = types.JSONText(`{}`)
	}
	const query = `INSERT INTO agent_actions (generation_id, iteration, action_type, action_params, success, score_before, score_after,
	score_delta, reasoning, execution_time_ms, created_at)
VALUES (:generation_id, :iteration, :action_type, :action_params, :success, :score_before, :score_after,
	:score_delta, :reasoning, :execution_time_ms, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, action); err != nil {
		return fmt.Errorf("insert agent action: %w", err)
	}
	return nil
}

// ListByGeneration returns actions in iteration order. A positive limit keeps
// only the latest rows.
func (r *AgentActionRepository) ListByGeneration(ctx context.Context, generationID int64, limit int) ([]models.AgentAction, error) {
	query := `SELECT id, generation_id, iteration, action_type, action_params, success, score_before, score_after, score_delta,
       reasoning, execution_time_ms, created_at
FROM agent_actions WHERE generation_id = $1`
	args := []interface{}{generationID}
	if limit > 0 {
		query = `SELECT * FROM (` + query + ` ORDER BY iteration DESC, id DESC LIMIT $2) latest`
		args = append(args, limit)
	}
	query += ` ORDER BY iteration, id`

	var actions []models.AgentAction
	if err := r.db.SelectContext(ctx, &actions, query, args...); err != nil {
		return nil, fmt.Errorf("list agent actions: %w", err)
	}
	return actions, nil
}

// Statistics aggregates a generation's actions per action type.
func (r *AgentActionRepository) Statistics(ctx context.Context, generationID int64) ([]models.ActionStatistics, error) {
	const query = `SELECT action_type,
       COUNT(*) AS total,
       COUNT(*) FILTER (WHERE success) AS successful,
       COUNT(*) FILTER (WHERE score_delta > 0) AS improvements,
       COALESCE(AVG(score_delta), 0) AS average_delta
FROM agent_actions WHERE generation_id = $1
GROUP BY action_type ORDER BY action_type`
	var stats []models.ActionStatistics
	if err := r.db.SelectContext(ctx, &stats, query, generationID); err != nil {
		return nil, fmt.Errorf("agent action statistics: %w", err)
	}
	return stats, nil
}
