package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// Action types recorded for optimizer iterations.
const (
	ActionSwapLessons         = "swap_lessons"
	ActionMoveToEmptySlot     = "move_to_empty_slot"
	ActionEvolutionGeneration = "evolution_generation"
)

// AgentAction is an immutable record of one optimizer iteration.
type AgentAction struct {
	ID              int64          `db:"id" json:"id"`
	GenerationID    int64          `db:"generation_id" json:"generation_id"`
	Iteration       int            `db:"iteration" json:"iteration"`
	ActionType      string         `db:"action_type" json:"action_type"`
	ActionParams    types.JSONText `db:"action_params" json:"action_params"`
	Success         bool           `db:"success" json:"success"`
	ScoreBefore     int            `db:"score_before" json:"score_before"`
	ScoreAfter      int            `db:"score_after" json:"score_after"`
	ScoreDelta      int            `db:"score_delta" json:"score_delta"`
	Reasoning       string         `db:"reasoning" json:"reasoning"`
	ExecutionTimeMs int64          `db:"execution_time_ms" json:"execution_time_ms"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
}

// ActionStatistics aggregates agent actions per action type.
type ActionStatistics struct {
	ActionType   string  `db:"action_type" json:"action_type"`
	Total        int     `db:"total" json:"total"`
	Successful   int     `db:"successful" json:"successful"`
	Improvements int     `db:"improvements" json:"improvements"`
	AverageDelta float64 `db:"average_delta" json:"average_delta"`
}
