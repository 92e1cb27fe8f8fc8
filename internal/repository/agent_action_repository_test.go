package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/timetable-engine/internal/models"
)

func newAgentActionRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

var agentActionColumns = []string{
	"id", "generation_id", "iteration", "action_type", "action_params", "success", "score_before", "score_after",
	"score_delta", "reasoning", "execution_time_ms", "created_at",
}

func TestAgentActionRepositoryInsert(t *testing.T) {
	db, mock, cleanup := newAgentActionRepoMock(t)
	defer cleanup()
	repo := NewAgentActionRepository(db)

	mock.ExpectExec("INSERT INTO agent_actions").
		WillReturnResult(sqlmock.NewResult(1, 1))

	action := &models.AgentAction{GenerationID: 5, Iteration: 1, ActionType: models.ActionMoveToEmptySlot, Success: true, ScoreDelta: 500}
	require.NoError(t, repo.Insert(context.Background(), action))
	assert.JSONEq(t, `{}`, string(action.ActionParams))
	assert.False(t, action.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())

	assert.Error(t, repo.Insert(context.Background(), nil))
}

func TestAgentActionRepositoryListByGeneration(t *testing.T) {
	db, mock, cleanup := newAgentActionRepoMock(t)
	defer cleanup()
	repo := NewAgentActionRepository(db)

	now := time.Now()
	mock.ExpectQuery(`ORDER BY iteration DESC, id DESC LIMIT \$2\) latest ORDER BY iteration, id`).
		WithArgs(int64(5), 2).
		WillReturnRows(sqlmock.NewRows(agentActionColumns).
			AddRow(8, 5, 9, "swap_lessons", `{"lesson_id":1}`, false, -400, -400, 0, "not an improvement", 2, now).
			AddRow(9, 5, 10, "move_to_empty_slot", `{"lesson_id":2}`, true, -400, -100, 300, "closed gap", 1, now))

	actions, err := repo.ListByGeneration(context.Background(), 5, 2)
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.Equal(t, 9, actions[0].Iteration)
	assert.Equal(t, 300, actions[1].ScoreDelta)

	mock.ExpectQuery(regexp.QuoteMeta("FROM agent_actions WHERE generation_id = $1 ORDER BY iteration, id")).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows(agentActionColumns))
	all, err := repo.ListByGeneration(context.Background(), 5, 0)
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAgentActionRepositoryStatistics(t *testing.T) {
	db, mock, cleanup := newAgentActionRepoMock(t)
	defer cleanup()
	repo := NewAgentActionRepository(db)

	mock.ExpectQuery(`GROUP BY action_type ORDER BY action_type`).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"action_type", "total", "successful", "improvements", "average_delta"}).
			AddRow("move_to_empty_slot", 10, 6, 6, 120.5).
			AddRow("swap_lessons", 4, 1, 1, 25.0))

	stats, err := repo.Statistics(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, 6, stats[0].Successful)
	assert.InDelta(t, 120.5, stats[0].AverageDelta, 0.001)
	assert.NoError(t, mock.ExpectationsWereMet())
}
