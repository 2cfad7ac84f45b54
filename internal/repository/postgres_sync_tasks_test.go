package repository

import (
	"context"
	"testing"
	"time"

	"wisefido-directory/internal/domain"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTaskRepo(t *testing.T) (sqlmock.Sqlmock, *PostgresSyncTasksRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return mock, NewPostgresSyncTasksRepository(db)
}

func TestSyncTasksMarkRunning(t *testing.T) {
	mock, repo := setupTaskRepo(t)

	mock.ExpectExec(`UPDATE sync_tasks SET status = \$2 WHERE task_id = \$1 AND status = \$3`).
		WithArgs("task-1", domain.TaskStatusRunning, domain.TaskStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.MarkRunning(context.Background(), "task-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncTasksMarkRunning_NotPending(t *testing.T) {
	mock, repo := setupTaskRepo(t)

	// WHERE 卡住状态：不是 pending 的任务影响 0 行
	mock.ExpectExec(`UPDATE sync_tasks SET status`).
		WithArgs("task-1", domain.TaskStatusRunning, domain.TaskStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkRunning(context.Background(), "task-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not pending")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncTasksFinish_TerminalIsImmutable(t *testing.T) {
	mock, repo := setupTaskRepo(t)

	task := &domain.SyncTask{
		TaskID:     "task-1",
		Status:     domain.TaskStatusSuccess,
		DurationMS: 1500,
		Logs:       "done",
		Summary:    domain.MarshalSummary(domain.ChangeSummary{}),
	}

	// 已终态的任务不可再写
	mock.ExpectExec(`UPDATE sync_tasks`).
		WithArgs("task-1", domain.TaskStatusSuccess, int64(1500), false, "done",
			sqlmock.AnyArg(), domain.TaskStatusSuccess, domain.TaskStatusFailed).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Finish(context.Background(), task)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already terminal")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncTasksGet(t *testing.T) {
	mock, repo := setupTaskRepo(t)

	startAt := time.Now().Truncate(time.Second)
	rows := sqlmock.NewRows([]string{
		"task_id", "tenant_id", "source_id", "status", "trigger_by",
		"start_at", "duration_ms", "has_warning", "logs", "summary",
	}).AddRow("task-1", "tenant-1", "source-1", domain.TaskStatusSuccess, domain.TriggerManual,
		startAt, int64(1500), true, "synchronized 4 departments", `{"user":{"create":2,"delete":0},"department":{"create":4,"delete":1}}`)

	mock.ExpectQuery(`SELECT(.|\s)+FROM sync_tasks WHERE task_id = \$1`).
		WithArgs("task-1").
		WillReturnRows(rows)

	task, err := repo.Get(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusSuccess, task.Status)
	assert.True(t, task.HasWarning)
	assert.Equal(t, int64(1500), task.DurationMS)
	assert.JSONEq(t, `{"user":{"create":2,"delete":0},"department":{"create":4,"delete":1}}`, string(task.Summary))
	require.NoError(t, mock.ExpectationsWereMet())
}
