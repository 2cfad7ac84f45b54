package repository

import (
	"context"
	"database/sql"
	"fmt"

	"wisefido-directory/internal/domain"
)

// PostgresSyncTasksRepository 同步任务Repository实现
type PostgresSyncTasksRepository struct {
	db *sql.DB
}

// NewPostgresSyncTasksRepository 创建同步任务Repository
func NewPostgresSyncTasksRepository(db *sql.DB) *PostgresSyncTasksRepository {
	return &PostgresSyncTasksRepository{db: db}
}

var _ SyncTasksRepository = (*PostgresSyncTasksRepository)(nil)

const syncTaskColumns = `
	task_id::text,
	tenant_id::text,
	source_id::text,
	status,
	trigger_by,
	start_at,
	duration_ms,
	has_warning,
	logs,
	COALESCE(summary, 'null'::jsonb)::text
`

func scanSyncTask(row interface{ Scan(...any) error }) (*domain.SyncTask, error) {
	var t domain.SyncTask
	var summary string
	err := row.Scan(
		&t.TaskID,
		&t.TenantID,
		&t.SourceID,
		&t.Status,
		&t.Trigger,
		&t.StartAt,
		&t.DurationMS,
		&t.HasWarning,
		&t.Logs,
		&summary,
	)
	if err != nil {
		return nil, err
	}
	if summary != "null" {
		t.Summary = []byte(summary)
	}
	return &t, nil
}

// Create 任务落库（初始 pending）
func (r *PostgresSyncTasksRepository) Create(ctx context.Context, task *domain.SyncTask) error {
	query := `
		INSERT INTO sync_tasks (task_id, tenant_id, source_id, status, trigger_by, start_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, query,
		task.TaskID, task.TenantID, task.SourceID, task.Status, task.Trigger, task.StartAt)
	if err != nil {
		return fmt.Errorf("failed to create sync task: %w", err)
	}
	return nil
}

// MarkRunning pending → running（WHERE 卡状态，终态不可回退）
func (r *PostgresSyncTasksRepository) MarkRunning(ctx context.Context, taskID string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE sync_tasks SET status = $2 WHERE task_id = $1 AND status = $3
	`, taskID, domain.TaskStatusRunning, domain.TaskStatusPending)
	if err != nil {
		return fmt.Errorf("failed to mark sync task running: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("sync task %s is not pending", taskID)
	}
	return nil
}

// Finish 写入终态和报告字段
func (r *PostgresSyncTasksRepository) Finish(ctx context.Context, task *domain.SyncTask) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE sync_tasks
		SET status = $2,
		    duration_ms = $3,
		    has_warning = $4,
		    logs = $5,
		    summary = $6
		WHERE task_id = $1 AND status NOT IN ($7, $8)
	`, task.TaskID, task.Status, task.DurationMS, task.HasWarning, task.Logs,
		nullableJSON(task.Summary), domain.TaskStatusSuccess, domain.TaskStatusFailed)
	if err != nil {
		return fmt.Errorf("failed to finish sync task: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("sync task %s already terminal", task.TaskID)
	}
	return nil
}

// Get 读取任务报告
func (r *PostgresSyncTasksRepository) Get(ctx context.Context, taskID string) (*domain.SyncTask, error) {
	query := `SELECT ` + syncTaskColumns + ` FROM sync_tasks WHERE task_id = $1`
	task, err := scanSyncTask(r.db.QueryRowContext(ctx, query, taskID))
	if err != nil {
		return nil, fmt.Errorf("failed to get sync task %s: %w", taskID, err)
	}
	return task, nil
}

// ListBySource 按 (tenant, source) 列出近期任务
func (r *PostgresSyncTasksRepository) ListBySource(ctx context.Context, tenantID, sourceID string, limit int) ([]*domain.SyncTask, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT ` + syncTaskColumns + `
		FROM sync_tasks
		WHERE tenant_id = $1 AND source_id = $2
		ORDER BY start_at DESC
		LIMIT $3
	`
	rows, err := r.db.QueryContext(ctx, query, tenantID, sourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*domain.SyncTask
	for rows.Next() {
		t, err := scanSyncTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
