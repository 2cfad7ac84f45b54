package domain

import (
	"encoding/json"
	"time"
)

// 任务状态机：pending → running → {success, failed}，终态不可再变
const (
	TaskStatusPending = "pending"
	TaskStatusRunning = "running"
	TaskStatusSuccess = "success"
	TaskStatusFailed  = "failed"
)

// 触发方式
const (
	TriggerManual        = "manual"
	TriggerPeriodic      = "periodic"
	TriggerCollaboration = "collaboration"
)

// SyncTask 同步任务（对应 sync_tasks 表）
// 仅由编排器创建和变更；成功/失败后为终态
type SyncTask struct {
	TaskID   string `db:"task_id"` // UUID
	TenantID string `db:"tenant_id"`
	SourceID string `db:"source_id"`

	Status  string `db:"status"`
	Trigger string `db:"trigger"`

	StartAt    time.Time `db:"start_at"`
	DurationMS int64     `db:"duration_ms"`

	HasWarning bool   `db:"has_warning"`
	Logs       string `db:"logs"` // 人类可读日志（成功时也保留，用于审计）

	// 按实体类型的变更统计，JSONB
	Summary json.RawMessage `db:"summary"`
}

// EntityCounts 单实体类型的变更计数
type EntityCounts struct {
	Create int `json:"create"`
	Delete int `json:"delete"`
}

// ChangeSummary 任务报告中的变更统计
type ChangeSummary struct {
	User       EntityCounts `json:"user"`
	Department EntityCounts `json:"department"`
}

// MarshalSummary 序列化变更统计（写入 sync_tasks.summary）
func MarshalSummary(s ChangeSummary) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}
