package repository

import (
	"context"
	"database/sql"

	"wisefido-directory/internal/domain"
)

// DBTX *sql.DB 和 *sql.Tx 的公共子集
// 批量写方法在编排器的事务内执行，读方法通常直接走连接池
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DepartmentsRepository 部门Repository接口
// 同步引擎对存储无感知：查索引、批量upsert、重建层级索引都走这里
type DepartmentsRepository interface {
	// MaxID 当前最大内部ID（分配器高水位初始化）
	MaxID(ctx context.Context) (int64, error)

	// CodeIndex (tenant, source) 下全部部门按 external_code 建索引（含已禁用）
	// external code 对路径派生源即完整祖先路径，层级查找不依赖远端数值ID
	CodeIndex(ctx context.Context, tenantID, sourceID string) (map[string]*domain.Department, error)

	// DisableAll 软删除 (tenant, source) 下启用中的部门，exempt 除外
	// 返回被禁用的 external_code 列表（用于变更统计）
	DisableAll(ctx context.Context, tx DBTX, tenantID, sourceID string, exempt []string) ([]string, error)

	BulkCreate(ctx context.Context, tx DBTX, items []*domain.Department) error
	CreateOne(ctx context.Context, tx DBTX, item *domain.Department) error
	BulkUpdate(ctx context.Context, tx DBTX, items []*domain.Department) error
	UpdateOne(ctx context.Context, tx DBTX, item *domain.Department) error

	// RebuildHierarchyIndex 批量写入后全量重建物化路径和层级
	RebuildHierarchyIndex(ctx context.Context, tx DBTX, tenantID, sourceID string) error

	// ListEnabled 拉取启用中的部门（协同复制的源数据）
	ListEnabled(ctx context.Context, tenantID, sourceID string) ([]*domain.Department, error)
}

// UsersRepository 目录用户Repository接口
type UsersRepository interface {
	MaxID(ctx context.Context) (int64, error)
	CodeIndex(ctx context.Context, tenantID, sourceID string) (map[string]*domain.User, error)
	DisableAll(ctx context.Context, tx DBTX, tenantID, sourceID string, exempt []string) ([]string, error)

	BulkCreate(ctx context.Context, tx DBTX, items []*domain.User) error
	CreateOne(ctx context.Context, tx DBTX, item *domain.User) error
	BulkUpdate(ctx context.Context, tx DBTX, items []*domain.User) error
	UpdateOne(ctx context.Context, tx DBTX, item *domain.User) error

	ListEnabled(ctx context.Context, tenantID, sourceID string) ([]*domain.User, error)
}

// RelationsRepository 关系边Repository接口
// 关系行只有存在性：只做 create（ON CONFLICT DO NOTHING），不做 update
type RelationsRepository interface {
	// DeleteForSource 同步关系前清除 (tenant, source) 的旧边
	// 与关系写入同一事务，保证不会出现悬挂关系
	DeleteForSource(ctx context.Context, tx DBTX, tenantID, sourceID string) error

	BulkCreateDepartmentUser(ctx context.Context, tx DBTX, items []*domain.DepartmentUserRelation) error
	CreateOneDepartmentUser(ctx context.Context, tx DBTX, item *domain.DepartmentUserRelation) error

	BulkCreateUserLeader(ctx context.Context, tx DBTX, items []*domain.UserLeaderRelation) error
	CreateOneUserLeader(ctx context.Context, tx DBTX, item *domain.UserLeaderRelation) error

	// 读侧：协同复制需要把 (tenant, source) 的边集投影到伙伴租户
	ListDepartmentUsers(ctx context.Context, tenantID, sourceID string) ([]*domain.DepartmentUserRelation, error)
	ListUserLeaders(ctx context.Context, tenantID, sourceID string) ([]*domain.UserLeaderRelation, error)
}

// SyncTasksRepository 同步任务Repository接口
type SyncTasksRepository interface {
	Create(ctx context.Context, task *domain.SyncTask) error
	// MarkRunning pending → running
	MarkRunning(ctx context.Context, taskID string) error
	// Finish 写入终态（success/failed）及报告字段
	Finish(ctx context.Context, task *domain.SyncTask) error
	Get(ctx context.Context, taskID string) (*domain.SyncTask, error)
	ListBySource(ctx context.Context, tenantID, sourceID string, limit int) ([]*domain.SyncTask, error)
}

// DataSourcesRepository 数据源Repository接口
type DataSourcesRepository interface {
	Get(ctx context.Context, tenantID, sourceID string) (*domain.DataSource, error)
	ListEnabled(ctx context.Context) ([]*domain.DataSource, error)
}

// StrategiesRepository 协同策略Repository接口
type StrategiesRepository interface {
	Get(ctx context.Context, strategyID string) (*domain.CollaborationStrategy, error)
	// ListBySourceTenant 某租户作为源侧的全部策略
	ListBySourceTenant(ctx context.Context, tenantID string) ([]*domain.CollaborationStrategy, error)
	// UpdateStatus 单侧开关（side: "source"/"target"）
	UpdateStatus(ctx context.Context, strategyID, side, status string) error
}

// FieldsRepository 租户字段目录（内置+自定义）Repository接口
type FieldsRepository interface {
	ListFields(ctx context.Context, tenantID string) ([]*domain.TenantField, error)
}
