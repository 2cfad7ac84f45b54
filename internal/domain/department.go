package domain

import (
	"database/sql"
	"encoding/json"
)

// Department 部门领域模型（对应 departments 表）
// 内部ID由分配器预分配（int64单调递增），external_code 是与外部源的唯一关联键
type Department struct {
	// 主键和租户
	DepartmentID int64  `db:"department_id"`
	TenantID     string `db:"tenant_id"` // UUID
	SourceID     string `db:"source_id"` // UUID, 所属数据源

	// 外部标识（(source_id, external_code) 唯一，重复同步的幂等关联键）
	ExternalCode string `db:"external_code"` // NOT NULL

	// 基本信息
	DepartmentName string        `db:"department_name"` // NOT NULL
	ParentID       sql.NullInt64 `db:"parent_id"`       // nullable, 根部门为 NULL

	// 层级索引：邻接表 + 物化路径缓存（如 "/3/15/27/"），批量写入后统一重建
	DeptPath string `db:"dept_path"`
	Level    int    `db:"level"` // 根=1

	// 状态
	Enabled bool `db:"enabled"` // 软删除：快照中消失的部门置 false

	// 源特有扩展属性（如 LDAP objectClass）
	Extras json.RawMessage `db:"extras"` // JSONB, nullable
}
