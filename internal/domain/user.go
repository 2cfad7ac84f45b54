package domain

import (
	"database/sql"
	"encoding/json"
)

// User 用户领域模型（对应 directory_users 表）
type User struct {
	// 主键和租户
	UserID   int64  `db:"user_id"`
	TenantID string `db:"tenant_id"` // UUID
	SourceID string `db:"source_id"` // UUID

	// 外部标识（(source_id, external_code) 唯一）
	ExternalCode string `db:"external_code"` // NOT NULL

	// 基本信息
	Username    string         `db:"username"`     // NOT NULL
	DisplayName sql.NullString `db:"display_name"` // nullable
	Email       sql.NullString `db:"email"`        // nullable
	Phone       sql.NullString `db:"phone"`        // nullable

	// 自定义属性（键为租户字段 key）
	Properties json.RawMessage `db:"properties"` // JSONB, default '{}'::jsonb

	// 状态
	Enabled bool `db:"enabled"`
}

// PropertyMap 解析 Properties 为 map（空/非法返回空 map）
func (u *User) PropertyMap() map[string]any {
	m := map[string]any{}
	if len(u.Properties) > 0 {
		_ = json.Unmarshal(u.Properties, &m)
	}
	return m
}
