package domain

import (
	"encoding/json"

	"github.com/lib/pq"
)

// 数据源类型（每种类型对应一个 source.Adapter 实现）
const (
	SourceTypeLDAP     = "ldap"
	SourceTypeDingTalk = "dingtalk"
	SourceTypeHTTP     = "http"
	SourceTypeExcel    = "excel"
)

// DataSource 数据源领域模型（对应 data_sources 表）
type DataSource struct {
	SourceID   string `db:"source_id"` // UUID
	TenantID   string `db:"tenant_id"`
	SourceName string `db:"source_name"` // NOT NULL
	SourceType string `db:"source_type"` // NOT NULL, ldap/dingtalk/http/excel

	// 适配器配置（协议细节归各适配器所有），JSONB
	Config json.RawMessage `db:"config"`

	// 同步开始时豁免软删除的 external_code 列表（如内置根部门）
	ExemptCodes pq.StringArray `db:"exempt_codes"` // nullable, VARCHAR[]

	Enabled bool `db:"enabled"`
}
