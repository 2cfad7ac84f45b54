package domain

import "encoding/json"

// 协同策略两侧各自独立的状态；两侧均 enabled 才会执行复制
const (
	StrategyEnabled     = "enabled"
	StrategyDisabled    = "disabled"
	StrategyUnconfirmed = "unconfirmed"
)

// 字段映射操作
const (
	MappingDirect     = "direct"     // 直接复制
	MappingExpression = "expression" // 表达式派生
)

// FieldMapping 单条字段映射（source_field → target_field）
type FieldMapping struct {
	SourceField      string `json:"source_field"`
	MappingOperation string `json:"mapping_operation"` // direct/expression
	TargetField      string `json:"target_field"`
	Expression       string `json:"expression,omitempty"` // mapping_operation=expression 时必填
}

// StrategyConfig 协同策略配置（sync_strategies.config JSONB）
type StrategyConfig struct {
	FieldMapping []FieldMapping  `json:"field_mapping"`
	OrgScope     json.RawMessage `json:"organization_scope_config,omitempty"`
}

// CollaborationStrategy 跨租户协同策略（对应 collaboration_strategies 表）
type CollaborationStrategy struct {
	StrategyID     string `db:"strategy_id"` // UUID
	SourceTenantID string `db:"source_tenant_id"`
	TargetTenantID string `db:"target_tenant_id"`

	// 两侧状态相互独立（源侧/目标侧各自开关）
	SourceStatus string `db:"source_status"`
	TargetStatus string `db:"target_status"`

	Config json.RawMessage `db:"config"` // JSONB, StrategyConfig
}

// ParseConfig 解析策略配置
func (s *CollaborationStrategy) ParseConfig() (*StrategyConfig, error) {
	var cfg StrategyConfig
	if err := json.Unmarshal(s.Config, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// BothEnabled 两侧均启用时才允许复制
func (s *CollaborationStrategy) BothEnabled() bool {
	return s.SourceStatus == StrategyEnabled && s.TargetStatus == StrategyEnabled
}
