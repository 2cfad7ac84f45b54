package domain

// 字段数据类型
const (
	FieldTypeString    = "string"
	FieldTypeNumber    = "number"
	FieldTypeEnum      = "enum"       // 单选
	FieldTypeMultiEnum = "multi_enum" // 多选
)

// FieldOption 枚举字段的一个可选项
type FieldOption struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

// TenantField 租户字段定义（内置字段 + 自定义字段，对应 tenant_fields 表）
// 协同策略的 target_field 必须命中目标租户的某个 TenantField
type TenantField struct {
	FieldID  string `db:"field_id"` // UUID
	TenantID string `db:"tenant_id"`

	FieldKey  string `db:"field_key"`  // NOT NULL, (tenant_id, field_key) 唯一
	FieldName string `db:"field_name"` // NOT NULL
	FieldType string `db:"field_type"` // NOT NULL

	Required bool `db:"required"`
	Builtin  bool `db:"builtin"` // username/display_name/email/phone 等内置字段

	// 枚举可选项（field_type 为 enum/multi_enum 时非空），JSONB
	Options []FieldOption `db:"options"`
}

// OptionIDByValue 按取值查可选项ID；不存在返回 ("", false)
func (f *TenantField) OptionIDByValue(value string) (string, bool) {
	for _, opt := range f.Options {
		if opt.Value == value {
			return opt.ID, true
		}
	}
	return "", false
}

// IsEnum 是否枚举类（单选或多选）
func (f *TenantField) IsEnum() bool {
	return f.FieldType == FieldTypeEnum || f.FieldType == FieldTypeMultiEnum
}
