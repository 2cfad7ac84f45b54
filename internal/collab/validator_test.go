package collab

import (
	"testing"

	"wisefido-directory/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func field(key, fieldType string, required bool, options ...domain.FieldOption) *domain.TenantField {
	return &domain.TenantField{
		FieldKey:  key,
		FieldName: key,
		FieldType: fieldType,
		Required:  required,
		Options:   options,
	}
}

func opt(id, value string) domain.FieldOption {
	return domain.FieldOption{ID: id, Value: value}
}

func TestValidateStrategy_ValidMapping(t *testing.T) {
	cfg := &domain.StrategyConfig{FieldMapping: []domain.FieldMapping{
		{SourceField: "display_name", TargetField: "display_name", MappingOperation: domain.MappingDirect},
		{SourceField: "grade", TargetField: "level", MappingOperation: domain.MappingDirect},
	}}
	sourceFields := []*domain.TenantField{
		field("display_name", domain.FieldTypeString, false),
		field("grade", domain.FieldTypeEnum, false, opt("1", "a"), opt("2", "b")),
	}
	targetFields := []*domain.TenantField{
		field("display_name", domain.FieldTypeString, false),
		field("level", domain.FieldTypeEnum, false, opt("x", "a"), opt("y", "b"), opt("z", "c")),
	}

	assert.NoError(t, ValidateStrategy(cfg, sourceFields, targetFields))
}

func TestValidateStrategy_UnknownTargetField(t *testing.T) {
	cfg := &domain.StrategyConfig{FieldMapping: []domain.FieldMapping{
		{SourceField: "display_name", TargetField: "nickname"},
	}}
	err := ValidateStrategy(cfg, []*domain.TenantField{field("display_name", domain.FieldTypeString, false)}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not an allowed field on the target tenant")
}

func TestValidateStrategy_EnumUnmappableValuesNamed(t *testing.T) {
	cfg := &domain.StrategyConfig{FieldMapping: []domain.FieldMapping{
		{SourceField: "grade", TargetField: "level", MappingOperation: domain.MappingDirect},
	}}
	sourceFields := []*domain.TenantField{
		field("grade", domain.FieldTypeEnum, false, opt("1", "a"), opt("2", "b")),
	}
	targetFields := []*domain.TenantField{
		field("level", domain.FieldTypeEnum, false, opt("x", "a"), opt("z", "c")),
	}

	err := ValidateStrategy(cfg, sourceFields, targetFields)
	require.Error(t, err)
	// 报具体不可映射的取值，不是笼统失败
	assert.Contains(t, err.Error(), "b")
	assert.Contains(t, err.Error(), "no corresponding target option")
	assert.NotContains(t, err.Error(), "[a")
}

func TestValidateStrategy_EnumTargetNeedsEnumSource(t *testing.T) {
	cfg := &domain.StrategyConfig{FieldMapping: []domain.FieldMapping{
		{SourceField: "title", TargetField: "level"},
	}}
	sourceFields := []*domain.TenantField{field("title", domain.FieldTypeString, false)}
	targetFields := []*domain.TenantField{field("level", domain.FieldTypeEnum, false, opt("x", "a"))}

	err := ValidateStrategy(cfg, sourceFields, targetFields)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "enumerated source field")
}

func TestValidateStrategy_TypeMismatch(t *testing.T) {
	cfg := &domain.StrategyConfig{FieldMapping: []domain.FieldMapping{
		{SourceField: "seniority", TargetField: "seniority"},
	}}
	sourceFields := []*domain.TenantField{field("seniority", domain.FieldTypeString, false)}
	targetFields := []*domain.TenantField{field("seniority", domain.FieldTypeNumber, false)}

	err := ValidateStrategy(cfg, sourceFields, targetFields)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "data type mismatch")
}

func TestValidateStrategy_RequiredTargetMissing(t *testing.T) {
	cfg := &domain.StrategyConfig{FieldMapping: []domain.FieldMapping{}}
	targetFields := []*domain.TenantField{field("employee_no", domain.FieldTypeString, true)}

	err := ValidateStrategy(cfg, nil, targetFields)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required target field is missing")
}

func TestValidateStrategy_ExpressionSkipsStaticChecks(t *testing.T) {
	// 表达式映射不做静态类型/选项校验，但表达式本身必须非空
	targetFields := []*domain.TenantField{field("badge", domain.FieldTypeString, false)}

	ok := &domain.StrategyConfig{FieldMapping: []domain.FieldMapping{
		{SourceField: "display_name", TargetField: "badge",
			MappingOperation: domain.MappingExpression, Expression: "{display_name} ({email})"},
	}}
	assert.NoError(t, ValidateStrategy(ok, nil, targetFields))

	bad := &domain.StrategyConfig{FieldMapping: []domain.FieldMapping{
		{SourceField: "display_name", TargetField: "badge", MappingOperation: domain.MappingExpression},
	}}
	err := ValidateStrategy(bad, nil, targetFields)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-empty expression")
}

func TestValidateStrategy_AggregatesAllErrors(t *testing.T) {
	cfg := &domain.StrategyConfig{FieldMapping: []domain.FieldMapping{
		{SourceField: "a", TargetField: "missing-1"},
		{SourceField: "b", TargetField: "missing-2"},
	}}
	err := ValidateStrategy(cfg, nil, []*domain.TenantField{field("employee_no", domain.FieldTypeString, true)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing-1")
	assert.Contains(t, err.Error(), "missing-2")
	assert.Contains(t, err.Error(), "employee_no")
}
