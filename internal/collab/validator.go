package collab

import (
	"errors"
	"fmt"
	"strings"

	"wisefido-directory/internal/domain"
)

// FieldError 字段映射契约的一条校验错误
// 枚举不兼容时带上具体不可映射的取值，而不是笼统报错
type FieldError struct {
	TargetField      string
	SourceField      string
	Reason           string
	UnmappableValues []string
}

func (e *FieldError) Error() string {
	if len(e.UnmappableValues) > 0 {
		return fmt.Sprintf("field mapping %q -> %q: %s: unmappable values [%s]",
			e.SourceField, e.TargetField, e.Reason, strings.Join(e.UnmappableValues, ", "))
	}
	if e.SourceField != "" {
		return fmt.Sprintf("field mapping %q -> %q: %s", e.SourceField, e.TargetField, e.Reason)
	}
	return fmt.Sprintf("target field %q: %s", e.TargetField, e.Reason)
}

// ValidateStrategy 校验字段映射契约
// 在策略确认/更新时同步执行——坏契约永远到不了编排器。
// 规则：
//   - 映射的 target 字段必须存在于目标租户字段目录（内置或自定义）
//   - 目标租户标记 required 的字段必须出现在映射中（硬错误，不做尽力跳过）
//   - 枚举目标字段：源字段每个可能取值在目标侧都要有对应可选项
//   - 非枚举字段：源目标数据类型必须一致（数值不能从枚举映射过来）
func ValidateStrategy(cfg *domain.StrategyConfig, sourceFields, targetFields []*domain.TenantField) error {
	sourceByKey := make(map[string]*domain.TenantField, len(sourceFields))
	for _, f := range sourceFields {
		sourceByKey[f.FieldKey] = f
	}
	targetByKey := make(map[string]*domain.TenantField, len(targetFields))
	for _, f := range targetFields {
		targetByKey[f.FieldKey] = f
	}

	var errs []error
	mapped := make(map[string]bool, len(cfg.FieldMapping))

	for _, m := range cfg.FieldMapping {
		target, ok := targetByKey[m.TargetField]
		if !ok {
			errs = append(errs, &FieldError{
				TargetField: m.TargetField,
				SourceField: m.SourceField,
				Reason:      "not an allowed field on the target tenant",
			})
			continue
		}
		mapped[m.TargetField] = true

		switch m.MappingOperation {
		case domain.MappingExpression:
			if m.Expression == "" {
				errs = append(errs, &FieldError{
					TargetField: m.TargetField,
					SourceField: m.SourceField,
					Reason:      "expression mapping requires a non-empty expression",
				})
			}
			// 表达式产物无法静态校验选项集，运行期按字符串写入
			continue
		case domain.MappingDirect, "":
		default:
			errs = append(errs, &FieldError{
				TargetField: m.TargetField,
				SourceField: m.SourceField,
				Reason:      fmt.Sprintf("unknown mapping operation %q", m.MappingOperation),
			})
			continue
		}

		src := sourceByKey[m.SourceField]
		if target.IsEnum() {
			if src == nil || !src.IsEnum() {
				errs = append(errs, &FieldError{
					TargetField: m.TargetField,
					SourceField: m.SourceField,
					Reason:      "enumerated target field requires an enumerated source field",
				})
				continue
			}
			// 源的每个可能取值都要能落到目标的某个可选项
			var unmappable []string
			for _, opt := range src.Options {
				if _, ok := target.OptionIDByValue(opt.Value); !ok {
					unmappable = append(unmappable, opt.Value)
				}
			}
			if len(unmappable) > 0 {
				errs = append(errs, &FieldError{
					TargetField:      m.TargetField,
					SourceField:      m.SourceField,
					Reason:           "source options have no corresponding target option",
					UnmappableValues: unmappable,
				})
			}
			continue
		}
		if src != nil && src.FieldType != target.FieldType {
			errs = append(errs, &FieldError{
				TargetField: m.TargetField,
				SourceField: m.SourceField,
				Reason:      fmt.Sprintf("data type mismatch: %s cannot map from %s", target.FieldType, src.FieldType),
			})
		}
	}

	// required 目标字段缺失是硬校验错误
	for _, f := range targetFields {
		if f.Required && !mapped[f.FieldKey] {
			errs = append(errs, &FieldError{
				TargetField: f.FieldKey,
				Reason:      "required target field is missing from the mapping",
			})
		}
	}

	return errors.Join(errs...)
}
