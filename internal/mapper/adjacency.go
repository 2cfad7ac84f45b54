package mapper

import (
	"fmt"

	"wisefido-directory/internal/source"
)

// AdjacencyMapper 远端数值父ID寻址的 mapper（钉钉/通用HTTP）
// 一遍建索引，前向引用推迟到第二遍；父节点始终不猜测
type AdjacencyMapper struct{}

func NewAdjacencyMapper() *AdjacencyMapper { return &AdjacencyMapper{} }

var _ Mapper = (*AdjacencyMapper)(nil)

func (m *AdjacencyMapper) MapDepartments(raws []*source.RawDepartment) ([]*source.RawDepartment, []Failure) {
	var failures []Failure

	// 第一遍：external code 索引（重复 code 后到者丢弃）
	byCode := map[string]*source.RawDepartment{}
	var order []*source.RawDepartment
	for _, raw := range raws {
		if raw.ExternalCode == "" {
			failures = append(failures, Failure{Key: raw.Name, Err: fmt.Errorf("department %q has no external code", raw.Name)})
			continue
		}
		if _, dup := byCode[raw.ExternalCode]; dup {
			failures = append(failures, Failure{Key: raw.ExternalCode, Err: fmt.Errorf("duplicate external code %q", raw.ExternalCode)})
			continue
		}
		byCode[raw.ExternalCode] = raw
		order = append(order, raw)
	}

	// 第二遍：接线父指针；此时索引已齐，前向引用可解
	out := make([]*source.RawDepartment, 0, len(order))
	for _, raw := range order {
		if raw.ParentCode != "" {
			parent, ok := byCode[raw.ParentCode]
			if !ok {
				failures = append(failures, Failure{
					Key: raw.ExternalCode,
					Err: fmt.Errorf("department %q references unknown parent %q", raw.ExternalCode, raw.ParentCode),
				})
				continue
			}
			raw.Parent = parent
		}
		out = append(out, raw)
	}
	return out, failures
}

func (m *AdjacencyMapper) MapUsers(users []*source.RawUser) ([]*source.RawUser, []Failure) {
	var out []*source.RawUser
	var failures []Failure
	for _, u := range users {
		if err := requireUserCode(u); err != nil {
			failures = append(failures, Failure{Key: u.ExternalCode, Err: err})
			continue
		}
		out = append(out, u)
	}
	return out, failures
}
