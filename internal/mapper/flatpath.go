package mapper

import (
	"fmt"
	"hash/fnv"
	"strings"

	"wisefido-directory/internal/source"
)

// PathCode 路径的确定性派生 external code（fnv-64a 十六进制）
// 同一路径跨行/跨次同步得到同一 code，保证合并与幂等
func PathCode(path string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(path))
	return fmt.Sprintf("p%016x", h.Sum64())
}

// FlatPathMapper "A/B/C" 扁平路径寻址的 mapper（表格导入）
// 祖先集合 = 路径的全部前缀
type FlatPathMapper struct {
	separator string
}

func NewFlatPathMapper(separator string) *FlatPathMapper {
	return &FlatPathMapper{separator: separator}
}

var _ Mapper = (*FlatPathMapper)(nil)

// splitPath 切分并去掉空段（容忍 "A//B"、首尾分隔符）
func (m *FlatPathMapper) splitPath(path string) []string {
	var segments []string
	for _, s := range strings.Split(path, m.separator) {
		if t := strings.TrimSpace(s); t != "" {
			segments = append(segments, t)
		}
	}
	return segments
}

func (m *FlatPathMapper) MapDepartments(raws []*source.RawDepartment) ([]*source.RawDepartment, []Failure) {
	byCode := map[string]*source.RawDepartment{}
	var order []string
	var failures []Failure

	for _, raw := range raws {
		segments := m.splitPath(raw.Path)
		if len(segments) == 0 {
			failures = append(failures, Failure{Key: raw.Path, Err: fmt.Errorf("empty department path %q", raw.Path)})
			continue
		}
		var parent *source.RawDepartment
		for i := range segments {
			prefix := strings.Join(segments[:i+1], m.separator)
			code := PathCode(prefix)
			n, ok := byCode[code]
			if !ok {
				n = &source.RawDepartment{
					ExternalCode: code,
					Name:         segments[i],
					Parent:       parent,
				}
				byCode[code] = n
				order = append(order, code)
			}
			parent = n
		}
		if raw.Extras != nil {
			parent.Extras = raw.Extras
		}
	}

	out := make([]*source.RawDepartment, 0, len(order))
	for _, code := range order {
		out = append(out, byCode[code])
	}
	return out, failures
}

func (m *FlatPathMapper) MapUsers(users []*source.RawUser) ([]*source.RawUser, []Failure) {
	var out []*source.RawUser
	var failures []Failure
	for _, u := range users {
		if err := requireUserCode(u); err != nil {
			failures = append(failures, Failure{Key: u.ExternalCode, Err: err})
			continue
		}
		for _, path := range u.DepartmentPaths {
			segments := m.splitPath(path)
			if len(segments) == 0 {
				failures = append(failures, Failure{Key: u.ExternalCode, Err: fmt.Errorf("empty department path %q", path)})
				continue
			}
			u.DepartmentCodes = appendUniqueCode(u.DepartmentCodes, PathCode(strings.Join(segments, m.separator)))
		}
		out = append(out, u)
	}
	return out, failures
}
