package mapper

import (
	"errors"
	"fmt"
	"strings"

	"wisefido-directory/internal/source"

	"github.com/go-ldap/ldap/v3"
)

// ErrNoHierarchyComponents 白名单过滤后 DN 不剩任何组件
// 必须显式失败，禁止静默产出无根实体
var ErrNoHierarchyComponents = errors.New("no hierarchy components left after filtering")

// ParsePath 解析 DN 为自外向内的路径段（最外层容器在前）
// allowedTypes 非空时按组件类型过滤（大小写不敏感）
// "ou=shenzhen,ou=guangdong,dc=center,dc=com" + ["ou"] → ["guangdong", "shenzhen"]
func ParsePath(dn string, allowedTypes []string) ([]string, error) {
	parsed, err := ldap.ParseDN(dn)
	if err != nil {
		return nil, fmt.Errorf("malformed dn %q: %w", dn, err)
	}

	allowed := map[string]bool{}
	for _, t := range allowedTypes {
		allowed[strings.ToLower(t)] = true
	}

	// DN 自内向外，这里先按原顺序过滤再整体反转
	var segments []string
	for _, rdn := range parsed.RDNs {
		for _, attr := range rdn.Attributes {
			if len(allowed) > 0 && !allowed[strings.ToLower(attr.Type)] {
				continue
			}
			segments = append(segments, attr.Value)
		}
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("%w: %q with filter %v", ErrNoHierarchyComponents, dn, allowedTypes)
	}

	for i, j := 0, len(segments)-1; i < j; i, j = i+1, j-1 {
		segments[i], segments[j] = segments[j], segments[i]
	}
	return segments, nil
}

// HierarchicalMapper DN 式寻址的 mapper（LDAP）
// external code = 过滤后路径段用 "/" 连接（自外向内），同一路径跨条目合并
type HierarchicalMapper struct {
	allowedTypes []string
}

func NewHierarchicalMapper(allowedTypes []string) *HierarchicalMapper {
	return &HierarchicalMapper{allowedTypes: allowedTypes}
}

var _ Mapper = (*HierarchicalMapper)(nil)

func (m *HierarchicalMapper) MapDepartments(raws []*source.RawDepartment) ([]*source.RawDepartment, []Failure) {
	byCode := map[string]*source.RawDepartment{}
	var order []string
	var failures []Failure

	node := func(segments []string) *source.RawDepartment {
		var parent *source.RawDepartment
		for i := range segments {
			code := strings.Join(segments[:i+1], "/")
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
		return parent
	}

	for _, raw := range raws {
		segments, err := ParsePath(raw.DN, m.allowedTypes)
		if err != nil {
			failures = append(failures, Failure{Key: raw.DN, Err: err})
			continue
		}
		n := node(segments)
		// 条目自身的显示名和属性覆盖合成节点
		if raw.Name != "" {
			n.Name = raw.Name
		}
		if raw.Extras != nil {
			n.Extras = raw.Extras
		}
	}

	out := make([]*source.RawDepartment, 0, len(order))
	for _, code := range order {
		out = append(out, byCode[code])
	}
	return out, failures
}

func (m *HierarchicalMapper) MapUsers(users []*source.RawUser) ([]*source.RawUser, []Failure) {
	var out []*source.RawUser
	var failures []Failure
	for _, u := range users {
		if err := requireUserCode(u); err != nil {
			failures = append(failures, Failure{Key: u.ExternalCode, Err: err})
			continue
		}
		for _, dn := range u.DepartmentDNs {
			segments, err := ParsePath(dn, m.allowedTypes)
			if err != nil {
				// 单条归属解析失败：跳过该归属但保留用户
				failures = append(failures, Failure{Key: u.ExternalCode, Err: err})
				continue
			}
			code := strings.Join(segments, "/")
			u.DepartmentCodes = appendUniqueCode(u.DepartmentCodes, code)
		}
		out = append(out, u)
	}
	return out, failures
}

func appendUniqueCode(codes []string, code string) []string {
	for _, c := range codes {
		if c == code {
			return codes
		}
	}
	return append(codes, code)
}
