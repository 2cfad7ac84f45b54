package mapper

import (
	"fmt"

	"wisefido-directory/internal/source"
)

// Failure 单条记录的映射失败（记录后跳过，不中断整个同步）
type Failure struct {
	Key string // external code / DN / 路径，用于任务日志定位
	Err error
}

// Mapper 把源原生寻址归一化为 external code + 父链 + 属性映射
// 封闭的三个实现对应三种寻址方式，不做运行时属性探测
type Mapper interface {
	// MapDepartments 输出接好 Parent 指针、填好 ExternalCode 的部门集合，
	// 可能比输入多（路径派生源会补出祖先节点）
	MapDepartments(raws []*source.RawDepartment) ([]*source.RawDepartment, []Failure)

	// MapUsers 把用户的部门归属归一化到 DepartmentCodes
	MapUsers(users []*source.RawUser) ([]*source.RawUser, []Failure)
}

// Options mapper 构造参数
type Options struct {
	// hierarchical: 组件类型白名单（大小写不敏感），如 ["ou"]
	AllowedTypes []string
	// flatpath: 路径分隔符，默认 "/"
	PathSeparator string
}

// ForKind 按源寻址方式选择 mapper 变体
func ForKind(kind source.AddressKind, opts Options) (Mapper, error) {
	switch kind {
	case source.KindHierarchical:
		return NewHierarchicalMapper(opts.AllowedTypes), nil
	case source.KindAdjacency:
		return NewAdjacencyMapper(), nil
	case source.KindFlatPath:
		sep := opts.PathSeparator
		if sep == "" {
			sep = "/"
		}
		return NewFlatPathMapper(sep), nil
	default:
		return nil, fmt.Errorf("unknown address kind %q", kind)
	}
}

// 用户级通用校验：external code 不可为空
func requireUserCode(u *source.RawUser) error {
	if u.ExternalCode == "" {
		return fmt.Errorf("user has no external code")
	}
	return nil
}
