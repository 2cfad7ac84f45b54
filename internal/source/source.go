package source

import (
	"context"
	"errors"
)

// ErrFetchFailed 拉取失败（连接/鉴权/协议错误）
// 拉取全量缓冲在内存中，失败发生在任何写入之前，整个同步直接终止
var ErrFetchFailed = errors.New("fetch from external source failed")

// AddressKind 源的层级寻址方式，决定使用哪个 mapper 变体
type AddressKind string

const (
	KindHierarchical AddressKind = "hierarchical" // DN 式有序类型化路径（LDAP）
	KindAdjacency    AddressKind = "adjacency"    // 远端数值父ID（钉钉/通用HTTP）
	KindFlatPath     AddressKind = "flatpath"     // "A/B/C" 扁平路径（表格导入）
)

// RawDepartment 源侧原始部门记录（每次同步产生，映射后丢弃）
type RawDepartment struct {
	// 源本地标识；路径派生源（DN/扁平路径）在映射阶段填充
	ExternalCode string
	Name         string

	// 源原生寻址字段，按 AddressKind 三选一
	ParentCode string // adjacency: 远端父ID，根为空
	DN         string // hierarchical: 完整 DN
	Path       string // flatpath: "A/B/C"

	// 源特有属性（如 objectClass）
	Extras map[string]string

	// 内存父指针，由 mapper 接线，Hierarchy Resolver 沿其递归
	Parent *RawDepartment
}

// RawUser 源侧原始用户记录
type RawUser struct {
	ExternalCode string
	Properties   map[string]any // username/display_name/email/phone + 自定义字段

	// 上级的 external code 列表
	LeaderCodes []string

	// 部门归属，按源寻址方式三选一；映射后统一归一化到 DepartmentCodes。
	// 多值成员属性（LDAP group 等）会产生**额外的**部门归属
	DepartmentCodes []string
	DepartmentDNs   []string
	DepartmentPaths []string
}

// TestConnectionResult 连通性测试结果
type TestConnectionResult struct {
	OK               bool           `json:"ok"`
	ErrorMessage     string         `json:"error_message,omitempty"`
	SampleUser       *RawUser       `json:"sample_user,omitempty"`
	SampleDepartment *RawDepartment `json:"sample_department,omitempty"`
}

// Adapter 外部源适配器插件接口
// 每个实现自己负责其协议的重试/超时/分页；fetch 整体缓冲，不做流式写入
type Adapter interface {
	FetchDepartments(ctx context.Context) ([]*RawDepartment, error)
	FetchUsers(ctx context.Context) ([]*RawUser, error)
	TestConnection(ctx context.Context) *TestConnectionResult
	AddressKind() AddressKind
}
