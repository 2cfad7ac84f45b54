package syncer

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"wisefido-directory/internal/domain"
	"wisefido-directory/internal/source"
)

// ErrNilRawDepartment 解析到空的 raw 部门
// 父链顶端必须是无父节点的 raw，出现 nil 说明 mapper 有 bug，结构性错误直接终止
var ErrNilRawDepartment = errors.New("nil raw department in parent chain (mapper bug)")

// defaultMaxDepth 部门树深度上限的兜底值（配置缺省时生效）
const defaultMaxDepth = 10

// Resolver 层级解析器：自底向上保证部门祖先链全部落位
// 已存在的（按 external code 预取索引命中）复用ID原地更新，
// 新发现的分配新ID并暂存 create
type Resolver struct {
	tenantID string
	sourceID string
	maxDepth int

	alloc *Allocator
	index map[string]*domain.Department // 预取索引（含已禁用）
	acc   *Accumulator[*domain.Department]

	resolved map[string]int64 // 本次已解析 external code → 内部ID
	visiting map[string]bool  // 当前递归栈上的 code，环检测
	parents  map[string]string
}

// NewResolver 创建层级解析器
// maxDepth 是父链跳数上限；<=0 取缺省值
func NewResolver(tenantID, sourceID string, maxDepth int, alloc *Allocator, index map[string]*domain.Department, acc *Accumulator[*domain.Department]) *Resolver {
	if maxDepth <= 0 {
		maxDepth = defaultMaxDepth
	}
	return &Resolver{
		tenantID: tenantID,
		sourceID: sourceID,
		maxDepth: maxDepth,
		alloc:    alloc,
		index:    index,
		acc:      acc,
		resolved: make(map[string]int64),
		visiting: make(map[string]bool),
		parents:  make(map[string]string),
	}
}

// Resolve 解析一个 raw 部门，返回其内部ID
// 有父先解析父（深度优先自底向上建链），再把子的 parent_id 接到父的已解析ID
// 父链上出现环或超出深度上限按记录级失败返回，整棵链不落库
func (r *Resolver) Resolve(raw *source.RawDepartment) (int64, error) {
	return r.resolve(raw, 0)
}

func (r *Resolver) resolve(raw *source.RawDepartment, depth int) (int64, error) {
	if raw == nil {
		return 0, ErrNilRawDepartment
	}
	if raw.ExternalCode == "" {
		return 0, fmt.Errorf("raw department %q has no external code", raw.Name)
	}
	if id, done := r.resolved[raw.ExternalCode]; done {
		return id, nil
	}
	if r.visiting[raw.ExternalCode] {
		return 0, fmt.Errorf("parent cycle detected at department %q", raw.ExternalCode)
	}
	if depth >= r.maxDepth {
		return 0, fmt.Errorf("parent chain of department %q exceeds max depth %d", raw.ExternalCode, r.maxDepth)
	}
	r.visiting[raw.ExternalCode] = true
	defer delete(r.visiting, raw.ExternalCode)

	var parentID sql.NullInt64
	if raw.Parent != nil {
		pid, err := r.resolve(raw.Parent, depth+1)
		if err != nil {
			return 0, fmt.Errorf("resolve parent of %q: %w", raw.ExternalCode, err)
		}
		parentID = sql.NullInt64{Int64: pid, Valid: true}
		r.parents[raw.ExternalCode] = raw.Parent.ExternalCode
	}

	var extras []byte
	if len(raw.Extras) > 0 {
		extras = marshalExtras(raw.Extras)
	}

	if existing, ok := r.index[raw.ExternalCode]; ok {
		// 复用已有ID，可变字段原地更新（重新启用快照中回归的部门）
		existing.DepartmentName = raw.Name
		existing.ParentID = parentID
		existing.Enabled = true
		if extras != nil {
			existing.Extras = extras
		}
		r.acc.Add(existing, OpUpdate)
		r.resolved[raw.ExternalCode] = existing.DepartmentID
		return existing.DepartmentID, nil
	}

	id := r.alloc.Allocate(domain.EntityDepartment)
	dept := &domain.Department{
		DepartmentID:   id,
		TenantID:       r.tenantID,
		SourceID:       r.sourceID,
		ExternalCode:   raw.ExternalCode,
		DepartmentName: raw.Name,
		ParentID:       parentID,
		Enabled:        true,
		Extras:         extras,
	}
	r.acc.Add(dept, OpCreate)
	r.resolved[raw.ExternalCode] = id
	return id, nil
}

// ResolvedID 已解析部门的内部ID
func (r *Resolver) ResolvedID(externalCode string) (int64, bool) {
	id, ok := r.resolved[externalCode]
	return id, ok
}

// CascadedFailures 给定写入彻底失败的部门 code 集合，找出受其牵连的后代
// 父部门没写进去时每个后代都悬空，必须显式上报而不是静默丢弃
func (r *Resolver) CascadedFailures(failedCodes []string) []string {
	failed := make(map[string]bool, len(failedCodes))
	for _, code := range failedCodes {
		failed[code] = true
	}

	var cascaded []string
	for code := range r.resolved {
		if failed[code] {
			continue
		}
		for parent := r.parents[code]; parent != ""; parent = r.parents[parent] {
			if failed[parent] {
				cascaded = append(cascaded, code)
				break
			}
		}
	}
	return cascaded
}

func marshalExtras(extras map[string]string) []byte {
	b, _ := json.Marshal(extras)
	return b
}
