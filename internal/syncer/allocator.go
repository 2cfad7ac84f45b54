package syncer

import (
	"sync"

	"wisefido-directory/internal/domain"
)

// Allocator 内部主键分配器
// 每实体类型一个高水位，初始化自存储当前最大ID；持久化之前预分配。
// 只增不减：分配出去的值即使对应实体最终没写成功也不回收（允许空洞）
type Allocator struct {
	mu        sync.Mutex
	highWater map[domain.EntityType]int64
}

// NewAllocator 创建分配器
// seeds: 各实体类型的当前最大ID（来自 repository.MaxID）
// 编排器持有一个进程内共享实例：不同 (tenant, source) 的并发同步
// 只靠运行锁互斥不了，高水位必须共享才不会重发同一个ID
func NewAllocator(seeds map[domain.EntityType]int64) *Allocator {
	hw := make(map[domain.EntityType]int64, len(seeds))
	for t, max := range seeds {
		hw[t] = max
	}
	return &Allocator{highWater: hw}
}

// Raise 把高水位抬到至少 floor，从不回落
// 每次同步开始时用存储当前最大ID刷新；并发同步下谁先读到旧值都无害
func (a *Allocator) Raise(entityType domain.EntityType, floor int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.highWater[entityType] < floor {
		a.highWater[entityType] = floor
	}
}

// Allocate 分配下一个内部ID
// 同进程内不同实体类型的并发同步共用一把锁即可满足正确性
func (a *Allocator) Allocate(entityType domain.EntityType) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.highWater[entityType]++
	return a.highWater[entityType]
}
