package syncer

import (
	"context"

	"wisefido-directory/internal/domain"
)

// Op 累加器中记录的操作
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
)

// Flusher 单实体类型的批量写入端（repository 绑定事务后实现）
type Flusher[T any] interface {
	BulkCreate(ctx context.Context, items []T) error
	CreateOne(ctx context.Context, item T) error
	BulkUpdate(ctx context.Context, items []T) error
	UpdateOne(ctx context.Context, item T) error
}

type entry[T any] struct {
	item T
	op   Op
}

// Accumulator 变更批量累加器：一次同步内按 external code 去重收集 create/update
// Add 对同 code 幂等（本次同步先写入者生效），flush 分片批量写，
// 批量失败回退逐条，单条失败记录后继续
type Accumulator[T any] struct {
	entityType domain.EntityType
	keyOf      func(T) string
	chunkSize  int

	entries map[string]*entry[T]
	order   []string
}

// NewAccumulator 创建累加器
func NewAccumulator[T any](entityType domain.EntityType, chunkSize int, keyOf func(T) string) *Accumulator[T] {
	if chunkSize <= 0 {
		chunkSize = 200
	}
	return &Accumulator[T]{
		entityType: entityType,
		keyOf:      keyOf,
		chunkSize:  chunkSize,
		entries:    make(map[string]*entry[T]),
	}
}

// Add 暂存一条操作；同 external code 的第二次 Add 静默忽略
func (a *Accumulator[T]) Add(item T, op Op) {
	key := a.keyOf(item)
	if _, exists := a.entries[key]; exists {
		return
	}
	a.entries[key] = &entry[T]{item: item, op: op}
	a.order = append(a.order, key)
}

// Exists 本次同步是否已暂存该 external code
func (a *Accumulator[T]) Exists(key string) bool {
	_, ok := a.entries[key]
	return ok
}

// Get 取已暂存实体；不存在返回零值和 false
func (a *Accumulator[T]) Get(key string) (T, bool) {
	if e, ok := a.entries[key]; ok {
		return e.item, true
	}
	var zero T
	return zero, false
}

// Len 暂存条数
func (a *Accumulator[T]) Len() int { return len(a.order) }

// pending 按插入序取指定操作的 (key, item) 列表
func (a *Accumulator[T]) pending(op Op) ([]string, []T) {
	var keys []string
	var items []T
	for _, key := range a.order {
		if e := a.entries[key]; e.op == op {
			keys = append(keys, key)
			items = append(items, e.item)
		}
	}
	return keys, items
}

// Flush 批量落库
// 分片只是为尊重存储层参数上限，不承担正确性；批量失败回退逐条，
// 单条失败记入同步上下文而不是抛出——少量坏记录不应中断一次大同步。
// 返回彻底写入失败的 external code 列表（级联失败检查用）
func (a *Accumulator[T]) Flush(ctx context.Context, f Flusher[T], sc *Context) ([]string, error) {
	var failedKeys []string

	flushOp := func(op Op) error {
		keys, items := a.pending(op)
		for start := 0; start < len(items); start += a.chunkSize {
			end := start + a.chunkSize
			if end > len(items) {
				end = len(items)
			}
			chunkKeys, chunk := keys[start:end], items[start:end]

			var bulkErr error
			if op == OpCreate {
				bulkErr = f.BulkCreate(ctx, chunk)
			} else {
				bulkErr = f.BulkUpdate(ctx, chunk)
			}
			if bulkErr == nil {
				sc.AddChanges(a.entityType, string(op), chunkKeys...)
				continue
			}

			// 批量失败：逐条回退，跳过坏记录继续
			for i, item := range chunk {
				if err := ctx.Err(); err != nil {
					return err
				}
				var oneErr error
				if op == OpCreate {
					oneErr = f.CreateOne(ctx, item)
				} else {
					oneErr = f.UpdateOne(ctx, item)
				}
				if oneErr != nil {
					sc.RecordFailure("flush/"+string(a.entityType), a.entityType, chunkKeys[i], oneErr)
					failedKeys = append(failedKeys, chunkKeys[i])
					continue
				}
				sc.AddChanges(a.entityType, string(op), chunkKeys[i])
			}
		}
		return nil
	}

	if err := flushOp(OpCreate); err != nil {
		return failedKeys, err
	}
	// 关系边只有存在性，没有 update 流程
	if !a.entityType.IsRelation() {
		if err := flushOp(OpUpdate); err != nil {
			return failedKeys, err
		}
	}
	return failedKeys, nil
}
