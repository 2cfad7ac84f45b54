package syncer

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"wisefido-directory/internal/domain"
)

// stepRecord 单条步骤记录（成功或失败都进日志，与错误传播无关）
type stepRecord struct {
	at      time.Time
	step    string
	key     string // 记录级失败时的 external code
	message string
	err     error
}

// entityCounts 每实体类型的计数
type entityCounts struct {
	created int
	updated int
	deleted int
	failed  int
}

// Context 同步上下文：逐步累积成功/失败记录
// 任务报告的日志、警告位和变更统计都从这里渲染，成功时也保留（审计）
type Context struct {
	mu      sync.Mutex
	records []stepRecord
	changes []ChangeRecord
	counts  map[domain.EntityType]*entityCounts
}

// NewContext 创建同步上下文
func NewContext() *Context {
	return &Context{counts: make(map[domain.EntityType]*entityCounts)}
}

func (c *Context) countsFor(t domain.EntityType) *entityCounts {
	ec, ok := c.counts[t]
	if !ok {
		ec = &entityCounts{}
		c.counts[t] = ec
	}
	return ec
}

// StepOK 记录一个成功步骤
func (c *Context) StepOK(step, format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, stepRecord{at: time.Now(), step: step, message: fmt.Sprintf(format, args...)})
}

// RecordFailure 记录一条记录级失败（跳过该记录，同步继续）
func (c *Context) RecordFailure(step string, entityType domain.EntityType, key string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, stepRecord{at: time.Now(), step: step, key: key, err: err})
	c.countsFor(entityType).failed++
}

// ChangeRecord 一条已生效的变更（变更日志流的载荷）
type ChangeRecord struct {
	EntityType domain.EntityType `json:"entity_type"`
	Op         string            `json:"op"` // create/update/delete
	Key        string            `json:"external_code"`
}

// AddChanges 记录已生效的变更并累加计数
func (c *Context) AddChanges(t domain.EntityType, op string, keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ec := c.countsFor(t)
	for _, key := range keys {
		c.changes = append(c.changes, ChangeRecord{EntityType: t, Op: op, Key: key})
		switch op {
		case "create":
			ec.created++
		case "update":
			ec.updated++
		case "delete":
			ec.deleted++
		}
	}
}

// Changes 本次同步全部已生效变更
func (c *Context) Changes() []ChangeRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ChangeRecord, len(c.changes))
	copy(out, c.changes)
	return out
}

// HasWarning 存在记录级失败
func (c *Context) HasWarning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ec := range c.counts {
		if ec.failed > 0 {
			return true
		}
	}
	return false
}

// FailedCount 指定实体类型的失败记录数
func (c *Context) FailedCount(t domain.EntityType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.countsFor(t).failed
}

// Summary 渲染变更统计（任务报告 summary 字段）
func (c *Context) Summary() domain.ChangeSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	var s domain.ChangeSummary
	if ec, ok := c.counts[domain.EntityUser]; ok {
		s.User = domain.EntityCounts{Create: ec.created, Delete: ec.deleted}
	}
	if ec, ok := c.counts[domain.EntityDepartment]; ok {
		s.Department = domain.EntityCounts{Create: ec.created, Delete: ec.deleted}
	}
	return s
}

// RenderLog 渲染人类可读日志
func (c *Context) RenderLog() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var sb strings.Builder
	for _, rec := range c.records {
		sb.WriteString(rec.at.Format(time.RFC3339))
		sb.WriteString(" [")
		sb.WriteString(rec.step)
		sb.WriteString("] ")
		if rec.err != nil {
			if rec.key != "" {
				fmt.Fprintf(&sb, "FAILED %s: %v", rec.key, rec.err)
			} else {
				fmt.Fprintf(&sb, "FAILED: %v", rec.err)
			}
		} else {
			sb.WriteString(rec.message)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
