package syncer

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"wisefido-directory/internal/config"
	"wisefido-directory/internal/domain"
	"wisefido-directory/internal/mapper"
	"wisefido-directory/internal/repository"
	"wisefido-directory/internal/source"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Repos 编排器依赖的存储接口集合
type Repos struct {
	Departments repository.DepartmentsRepository
	Users       repository.UsersRepository
	Relations   repository.RelationsRepository
	Tasks       repository.SyncTasksRepository
}

// Pass 一次同步的输入
type Pass struct {
	TenantID string
	Source   *domain.DataSource
	Trigger  string

	Adapter source.Adapter
	Mapper  mapper.Mapper

	// 协同复制钩子：映射之后、累加之前对用户做字段映射变换
	// 返回 nil 表示丢弃该用户（不在复制范围内）
	UserTransform func(*source.RawUser) *source.RawUser
}

// Orchestrator 同步编排器：驱动一次完整的 (tenant, source) 同步
// 任务状态机 pending → running → {success, failed}，终态不可再变
type Orchestrator struct {
	db     *sql.DB
	repos  Repos
	lock   *RunLock
	events EventPublisher
	cfg    config.SyncConfig
	logger *zap.Logger

	// 进程内共享的ID分配器：运行锁只隔离同一 (tenant, source)，
	// 不同 pair 的并发 pass 必须共用高水位，否则双发同一个ID
	alloc *Allocator
}

// NewOrchestrator 创建编排器
func NewOrchestrator(db *sql.DB, repos Repos, lock *RunLock, events EventPublisher, cfg config.SyncConfig, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{db: db, repos: repos, lock: lock, events: events, cfg: cfg, logger: logger, alloc: NewAllocator(nil)}
}

// Run 执行一次同步，返回终态任务
// 抢锁失败返回 ErrLockHeld（任务同时落为 failed，日志带可识别原因）
func (o *Orchestrator) Run(ctx context.Context, pass *Pass) (*domain.SyncTask, error) {
	task := &domain.SyncTask{
		TaskID:   uuid.NewString(),
		TenantID: pass.TenantID,
		SourceID: pass.Source.SourceID,
		Status:   domain.TaskStatusPending,
		Trigger:  pass.Trigger,
		StartAt:  time.Now(),
	}
	if err := o.repos.Tasks.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to create sync task: %w", err)
	}

	// 非阻塞抢锁；拿不到锁直接 failed，不做任何 fetch
	token, err := o.lock.Acquire(ctx, pass.TenantID, pass.Source.SourceID)
	if err != nil {
		reason := fmt.Sprintf("sync aborted: %v", err)
		if errors.Is(err, ErrLockHeld) {
			reason = "sync aborted: another sync is already running for this (tenant, source)"
		}
		o.finish(ctx, task, domain.TaskStatusFailed, false, reason, nil, nil)
		if errors.Is(err, ErrLockHeld) {
			return task, ErrLockHeld
		}
		return task, err
	}
	defer func() {
		if err := o.lock.Release(context.Background(), pass.TenantID, pass.Source.SourceID, token); err != nil {
			o.logger.Warn("failed to release sync lock", zap.Error(err))
		}
	}()

	if err := o.repos.Tasks.MarkRunning(ctx, task.TaskID); err != nil {
		o.finish(ctx, task, domain.TaskStatusFailed, false, fmt.Sprintf("sync aborted: %v", err), nil, nil)
		return task, err
	}
	task.Status = domain.TaskStatusRunning

	// 墙钟预算：超时是独立于普通异常的失败原因（隐含部分写入已回滚）
	runCtx, cancel := context.WithTimeout(ctx, o.cfg.TaskTimeout)
	defer cancel()

	sc := NewContext()
	runErr := o.runPass(runCtx, pass, sc)

	switch {
	case runErr == nil:
		o.finish(ctx, task, domain.TaskStatusSuccess, sc.HasWarning(), sc.RenderLog(), sc, nil)
	// lib/pq 取消语句时返回自身错误不包装 context 错误，得同时看 runCtx
	case errors.Is(runErr, context.DeadlineExceeded), errors.Is(runCtx.Err(), context.DeadlineExceeded):
		o.finish(ctx, task, domain.TaskStatusFailed, sc.HasWarning(),
			sc.RenderLog()+"sync aborted: wall-clock budget exceeded, uncommitted writes rolled back\n", sc, runErr)
	default:
		o.finish(ctx, task, domain.TaskStatusFailed, sc.HasWarning(),
			sc.RenderLog()+fmt.Sprintf("sync aborted: %v\n", runErr), sc, runErr)
	}
	return task, runErr
}

// finish 写终态、发事件
func (o *Orchestrator) finish(ctx context.Context, task *domain.SyncTask, status string, warning bool, logs string, sc *Context, cause error) {
	task.Status = status
	task.DurationMS = time.Since(task.StartAt).Milliseconds()
	task.HasWarning = warning
	task.Logs = logs
	var changes []ChangeRecord
	if sc != nil {
		task.Summary = domain.MarshalSummary(sc.Summary())
		changes = sc.Changes()
	}
	if err := o.repos.Tasks.Finish(ctx, task); err != nil {
		o.logger.Error("failed to persist sync task result",
			zap.String("task_id", task.TaskID),
			zap.Error(err),
		)
	}

	if o.events != nil {
		var summary domain.ChangeSummary
		if len(task.Summary) > 0 {
			_ = json.Unmarshal(task.Summary, &summary)
		}
		event := &SyncCompletedEvent{
			TaskID:     task.TaskID,
			TenantID:   task.TenantID,
			SourceID:   task.SourceID,
			Trigger:    task.Trigger,
			Status:     status,
			HasWarning: warning,
			Summary:    summary,
			Changes:    changes,
			FinishedAt: time.Now(),
		}
		if err := o.events.Publish(ctx, event); err != nil {
			o.logger.Warn("failed to publish sync event", zap.Error(err))
		}
	}
	if cause != nil {
		o.logger.Error("sync pass failed",
			zap.String("task_id", task.TaskID),
			zap.String("tenant_id", task.TenantID),
			zap.String("source_id", task.SourceID),
			zap.Error(cause),
		)
	} else {
		o.logger.Info("sync pass finished",
			zap.String("task_id", task.TaskID),
			zap.String("status", status),
			zap.Bool("has_warning", warning),
		)
	}
}

// runPass running 阶段主体
// 先整体缓冲 fetch（任何写入之前），部门步和用户/关系步各自一个事务：
// 用户步失败不回滚已提交的部门步
func (o *Orchestrator) runPass(ctx context.Context, pass *Pass, sc *Context) error {
	tenantID := pass.TenantID
	sourceID := pass.Source.SourceID

	// ---- fetch（全量缓冲，写入永远看不到半拉的外部状态）----
	rawDepts, err := pass.Adapter.FetchDepartments(ctx)
	if err != nil {
		return fmt.Errorf("fetch departments: %w", err)
	}
	rawUsers, err := pass.Adapter.FetchUsers(ctx)
	if err != nil {
		return fmt.Errorf("fetch users: %w", err)
	}
	sc.StepOK("fetch", "fetched %d raw departments, %d raw users", len(rawDepts), len(rawUsers))

	// ---- map（记录级失败跳过，不中断）----
	mappedDepts, deptFailures := pass.Mapper.MapDepartments(rawDepts)
	for _, f := range deptFailures {
		sc.RecordFailure("map/department", domain.EntityDepartment, f.Key, f.Err)
	}
	mappedUsers, userFailures := pass.Mapper.MapUsers(rawUsers)
	for _, f := range userFailures {
		sc.RecordFailure("map/user", domain.EntityUser, f.Key, f.Err)
	}
	if pass.UserTransform != nil {
		transformed := mappedUsers[:0]
		for _, u := range mappedUsers {
			if t := pass.UserTransform(u); t != nil {
				transformed = append(transformed, t)
			}
		}
		mappedUsers = transformed
	}
	sc.StepOK("map", "mapped %d departments, %d users", len(mappedDepts), len(mappedUsers))

	// ---- 分配器：共享高水位用存储当前最大ID刷新（只抬不降）----
	maxDept, err := o.repos.Departments.MaxID(ctx)
	if err != nil {
		return err
	}
	maxUser, err := o.repos.Users.MaxID(ctx)
	if err != nil {
		return err
	}
	o.alloc.Raise(domain.EntityDepartment, maxDept)
	o.alloc.Raise(domain.EntityUser, maxUser)

	deptIndex, err := o.repos.Departments.CodeIndex(ctx, tenantID, sourceID)
	if err != nil {
		return err
	}

	// ---- 部门步（独立事务）----
	resolver, failedDepts, err := o.syncDepartments(ctx, pass, sc, o.alloc, deptIndex, mappedDepts)
	if err != nil {
		return err
	}

	// ---- 用户/关系步（独立事务，部门步已提交不受影响）----
	if err := o.syncUsersAndRelations(ctx, pass, sc, o.alloc, resolver, failedDepts, deptIndex, mappedUsers); err != nil {
		return err
	}
	return nil
}

// syncDepartments 部门步；返回写入失败（含级联悬空）的 external code 集合，
// 供用户/关系步拒绝向未落库的部门建边
func (o *Orchestrator) syncDepartments(ctx context.Context, pass *Pass, sc *Context, alloc *Allocator,
	deptIndex map[string]*domain.Department, mappedDepts []*source.RawDepartment) (*Resolver, map[string]bool, error) {

	tenantID := pass.TenantID
	sourceID := pass.Source.SourceID

	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin department tx: %w", err)
	}
	defer tx.Rollback()

	// 软删除：新快照中不再出现的部门转为禁用而不是硬删
	disabled, err := o.repos.Departments.DisableAll(ctx, tx, tenantID, sourceID, pass.Source.ExemptCodes)
	if err != nil {
		return nil, nil, err
	}

	acc := NewAccumulator(domain.EntityDepartment, o.cfg.BatchSize,
		func(d *domain.Department) string { return d.ExternalCode })
	resolver := NewResolver(tenantID, sourceID, o.cfg.MaxDepth, alloc, deptIndex, acc)

	for _, raw := range mappedDepts {
		if _, err := resolver.Resolve(raw); err != nil {
			// 无根链条意味着 mapper 有系统性 bug：结构性错误，终止整个同步
			if errors.Is(err, ErrNilRawDepartment) {
				return nil, nil, err
			}
			sc.RecordFailure("resolve/department", domain.EntityDepartment, raw.ExternalCode, err)
		}
	}

	failedKeys, err := acc.Flush(ctx, &deptFlusher{repo: o.repos.Departments, tx: tx}, sc)
	if err != nil {
		return nil, nil, err
	}
	failedDepts := make(map[string]bool, len(failedKeys))
	for _, code := range failedKeys {
		failedDepts[code] = true
	}
	// 父部门写入失败会悬空全部后代：显式上报级联失败
	for _, code := range resolver.CascadedFailures(failedKeys) {
		failedDepts[code] = true
		sc.RecordFailure("flush/department", domain.EntityDepartment, code,
			fmt.Errorf("cascading failure: an ancestor department could not be persisted"))
	}

	// 层级索引在部分写入下不保证自洽，批量写后整体重建
	if err := o.repos.Departments.RebuildHierarchyIndex(ctx, tx, tenantID, sourceID); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit department tx: %w", err)
	}

	// 删除数 = 被禁用且本次没有回归的
	for _, code := range disabled {
		if _, back := resolver.ResolvedID(code); !back {
			sc.AddChanges(domain.EntityDepartment, "delete", code)
		}
	}
	sc.StepOK("department", "synchronized %d departments (%d failed)", acc.Len(), sc.FailedCount(domain.EntityDepartment))
	return resolver, failedDepts, nil
}

func (o *Orchestrator) syncUsersAndRelations(ctx context.Context, pass *Pass, sc *Context, alloc *Allocator,
	resolver *Resolver, failedDepts map[string]bool, deptIndex map[string]*domain.Department, mappedUsers []*source.RawUser) error {

	tenantID := pass.TenantID
	sourceID := pass.Source.SourceID

	userIndex, err := o.repos.Users.CodeIndex(ctx, tenantID, sourceID)
	if err != nil {
		return err
	}

	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin user tx: %w", err)
	}
	defer tx.Rollback()

	disabled, err := o.repos.Users.DisableAll(ctx, tx, tenantID, sourceID, pass.Source.ExemptCodes)
	if err != nil {
		return err
	}

	acc := NewAccumulator(domain.EntityUser, o.cfg.BatchSize,
		func(u *domain.User) string { return u.ExternalCode })

	// 第一阶段：staging 用户（先把全部用户连同ID定下来，上级边才能两两成边）
	type pendingEdges struct {
		userID      int64
		leaderCodes []string
		deptCodes   []string
	}
	var edges []pendingEdges
	staged := map[string]int64{}

	for _, raw := range mappedUsers {
		if acc.Exists(raw.ExternalCode) {
			continue // 同 code 以先到为准
		}
		props, err := json.Marshal(raw.Properties)
		if err != nil {
			sc.RecordFailure("stage/user", domain.EntityUser, raw.ExternalCode, err)
			continue
		}
		username, _ := raw.Properties["username"].(string)
		if username == "" {
			username = raw.ExternalCode
		}

		var userID int64
		if existing, ok := userIndex[raw.ExternalCode]; ok {
			existing.Username = username
			existing.DisplayName = nullString(stringProp(raw.Properties, "display_name"))
			existing.Email = nullString(stringProp(raw.Properties, "email"))
			existing.Phone = nullString(stringProp(raw.Properties, "phone"))
			existing.Properties = props
			existing.Enabled = true
			acc.Add(existing, OpUpdate)
			userID = existing.UserID
		} else {
			userID = alloc.Allocate(domain.EntityUser)
			acc.Add(&domain.User{
				UserID:       userID,
				TenantID:     tenantID,
				SourceID:     sourceID,
				ExternalCode: raw.ExternalCode,
				Username:     username,
				DisplayName:  nullString(stringProp(raw.Properties, "display_name")),
				Email:        nullString(stringProp(raw.Properties, "email")),
				Phone:        nullString(stringProp(raw.Properties, "phone")),
				Properties:   props,
				Enabled:      true,
			}, OpCreate)
		}
		staged[raw.ExternalCode] = userID
		edges = append(edges, pendingEdges{userID: userID, leaderCodes: raw.LeaderCodes, deptCodes: raw.DepartmentCodes})
	}

	failedKeys, err := acc.Flush(ctx, &userFlusher{repo: o.repos.Users, tx: tx}, sc)
	if err != nil {
		return err
	}
	failedSet := map[string]bool{}
	for _, k := range failedKeys {
		failedSet[k] = true
	}

	// 第二阶段：关系边（引用的两端都确认落库后才建边，不留悬挂关系）
	if err := o.repos.Relations.DeleteForSource(ctx, tx, tenantID, sourceID); err != nil {
		return err
	}

	duAcc := NewAccumulator(domain.EntityDepartmentUserEdge, o.cfg.BatchSize,
		func(r *domain.DepartmentUserRelation) string {
			return fmt.Sprintf("%d:%d", r.DepartmentID, r.UserID)
		})
	ulAcc := NewAccumulator(domain.EntityUserLeaderEdge, o.cfg.BatchSize,
		func(r *domain.UserLeaderRelation) string {
			return fmt.Sprintf("%d:%d", r.UserID, r.LeaderID)
		})

	// 部门步写失败的 code 即使解析出ID也没有对应的行，建边会悬空，必须拒绝
	resolveDept := func(code string) (int64, bool) {
		if failedDepts[code] {
			return 0, false
		}
		if id, ok := resolver.ResolvedID(code); ok {
			return id, true
		}
		if existing, ok := deptIndex[code]; ok {
			return existing.DepartmentID, true
		}
		return 0, false
	}

	for _, raw := range mappedUsers {
		userID, ok := staged[raw.ExternalCode]
		if !ok || failedSet[raw.ExternalCode] {
			continue
		}
		for _, code := range raw.DepartmentCodes {
			deptID, ok := resolveDept(code)
			if !ok {
				if failedDepts[code] {
					sc.RecordFailure("relation/department-user", domain.EntityDepartmentUserEdge, raw.ExternalCode,
						fmt.Errorf("user %q references department %q which was not persisted", raw.ExternalCode, code))
				} else {
					sc.RecordFailure("relation/department-user", domain.EntityDepartmentUserEdge, raw.ExternalCode,
						fmt.Errorf("user %q references unknown department %q", raw.ExternalCode, code))
				}
				continue
			}
			duAcc.Add(&domain.DepartmentUserRelation{DepartmentID: deptID, UserID: userID}, OpCreate)
		}
		for _, leaderCode := range raw.LeaderCodes {
			leaderID, ok := staged[leaderCode]
			if !ok || failedSet[leaderCode] {
				if existing, idx := userIndex[leaderCode]; idx {
					leaderID = existing.UserID
				} else {
					sc.RecordFailure("relation/user-leader", domain.EntityUserLeaderEdge, raw.ExternalCode,
						fmt.Errorf("user %q references unknown leader %q", raw.ExternalCode, leaderCode))
					continue
				}
			}
			if leaderID == userID {
				continue // 自指上级没有意义
			}
			ulAcc.Add(&domain.UserLeaderRelation{UserID: userID, LeaderID: leaderID}, OpCreate)
		}
	}

	if _, err := duAcc.Flush(ctx, &deptUserFlusher{repo: o.repos.Relations, tx: tx}, sc); err != nil {
		return err
	}
	if _, err := ulAcc.Flush(ctx, &userLeaderFlusher{repo: o.repos.Relations, tx: tx}, sc); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit user tx: %w", err)
	}

	for _, code := range disabled {
		if _, back := staged[code]; !back {
			sc.AddChanges(domain.EntityUser, "delete", code)
		}
	}
	sc.StepOK("user", "synchronized %d users, %d department edges, %d leader edges (%d failed)",
		acc.Len(), duAcc.Len(), ulAcc.Len(), sc.FailedCount(domain.EntityUser))
	return nil
}

func stringProp(props map[string]any, key string) string {
	s, _ := props[key].(string)
	return s
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
