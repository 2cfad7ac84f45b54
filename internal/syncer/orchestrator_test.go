package syncer

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"wisefido-directory/internal/config"
	"wisefido-directory/internal/domain"
	"wisefido-directory/internal/mapper"
	"wisefido-directory/internal/repository"
	"wisefido-directory/internal/source"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// ---- 内存 fake 存储（单 (tenant, source) 场景）----

type memDepartments struct {
	byCode      map[string]*domain.Department
	rejectCodes map[string]bool // 写入时报错的 code（批量和逐条都拒）
	staleMaxID  bool            // MaxID 固定返回 0，模拟并发 pass 读到提交前的旧值
}

func newMemDepartments() *memDepartments {
	return &memDepartments{byCode: map[string]*domain.Department{}}
}

func (m *memDepartments) MaxID(_ context.Context) (int64, error) {
	if m.staleMaxID {
		return 0, nil
	}
	var max int64
	for _, d := range m.byCode {
		if d.DepartmentID > max {
			max = d.DepartmentID
		}
	}
	return max, nil
}

func (m *memDepartments) CodeIndex(_ context.Context, _, _ string) (map[string]*domain.Department, error) {
	// 模拟 DB 扫描：返回副本，更新只能通过写方法落回存储
	out := make(map[string]*domain.Department, len(m.byCode))
	for code, d := range m.byCode {
		cp := *d
		out[code] = &cp
	}
	return out, nil
}

func (m *memDepartments) DisableAll(_ context.Context, _ repository.DBTX, _, _ string, exempt []string) ([]string, error) {
	exemptSet := map[string]bool{}
	for _, c := range exempt {
		exemptSet[c] = true
	}
	var codes []string
	for code, d := range m.byCode {
		if d.Enabled && !exemptSet[code] {
			d.Enabled = false
			codes = append(codes, code)
		}
	}
	return codes, nil
}

func (m *memDepartments) BulkCreate(_ context.Context, _ repository.DBTX, items []*domain.Department) error {
	for _, d := range items {
		if m.rejectCodes[d.ExternalCode] {
			return fmt.Errorf("simulated write failure for department %s", d.ExternalCode)
		}
	}
	for _, d := range items {
		cp := *d
		m.byCode[d.ExternalCode] = &cp
	}
	return nil
}

func (m *memDepartments) CreateOne(ctx context.Context, tx repository.DBTX, item *domain.Department) error {
	return m.BulkCreate(ctx, tx, []*domain.Department{item})
}

func (m *memDepartments) BulkUpdate(_ context.Context, _ repository.DBTX, items []*domain.Department) error {
	for _, d := range items {
		if m.rejectCodes[d.ExternalCode] {
			return fmt.Errorf("simulated write failure for department %s", d.ExternalCode)
		}
	}
	for _, d := range items {
		cp := *d
		m.byCode[d.ExternalCode] = &cp
	}
	return nil
}

func (m *memDepartments) UpdateOne(ctx context.Context, tx repository.DBTX, item *domain.Department) error {
	return m.BulkUpdate(ctx, tx, []*domain.Department{item})
}

func (m *memDepartments) RebuildHierarchyIndex(_ context.Context, _ repository.DBTX, _, _ string) error {
	return nil
}

func (m *memDepartments) ListEnabled(_ context.Context, _, _ string) ([]*domain.Department, error) {
	var out []*domain.Department
	for _, d := range m.byCode {
		if d.Enabled {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

type memUsers struct {
	byCode     map[string]*domain.User
	staleMaxID bool
}

func newMemUsers() *memUsers { return &memUsers{byCode: map[string]*domain.User{}} }

func (m *memUsers) MaxID(_ context.Context) (int64, error) {
	if m.staleMaxID {
		return 0, nil
	}
	var max int64
	for _, u := range m.byCode {
		if u.UserID > max {
			max = u.UserID
		}
	}
	return max, nil
}

func (m *memUsers) CodeIndex(_ context.Context, _, _ string) (map[string]*domain.User, error) {
	out := make(map[string]*domain.User, len(m.byCode))
	for code, u := range m.byCode {
		cp := *u
		out[code] = &cp
	}
	return out, nil
}

func (m *memUsers) DisableAll(_ context.Context, _ repository.DBTX, _, _ string, exempt []string) ([]string, error) {
	exemptSet := map[string]bool{}
	for _, c := range exempt {
		exemptSet[c] = true
	}
	var codes []string
	for code, u := range m.byCode {
		if u.Enabled && !exemptSet[code] {
			u.Enabled = false
			codes = append(codes, code)
		}
	}
	return codes, nil
}

func (m *memUsers) BulkCreate(_ context.Context, _ repository.DBTX, items []*domain.User) error {
	for _, u := range items {
		cp := *u
		m.byCode[u.ExternalCode] = &cp
	}
	return nil
}

func (m *memUsers) CreateOne(ctx context.Context, tx repository.DBTX, item *domain.User) error {
	return m.BulkCreate(ctx, tx, []*domain.User{item})
}

func (m *memUsers) BulkUpdate(_ context.Context, _ repository.DBTX, items []*domain.User) error {
	for _, u := range items {
		cp := *u
		m.byCode[u.ExternalCode] = &cp
	}
	return nil
}

func (m *memUsers) UpdateOne(ctx context.Context, tx repository.DBTX, item *domain.User) error {
	return m.BulkUpdate(ctx, tx, []*domain.User{item})
}

func (m *memUsers) ListEnabled(_ context.Context, _, _ string) ([]*domain.User, error) {
	var out []*domain.User
	for _, u := range m.byCode {
		if u.Enabled {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}

type memRelations struct {
	deptUser map[string]*domain.DepartmentUserRelation
	leader   map[string]*domain.UserLeaderRelation
}

func newMemRelations() *memRelations {
	return &memRelations{
		deptUser: map[string]*domain.DepartmentUserRelation{},
		leader:   map[string]*domain.UserLeaderRelation{},
	}
}

func (m *memRelations) DeleteForSource(_ context.Context, _ repository.DBTX, _, _ string) error {
	m.deptUser = map[string]*domain.DepartmentUserRelation{}
	m.leader = map[string]*domain.UserLeaderRelation{}
	return nil
}

func (m *memRelations) BulkCreateDepartmentUser(_ context.Context, _ repository.DBTX, items []*domain.DepartmentUserRelation) error {
	for _, r := range items {
		m.deptUser[fmt.Sprintf("%d:%d", r.DepartmentID, r.UserID)] = r
	}
	return nil
}

func (m *memRelations) CreateOneDepartmentUser(ctx context.Context, tx repository.DBTX, item *domain.DepartmentUserRelation) error {
	return m.BulkCreateDepartmentUser(ctx, tx, []*domain.DepartmentUserRelation{item})
}

func (m *memRelations) BulkCreateUserLeader(_ context.Context, _ repository.DBTX, items []*domain.UserLeaderRelation) error {
	for _, r := range items {
		m.leader[fmt.Sprintf("%d:%d", r.UserID, r.LeaderID)] = r
	}
	return nil
}

func (m *memRelations) CreateOneUserLeader(ctx context.Context, tx repository.DBTX, item *domain.UserLeaderRelation) error {
	return m.BulkCreateUserLeader(ctx, tx, []*domain.UserLeaderRelation{item})
}

func (m *memRelations) ListDepartmentUsers(_ context.Context, _, _ string) ([]*domain.DepartmentUserRelation, error) {
	var out []*domain.DepartmentUserRelation
	for _, r := range m.deptUser {
		out = append(out, r)
	}
	return out, nil
}

func (m *memRelations) ListUserLeaders(_ context.Context, _, _ string) ([]*domain.UserLeaderRelation, error) {
	var out []*domain.UserLeaderRelation
	for _, r := range m.leader {
		out = append(out, r)
	}
	return out, nil
}

type memTasks struct {
	byID map[string]*domain.SyncTask
}

func newMemTasks() *memTasks { return &memTasks{byID: map[string]*domain.SyncTask{}} }

func (m *memTasks) Create(_ context.Context, task *domain.SyncTask) error {
	cp := *task
	m.byID[task.TaskID] = &cp
	return nil
}

func (m *memTasks) MarkRunning(_ context.Context, taskID string) error {
	task, ok := m.byID[taskID]
	if !ok || task.Status != domain.TaskStatusPending {
		return fmt.Errorf("task %s is not pending", taskID)
	}
	task.Status = domain.TaskStatusRunning
	return nil
}

func (m *memTasks) Finish(_ context.Context, task *domain.SyncTask) error {
	cp := *task
	m.byID[task.TaskID] = &cp
	return nil
}

func (m *memTasks) Get(_ context.Context, taskID string) (*domain.SyncTask, error) {
	task, ok := m.byID[taskID]
	if !ok {
		return nil, fmt.Errorf("task %s not found", taskID)
	}
	return task, nil
}

func (m *memTasks) ListBySource(_ context.Context, _, _ string, _ int) ([]*domain.SyncTask, error) {
	var out []*domain.SyncTask
	for _, t := range m.byID {
		out = append(out, t)
	}
	return out, nil
}

// fakeAdapter 固定返回配置数据
type fakeAdapter struct {
	depts []*source.RawDepartment
	users []*source.RawUser
	err   error
}

func (a *fakeAdapter) FetchDepartments(_ context.Context) ([]*source.RawDepartment, error) {
	if a.err != nil {
		return nil, a.err
	}
	// 每次调用重建，避免跨 pass 共享可变的 raw
	out := make([]*source.RawDepartment, len(a.depts))
	for i, d := range a.depts {
		cp := *d
		cp.Parent = nil
		out[i] = &cp
	}
	return out, nil
}

func (a *fakeAdapter) FetchUsers(_ context.Context) ([]*source.RawUser, error) {
	if a.err != nil {
		return nil, a.err
	}
	out := make([]*source.RawUser, len(a.users))
	for i, u := range a.users {
		cp := *u
		cp.DepartmentCodes = append([]string(nil), u.DepartmentCodes...)
		cp.LeaderCodes = append([]string(nil), u.LeaderCodes...)
		out[i] = &cp
	}
	return out, nil
}

func (a *fakeAdapter) TestConnection(_ context.Context) *source.TestConnectionResult {
	return &source.TestConnectionResult{OK: a.err == nil}
}

func (a *fakeAdapter) AddressKind() source.AddressKind { return source.KindAdjacency }

type capturedEvents struct {
	events []*SyncCompletedEvent
}

func (c *capturedEvents) Publish(_ context.Context, event *SyncCompletedEvent) error {
	c.events = append(c.events, event)
	return nil
}

type orchFixture struct {
	orch   *Orchestrator
	db     *sql.DB
	depts  *memDepartments
	users  *memUsers
	rels   *memRelations
	tasks  *memTasks
	events *capturedEvents
	lock   *RunLock
	mock   sqlmock.Sqlmock
}

func newOrchFixture(t *testing.T) *orchFixture {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	mock.MatchExpectationsInOrder(false)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	f := &orchFixture{
		db:     db,
		depts:  newMemDepartments(),
		users:  newMemUsers(),
		rels:   newMemRelations(),
		tasks:  newMemTasks(),
		events: &capturedEvents{},
		lock:   NewRunLock(client, time.Minute),
		mock:   mock,
	}
	f.orch = NewOrchestrator(db, Repos{
		Departments: f.depts,
		Users:       f.users,
		Relations:   f.rels,
		Tasks:       f.tasks,
	}, f.lock, f.events, config.SyncConfig{
		BatchSize:   200,
		TaskTimeout: time.Minute,
		LockTTL:     time.Minute,
	}, zap.NewNop())
	return f
}

// expectPass 一次成功同步的两个事务
func (f *orchFixture) expectPass() {
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
}

func testPass(adapter *fakeAdapter) *Pass {
	return &Pass{
		TenantID: "tenant-1",
		Source: &domain.DataSource{
			SourceID:   "source-1",
			TenantID:   "tenant-1",
			SourceName: "HQ DingTalk",
			SourceType: domain.SourceTypeDingTalk,
		},
		Trigger: domain.TriggerManual,
		Adapter: adapter,
		Mapper:  mapper.NewAdjacencyMapper(),
	}
}

func snapshotAdapter() *fakeAdapter {
	return &fakeAdapter{
		depts: []*source.RawDepartment{
			{ExternalCode: "10", Name: "Engineering"},
			{ExternalCode: "20", Name: "Platform", ParentCode: "10"},
		},
		users: []*source.RawUser{
			{
				ExternalCode:    "e-alice",
				Properties:      map[string]any{"username": "alice", "display_name": "Alice", "email": "alice@corp.test"},
				DepartmentCodes: []string{"20"},
			},
			{
				ExternalCode:    "e-bob",
				Properties:      map[string]any{"username": "bob"},
				DepartmentCodes: []string{"10", "20"},
				LeaderCodes:     []string{"e-alice"},
			},
		},
	}
}

func TestOrchestrator_FirstSyncCreatesEverything(t *testing.T) {
	f := newOrchFixture(t)
	f.expectPass()

	task, err := f.orch.Run(context.Background(), testPass(snapshotAdapter()))
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusSuccess, task.Status)
	assert.False(t, task.HasWarning)

	// 部门落库且父链接好
	require.Len(t, f.depts.byCode, 2)
	platform := f.depts.byCode["20"]
	require.NotNil(t, platform)
	require.True(t, platform.ParentID.Valid)
	assert.Equal(t, f.depts.byCode["10"].DepartmentID, platform.ParentID.Int64)
	assert.True(t, platform.Enabled)

	// 用户及属性
	require.Len(t, f.users.byCode, 2)
	alice := f.users.byCode["e-alice"]
	assert.Equal(t, "alice", alice.Username)
	assert.Equal(t, "Alice", alice.DisplayName.String)

	// 关系边：alice∈20，bob∈10和20，bob→alice
	assert.Len(t, f.rels.deptUser, 3)
	require.Len(t, f.rels.leader, 1)
	for _, r := range f.rels.leader {
		assert.Equal(t, f.users.byCode["e-bob"].UserID, r.UserID)
		assert.Equal(t, alice.UserID, r.LeaderID)
	}

	// 变更统计与事件
	var summary domain.ChangeSummary
	require.NoError(t, unmarshalSummary(task.Summary, &summary))
	assert.Equal(t, 2, summary.Department.Create)
	assert.Equal(t, 2, summary.User.Create)
	assert.Equal(t, 0, summary.Department.Delete)

	require.Len(t, f.events.events, 1)
	event := f.events.events[0]
	assert.Equal(t, domain.TaskStatusSuccess, event.Status)
	assert.Equal(t, domain.TriggerManual, event.Trigger)
	assert.NotEmpty(t, event.Changes)
}

func TestOrchestrator_RepeatSyncIsIdempotent(t *testing.T) {
	f := newOrchFixture(t)

	f.expectPass()
	first, err := f.orch.Run(context.Background(), testPass(snapshotAdapter()))
	require.NoError(t, err)
	require.Equal(t, domain.TaskStatusSuccess, first.Status)

	idsBefore := map[string]int64{}
	for code, d := range f.depts.byCode {
		idsBefore[code] = d.DepartmentID
	}

	f.expectPass()
	second, err := f.orch.Run(context.Background(), testPass(snapshotAdapter()))
	require.NoError(t, err)
	require.Equal(t, domain.TaskStatusSuccess, second.Status)

	// 相同快照重跑：零新增零删除，内部ID保持不变
	var summary domain.ChangeSummary
	require.NoError(t, unmarshalSummary(second.Summary, &summary))
	assert.Equal(t, 0, summary.Department.Create)
	assert.Equal(t, 0, summary.Department.Delete)
	assert.Equal(t, 0, summary.User.Create)
	assert.Equal(t, 0, summary.User.Delete)

	require.Len(t, f.depts.byCode, 2)
	for code, d := range f.depts.byCode {
		assert.Equal(t, idsBefore[code], d.DepartmentID)
		assert.True(t, d.Enabled)
	}
	for _, u := range f.users.byCode {
		assert.True(t, u.Enabled)
	}
	assert.Len(t, f.rels.deptUser, 3)
}

func TestOrchestrator_RemovalSoftDeletes(t *testing.T) {
	f := newOrchFixture(t)

	f.expectPass()
	_, err := f.orch.Run(context.Background(), testPass(snapshotAdapter()))
	require.NoError(t, err)

	// 新快照：Platform 部门和 bob 消失
	shrunk := &fakeAdapter{
		depts: []*source.RawDepartment{{ExternalCode: "10", Name: "Engineering"}},
		users: []*source.RawUser{{
			ExternalCode:    "e-alice",
			Properties:      map[string]any{"username": "alice"},
			DepartmentCodes: []string{"10"},
		}},
	}
	f.expectPass()
	task, err := f.orch.Run(context.Background(), testPass(shrunk))
	require.NoError(t, err)
	require.Equal(t, domain.TaskStatusSuccess, task.Status)

	// 软删除：行还在，enabled=false
	require.Len(t, f.depts.byCode, 2)
	assert.False(t, f.depts.byCode["20"].Enabled)
	assert.True(t, f.depts.byCode["10"].Enabled)
	assert.False(t, f.users.byCode["e-bob"].Enabled)

	var summary domain.ChangeSummary
	require.NoError(t, unmarshalSummary(task.Summary, &summary))
	assert.Equal(t, 1, summary.Department.Delete)
	assert.Equal(t, 1, summary.User.Delete)
}

func TestOrchestrator_LockContention(t *testing.T) {
	f := newOrchFixture(t)

	// 预先持锁模拟并发中的另一次同步
	_, err := f.lock.Acquire(context.Background(), "tenant-1", "source-1")
	require.NoError(t, err)

	task, err := f.orch.Run(context.Background(), testPass(snapshotAdapter()))
	assert.ErrorIs(t, err, ErrLockHeld)
	require.NotNil(t, task)
	assert.Equal(t, domain.TaskStatusFailed, task.Status)
	assert.Contains(t, task.Logs, "another sync is already running")

	// 锁冲突在 fetch 之前拦截：什么都没写
	assert.Empty(t, f.depts.byCode)
	assert.Empty(t, f.users.byCode)
}

func TestOrchestrator_FetchFailureAbortsBeforeWrites(t *testing.T) {
	f := newOrchFixture(t)

	adapter := &fakeAdapter{err: fmt.Errorf("%w: connection refused", source.ErrFetchFailed)}
	task, err := f.orch.Run(context.Background(), testPass(adapter))
	require.Error(t, err)
	assert.Equal(t, domain.TaskStatusFailed, task.Status)
	assert.Contains(t, task.Logs, "sync aborted")

	assert.Empty(t, f.depts.byCode)
	assert.Empty(t, f.users.byCode)

	// 失败也有事件（审计消费侧据此记录失败历史）
	require.Len(t, f.events.events, 1)
	assert.Equal(t, domain.TaskStatusFailed, f.events.events[0].Status)
}

func TestOrchestrator_ExemptCodesSurviveRemoval(t *testing.T) {
	f := newOrchFixture(t)

	f.expectPass()
	pass := testPass(snapshotAdapter())
	_, err := f.orch.Run(context.Background(), pass)
	require.NoError(t, err)

	// 快照清空，但 "10" 被豁免
	empty := &fakeAdapter{}
	f.expectPass()
	pass = testPass(empty)
	pass.Source.ExemptCodes = []string{"10"}
	task, err := f.orch.Run(context.Background(), pass)
	require.NoError(t, err)
	require.Equal(t, domain.TaskStatusSuccess, task.Status)

	assert.True(t, f.depts.byCode["10"].Enabled)
	assert.False(t, f.depts.byCode["20"].Enabled)
}

func TestOrchestrator_FailedDepartmentGetsNoEdges(t *testing.T) {
	f := newOrchFixture(t)
	f.expectPass()

	adapter := &fakeAdapter{
		depts: []*source.RawDepartment{
			{ExternalCode: "10", Name: "Engineering"},
			{ExternalCode: "20", Name: "Platform", ParentCode: "10"},
			{ExternalCode: "30", Name: "Infra", ParentCode: "20"},
		},
		users: []*source.RawUser{
			{ExternalCode: "e-alice", Properties: map[string]any{"username": "alice"}, DepartmentCodes: []string{"20"}},
			{ExternalCode: "e-bob", Properties: map[string]any{"username": "bob"}, DepartmentCodes: []string{"10", "30"}},
		},
	}
	// "20" 批量和逐条写入都失败；"30" 作为其子级被级联标记
	f.depts.rejectCodes = map[string]bool{"20": true}

	task, err := f.orch.Run(context.Background(), testPass(adapter))
	require.NoError(t, err)
	require.Equal(t, domain.TaskStatusSuccess, task.Status)
	assert.True(t, task.HasWarning)
	assert.Contains(t, task.Logs, "was not persisted")

	require.NotContains(t, f.depts.byCode, "20")

	// 任何边都只允许指向真实落库的部门：alice∈20 和 bob∈30 必须被拒
	storedIDs := map[int64]bool{}
	for _, d := range f.depts.byCode {
		storedIDs[d.DepartmentID] = true
	}
	require.Len(t, f.rels.deptUser, 1)
	for _, r := range f.rels.deptUser {
		assert.True(t, storedIDs[r.DepartmentID])
		assert.Equal(t, f.depts.byCode["10"].DepartmentID, r.DepartmentID)
		assert.Equal(t, f.users.byCode["e-bob"].UserID, r.UserID)
	}
}

func TestOrchestrator_ParentCycleFailsWithoutCrash(t *testing.T) {
	f := newOrchFixture(t)
	f.expectPass()

	// 配错的邻接源：a 和 b 互为父级，c 是干净的根
	adapter := &fakeAdapter{
		depts: []*source.RawDepartment{
			{ExternalCode: "a", Name: "A", ParentCode: "b"},
			{ExternalCode: "b", Name: "B", ParentCode: "a"},
			{ExternalCode: "c", Name: "C"},
		},
		users: []*source.RawUser{
			{ExternalCode: "e-dan", Properties: map[string]any{"username": "dan"}, DepartmentCodes: []string{"a"}},
		},
	}

	task, err := f.orch.Run(context.Background(), testPass(adapter))
	require.NoError(t, err)
	require.Equal(t, domain.TaskStatusSuccess, task.Status)
	assert.True(t, task.HasWarning)
	assert.Contains(t, task.Logs, "parent cycle")

	// 环上的部门不落库，干净部门正常；指向环的用户不建边
	require.Len(t, f.depts.byCode, 1)
	assert.Contains(t, f.depts.byCode, "c")
	assert.Empty(t, f.rels.deptUser)
	require.Contains(t, f.users.byCode, "e-dan")
}

func TestOrchestrator_SharedAllocatorSurvivesStaleMaxID(t *testing.T) {
	f := newOrchFixture(t)

	f.expectPass()
	_, err := f.orch.Run(context.Background(), testPass(snapshotAdapter()))
	require.NoError(t, err)

	// 模拟不同 (tenant, source) 的并发 pass：对方提交前读 MAX(id) 得到旧值。
	// 高水位共享后即使种子过期也不会重发已分配的ID
	f.depts.staleMaxID = true
	f.users.staleMaxID = true

	second := &fakeAdapter{
		depts: []*source.RawDepartment{
			{ExternalCode: "30", Name: "Sales"},
			{ExternalCode: "40", Name: "Support"},
		},
		users: []*source.RawUser{
			{ExternalCode: "e-carol", Properties: map[string]any{"username": "carol"}, DepartmentCodes: []string{"30"}},
		},
	}
	f.expectPass()
	pass := testPass(second)
	pass.Source.SourceID = "source-2"
	_, err = f.orch.Run(context.Background(), pass)
	require.NoError(t, err)

	seen := map[int64]string{}
	for code, d := range f.depts.byCode {
		prev, dup := seen[d.DepartmentID]
		require.False(t, dup, "department id %d issued to both %q and %q", d.DepartmentID, prev, code)
		seen[d.DepartmentID] = code
	}
	assert.Greater(t, f.depts.byCode["30"].DepartmentID, int64(2))
	assert.Greater(t, f.users.byCode["e-carol"].UserID, int64(2))
}

// canceledFetchAdapter 等到预算耗尽后返回 lib/pq 风格的裸取消错误
type canceledFetchAdapter struct{}

func (a *canceledFetchAdapter) FetchDepartments(ctx context.Context) ([]*source.RawDepartment, error) {
	<-ctx.Done()
	return nil, fmt.Errorf("pq: canceling statement due to user request")
}

func (a *canceledFetchAdapter) FetchUsers(_ context.Context) ([]*source.RawUser, error) {
	return nil, nil
}

func (a *canceledFetchAdapter) TestConnection(_ context.Context) *source.TestConnectionResult {
	return &source.TestConnectionResult{}
}

func (a *canceledFetchAdapter) AddressKind() source.AddressKind { return source.KindAdjacency }

func TestOrchestrator_StatementCancellationCountsAsTimeout(t *testing.T) {
	f := newOrchFixture(t)

	orch := NewOrchestrator(f.db, Repos{
		Departments: f.depts,
		Users:       f.users,
		Relations:   f.rels,
		Tasks:       f.tasks,
	}, f.lock, f.events, config.SyncConfig{
		BatchSize:   200,
		TaskTimeout: 20 * time.Millisecond,
		LockTTL:     time.Minute,
	}, zap.NewNop())

	pass := testPass(snapshotAdapter())
	pass.Adapter = &canceledFetchAdapter{}
	task, err := orch.Run(context.Background(), pass)
	require.Error(t, err)
	require.NotNil(t, task)
	assert.Equal(t, domain.TaskStatusFailed, task.Status)
	assert.Contains(t, task.Logs, "wall-clock budget exceeded")
}

func unmarshalSummary(raw []byte, out *domain.ChangeSummary) error {
	if len(raw) == 0 {
		return fmt.Errorf("empty summary")
	}
	return json.Unmarshal(raw, out)
}
