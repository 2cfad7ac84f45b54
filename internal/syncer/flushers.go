package syncer

import (
	"context"

	"wisefido-directory/internal/domain"
	"wisefido-directory/internal/repository"
)

// repository 方法带 tx 参数，这里绑定事务后适配成 Flusher

type deptFlusher struct {
	repo repository.DepartmentsRepository
	tx   repository.DBTX
}

var _ Flusher[*domain.Department] = (*deptFlusher)(nil)

func (f *deptFlusher) BulkCreate(ctx context.Context, items []*domain.Department) error {
	return f.repo.BulkCreate(ctx, f.tx, items)
}
func (f *deptFlusher) CreateOne(ctx context.Context, item *domain.Department) error {
	return f.repo.CreateOne(ctx, f.tx, item)
}
func (f *deptFlusher) BulkUpdate(ctx context.Context, items []*domain.Department) error {
	return f.repo.BulkUpdate(ctx, f.tx, items)
}
func (f *deptFlusher) UpdateOne(ctx context.Context, item *domain.Department) error {
	return f.repo.UpdateOne(ctx, f.tx, item)
}

type userFlusher struct {
	repo repository.UsersRepository
	tx   repository.DBTX
}

var _ Flusher[*domain.User] = (*userFlusher)(nil)

func (f *userFlusher) BulkCreate(ctx context.Context, items []*domain.User) error {
	return f.repo.BulkCreate(ctx, f.tx, items)
}
func (f *userFlusher) CreateOne(ctx context.Context, item *domain.User) error {
	return f.repo.CreateOne(ctx, f.tx, item)
}
func (f *userFlusher) BulkUpdate(ctx context.Context, items []*domain.User) error {
	return f.repo.BulkUpdate(ctx, f.tx, items)
}
func (f *userFlusher) UpdateOne(ctx context.Context, item *domain.User) error {
	return f.repo.UpdateOne(ctx, f.tx, item)
}

type deptUserFlusher struct {
	repo repository.RelationsRepository
	tx   repository.DBTX
}

var _ Flusher[*domain.DepartmentUserRelation] = (*deptUserFlusher)(nil)

func (f *deptUserFlusher) BulkCreate(ctx context.Context, items []*domain.DepartmentUserRelation) error {
	return f.repo.BulkCreateDepartmentUser(ctx, f.tx, items)
}
func (f *deptUserFlusher) CreateOne(ctx context.Context, item *domain.DepartmentUserRelation) error {
	return f.repo.CreateOneDepartmentUser(ctx, f.tx, item)
}

// 关系边没有 update 流程（IsRelation 的累加器不会走到这里）
func (f *deptUserFlusher) BulkUpdate(ctx context.Context, items []*domain.DepartmentUserRelation) error {
	return nil
}
func (f *deptUserFlusher) UpdateOne(ctx context.Context, item *domain.DepartmentUserRelation) error {
	return nil
}

type userLeaderFlusher struct {
	repo repository.RelationsRepository
	tx   repository.DBTX
}

var _ Flusher[*domain.UserLeaderRelation] = (*userLeaderFlusher)(nil)

func (f *userLeaderFlusher) BulkCreate(ctx context.Context, items []*domain.UserLeaderRelation) error {
	return f.repo.BulkCreateUserLeader(ctx, f.tx, items)
}
func (f *userLeaderFlusher) CreateOne(ctx context.Context, item *domain.UserLeaderRelation) error {
	return f.repo.CreateOneUserLeader(ctx, f.tx, item)
}
func (f *userLeaderFlusher) BulkUpdate(ctx context.Context, items []*domain.UserLeaderRelation) error {
	return nil
}
func (f *userLeaderFlusher) UpdateOne(ctx context.Context, item *domain.UserLeaderRelation) error {
	return nil
}
