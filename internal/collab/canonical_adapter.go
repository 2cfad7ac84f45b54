package collab

import (
	"context"
	"fmt"

	"wisefido-directory/internal/repository"
	"wisefido-directory/internal/source"
)

// canonicalAdapter 把源租户的 canonical 存量包装成一个普通数据源
// 邻接寻址：父引用直接用源侧 external code，复制管线与外部源同一条路
type canonicalAdapter struct {
	tenantID    string
	sourceID    string
	departments repository.DepartmentsRepository
	users       repository.UsersRepository
	relations   repository.RelationsRepository
}

func (a *canonicalAdapter) AddressKind() source.AddressKind {
	return source.KindAdjacency
}

func (a *canonicalAdapter) FetchDepartments(ctx context.Context) ([]*source.RawDepartment, error) {
	depts, err := a.departments.ListEnabled(ctx, a.tenantID, a.sourceID)
	if err != nil {
		return nil, fmt.Errorf("%w: list canonical departments: %v", source.ErrFetchFailed, err)
	}
	codeByID := make(map[int64]string, len(depts))
	for _, d := range depts {
		codeByID[d.DepartmentID] = d.ExternalCode
	}
	out := make([]*source.RawDepartment, 0, len(depts))
	for _, d := range depts {
		raw := &source.RawDepartment{
			ExternalCode: d.ExternalCode,
			Name:         d.DepartmentName,
		}
		if d.ParentID.Valid {
			raw.ParentCode = codeByID[d.ParentID.Int64]
		}
		out = append(out, raw)
	}
	return out, nil
}

func (a *canonicalAdapter) FetchUsers(ctx context.Context) ([]*source.RawUser, error) {
	users, err := a.users.ListEnabled(ctx, a.tenantID, a.sourceID)
	if err != nil {
		return nil, fmt.Errorf("%w: list canonical users: %v", source.ErrFetchFailed, err)
	}
	byID := make(map[int64]*source.RawUser, len(users))
	out := make([]*source.RawUser, 0, len(users))
	for _, u := range users {
		props := u.PropertyMap()
		props["username"] = u.Username
		if u.DisplayName.Valid {
			props["display_name"] = u.DisplayName.String
		}
		if u.Email.Valid {
			props["email"] = u.Email.String
		}
		if u.Phone.Valid {
			props["phone"] = u.Phone.String
		}
		raw := &source.RawUser{
			ExternalCode: u.ExternalCode,
			Properties:   props,
		}
		byID[u.UserID] = raw
		out = append(out, raw)
	}

	// 部门归属和上级边从 canonical 关系表投影回 external code 空间
	depts, err := a.departments.ListEnabled(ctx, a.tenantID, a.sourceID)
	if err != nil {
		return nil, fmt.Errorf("%w: list canonical departments: %v", source.ErrFetchFailed, err)
	}
	deptCodeByID := make(map[int64]string, len(depts))
	for _, d := range depts {
		deptCodeByID[d.DepartmentID] = d.ExternalCode
	}

	duEdges, err := a.relations.ListDepartmentUsers(ctx, a.tenantID, a.sourceID)
	if err != nil {
		return nil, fmt.Errorf("%w: list department-user edges: %v", source.ErrFetchFailed, err)
	}
	for _, e := range duEdges {
		u, ok := byID[e.UserID]
		if !ok {
			continue
		}
		if code, ok := deptCodeByID[e.DepartmentID]; ok {
			u.DepartmentCodes = append(u.DepartmentCodes, code)
		}
	}

	ulEdges, err := a.relations.ListUserLeaders(ctx, a.tenantID, a.sourceID)
	if err != nil {
		return nil, fmt.Errorf("%w: list user-leader edges: %v", source.ErrFetchFailed, err)
	}
	for _, e := range ulEdges {
		u, ok := byID[e.UserID]
		if !ok {
			continue
		}
		if leader, ok := byID[e.LeaderID]; ok {
			u.LeaderCodes = append(u.LeaderCodes, leader.ExternalCode)
		}
	}
	return out, nil
}

func (a *canonicalAdapter) TestConnection(ctx context.Context) *source.TestConnectionResult {
	depts, err := a.FetchDepartments(ctx)
	if err != nil {
		return &source.TestConnectionResult{OK: false, ErrorMessage: err.Error()}
	}
	users, err := a.FetchUsers(ctx)
	if err != nil {
		return &source.TestConnectionResult{OK: false, ErrorMessage: err.Error()}
	}
	result := &source.TestConnectionResult{OK: true}
	if len(depts) > 0 {
		result.SampleDepartment = depts[0]
	}
	if len(users) > 0 {
		result.SampleUser = users[0]
	}
	return result
}

var _ source.Adapter = (*canonicalAdapter)(nil)
