package domain

// DepartmentUserRelation 部门-用户边（对应 department_user_relations 表）
// 纯关系行，除存在性外没有独立生命周期
type DepartmentUserRelation struct {
	DepartmentID int64 `db:"department_id"`
	UserID       int64 `db:"user_id"`
}

// UserLeaderRelation 用户-上级边（对应 user_leader_relations 表）
type UserLeaderRelation struct {
	UserID   int64 `db:"user_id"`
	LeaderID int64 `db:"leader_id"`
}
