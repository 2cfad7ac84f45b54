package domain

// EntityType 同步实体类型（分配器/批量累加器按类型分桶）
type EntityType string

const (
	EntityDepartment         EntityType = "department"
	EntityUser               EntityType = "user"
	EntityDepartmentUserEdge EntityType = "department_user_relation"
	EntityUserLeaderEdge     EntityType = "user_leader_relation"
)

// IsRelation 关系边类型只做 create，不做 update
func (t EntityType) IsRelation() bool {
	return t == EntityDepartmentUserEdge || t == EntityUserLeaderEdge
}
