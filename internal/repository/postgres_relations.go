package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"wisefido-directory/internal/domain"
)

// PostgresRelationsRepository 关系边Repository实现
// 两张边表都只做 create；幂等靠 ON CONFLICT DO NOTHING
type PostgresRelationsRepository struct {
	db *sql.DB
}

// NewPostgresRelationsRepository 创建关系Repository
func NewPostgresRelationsRepository(db *sql.DB) *PostgresRelationsRepository {
	return &PostgresRelationsRepository{db: db}
}

var _ RelationsRepository = (*PostgresRelationsRepository)(nil)

// DeleteForSource 清除 (tenant, source) 的旧边
// 边表无独立生命周期，整体重建比逐边对账便宜；与写入同一事务
func (r *PostgresRelationsRepository) DeleteForSource(ctx context.Context, tx DBTX, tenantID, sourceID string) error {
	_, err := tx.ExecContext(ctx, `
		DELETE FROM department_user_relations
		WHERE department_id IN (
			SELECT department_id FROM departments WHERE tenant_id = $1 AND source_id = $2
		)
	`, tenantID, sourceID)
	if err != nil {
		return fmt.Errorf("failed to delete department-user relations: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		DELETE FROM user_leader_relations
		WHERE user_id IN (
			SELECT user_id FROM directory_users WHERE tenant_id = $1 AND source_id = $2
		)
	`, tenantID, sourceID)
	if err != nil {
		return fmt.Errorf("failed to delete user-leader relations: %w", err)
	}
	return nil
}

// BulkCreateDepartmentUser 批量插入部门-用户边
func (r *PostgresRelationsRepository) BulkCreateDepartmentUser(ctx context.Context, tx DBTX, items []*domain.DepartmentUserRelation) error {
	if len(items) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString(`INSERT INTO department_user_relations (department_id, user_id) VALUES `)
	args := make([]any, 0, len(items)*2)
	for i, rel := range items {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "($%d, $%d)", i*2+1, i*2+2)
		args = append(args, rel.DepartmentID, rel.UserID)
	}
	sb.WriteString(` ON CONFLICT (department_id, user_id) DO NOTHING`)
	if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("failed to bulk create department-user relations: %w", err)
	}
	return nil
}

// CreateOneDepartmentUser 单边插入（逐条回退路径）
func (r *PostgresRelationsRepository) CreateOneDepartmentUser(ctx context.Context, tx DBTX, rel *domain.DepartmentUserRelation) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO department_user_relations (department_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (department_id, user_id) DO NOTHING
	`, rel.DepartmentID, rel.UserID)
	if err != nil {
		return fmt.Errorf("failed to create department-user relation (%d, %d): %w", rel.DepartmentID, rel.UserID, err)
	}
	return nil
}

// BulkCreateUserLeader 批量插入用户-上级边
func (r *PostgresRelationsRepository) BulkCreateUserLeader(ctx context.Context, tx DBTX, items []*domain.UserLeaderRelation) error {
	if len(items) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString(`INSERT INTO user_leader_relations (user_id, leader_id) VALUES `)
	args := make([]any, 0, len(items)*2)
	for i, rel := range items {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "($%d, $%d)", i*2+1, i*2+2)
		args = append(args, rel.UserID, rel.LeaderID)
	}
	sb.WriteString(` ON CONFLICT (user_id, leader_id) DO NOTHING`)
	if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("failed to bulk create user-leader relations: %w", err)
	}
	return nil
}

// CreateOneUserLeader 单边插入
func (r *PostgresRelationsRepository) CreateOneUserLeader(ctx context.Context, tx DBTX, rel *domain.UserLeaderRelation) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO user_leader_relations (user_id, leader_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, leader_id) DO NOTHING
	`, rel.UserID, rel.LeaderID)
	if err != nil {
		return fmt.Errorf("failed to create user-leader relation (%d, %d): %w", rel.UserID, rel.LeaderID, err)
	}
	return nil
}

// ListDepartmentUsers (tenant, source) 下启用实体间的部门-用户边
func (r *PostgresRelationsRepository) ListDepartmentUsers(ctx context.Context, tenantID, sourceID string) ([]*domain.DepartmentUserRelation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT rel.department_id, rel.user_id
		FROM department_user_relations rel
		JOIN departments d ON d.department_id = rel.department_id
		WHERE d.tenant_id = $1 AND d.source_id = $2 AND d.enabled = TRUE
	`, tenantID, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list department-user relations: %w", err)
	}
	defer rows.Close()

	var items []*domain.DepartmentUserRelation
	for rows.Next() {
		var rel domain.DepartmentUserRelation
		if err := rows.Scan(&rel.DepartmentID, &rel.UserID); err != nil {
			return nil, err
		}
		items = append(items, &rel)
	}
	return items, rows.Err()
}

// ListUserLeaders (tenant, source) 下启用用户间的用户-上级边
func (r *PostgresRelationsRepository) ListUserLeaders(ctx context.Context, tenantID, sourceID string) ([]*domain.UserLeaderRelation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT rel.user_id, rel.leader_id
		FROM user_leader_relations rel
		JOIN directory_users u ON u.user_id = rel.user_id
		WHERE u.tenant_id = $1 AND u.source_id = $2 AND u.enabled = TRUE
	`, tenantID, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user-leader relations: %w", err)
	}
	defer rows.Close()

	var items []*domain.UserLeaderRelation
	for rows.Next() {
		var rel domain.UserLeaderRelation
		if err := rows.Scan(&rel.UserID, &rel.LeaderID); err != nil {
			return nil, err
		}
		items = append(items, &rel)
	}
	return items, rows.Err()
}
