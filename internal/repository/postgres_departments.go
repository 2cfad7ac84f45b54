package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"wisefido-directory/internal/domain"

	"github.com/lib/pq"
)

// PostgresDepartmentsRepository 部门Repository实现
type PostgresDepartmentsRepository struct {
	db *sql.DB
}

// NewPostgresDepartmentsRepository 创建部门Repository
func NewPostgresDepartmentsRepository(db *sql.DB) *PostgresDepartmentsRepository {
	return &PostgresDepartmentsRepository{db: db}
}

// 确保实现了接口
var _ DepartmentsRepository = (*PostgresDepartmentsRepository)(nil)

const departmentColumns = `
	department_id,
	tenant_id::text,
	source_id::text,
	external_code,
	department_name,
	parent_id,
	dept_path,
	level,
	enabled,
	COALESCE(extras, 'null'::jsonb)::text
`

func scanDepartment(row interface{ Scan(...any) error }) (*domain.Department, error) {
	var d domain.Department
	var extras string
	err := row.Scan(
		&d.DepartmentID,
		&d.TenantID,
		&d.SourceID,
		&d.ExternalCode,
		&d.DepartmentName,
		&d.ParentID,
		&d.DeptPath,
		&d.Level,
		&d.Enabled,
		&extras,
	)
	if err != nil {
		return nil, err
	}
	if extras != "null" {
		d.Extras = []byte(extras)
	}
	return &d, nil
}

// MaxID 当前最大内部ID
func (r *PostgresDepartmentsRepository) MaxID(ctx context.Context) (int64, error) {
	var max int64
	err := r.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(department_id), 0) FROM departments`).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("failed to query max department id: %w", err)
	}
	return max, nil
}

// CodeIndex 按 external_code 建索引（含已禁用，重同步要能复用其ID）
func (r *PostgresDepartmentsRepository) CodeIndex(ctx context.Context, tenantID, sourceID string) (map[string]*domain.Department, error) {
	query := `
		SELECT ` + departmentColumns + `
		FROM departments
		WHERE tenant_id = $1 AND source_id = $2
	`
	rows, err := r.db.QueryContext(ctx, query, tenantID, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query department index: %w", err)
	}
	defer rows.Close()

	index := make(map[string]*domain.Department)
	for rows.Next() {
		d, err := scanDepartment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan department: %w", err)
		}
		index[d.ExternalCode] = d
	}
	return index, rows.Err()
}

// DisableAll 软删除启用中的部门（exempt 的 external_code 除外）
func (r *PostgresDepartmentsRepository) DisableAll(ctx context.Context, tx DBTX, tenantID, sourceID string, exempt []string) ([]string, error) {
	query := `
		UPDATE departments
		SET enabled = FALSE
		WHERE tenant_id = $1 AND source_id = $2 AND enabled = TRUE
		  AND NOT (external_code = ANY($3))
		RETURNING external_code
	`
	rows, err := tx.QueryContext(ctx, query, tenantID, sourceID, pq.Array(exemptOrEmpty(exempt)))
	if err != nil {
		return nil, fmt.Errorf("failed to disable departments: %w", err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

// BulkCreate 多行单语句插入（批大小由累加器分片控制）
func (r *PostgresDepartmentsRepository) BulkCreate(ctx context.Context, tx DBTX, items []*domain.Department) error {
	if len(items) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString(`
		INSERT INTO departments
			(department_id, tenant_id, source_id, external_code, department_name, parent_id, dept_path, level, enabled, extras)
		VALUES `)
	args := make([]any, 0, len(items)*10)
	for i, d := range items {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 10
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10)
		args = append(args,
			d.DepartmentID, d.TenantID, d.SourceID, d.ExternalCode, d.DepartmentName,
			d.ParentID, d.DeptPath, d.Level, d.Enabled, nullableJSON(d.Extras))
	}
	if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("failed to bulk create departments: %w", err)
	}
	return nil
}

// CreateOne 单行插入（批量失败后的逐条回退路径）
func (r *PostgresDepartmentsRepository) CreateOne(ctx context.Context, tx DBTX, d *domain.Department) error {
	query := `
		INSERT INTO departments
			(department_id, tenant_id, source_id, external_code, department_name, parent_id, dept_path, level, enabled, extras)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := tx.ExecContext(ctx, query,
		d.DepartmentID, d.TenantID, d.SourceID, d.ExternalCode, d.DepartmentName,
		d.ParentID, d.DeptPath, d.Level, d.Enabled, nullableJSON(d.Extras))
	if err != nil {
		return fmt.Errorf("failed to create department %s: %w", d.ExternalCode, err)
	}
	return nil
}

// BulkUpdate 逐条执行但共享一条预编译语句
// 更新行数少且字段固定，没必要上临时表
func (r *PostgresDepartmentsRepository) BulkUpdate(ctx context.Context, tx DBTX, items []*domain.Department) error {
	for _, d := range items {
		if err := r.UpdateOne(ctx, tx, d); err != nil {
			return err
		}
	}
	return nil
}

// UpdateOne 更新可变字段（名称/父指针/启用状态/扩展属性）
func (r *PostgresDepartmentsRepository) UpdateOne(ctx context.Context, tx DBTX, d *domain.Department) error {
	query := `
		UPDATE departments
		SET department_name = $3,
		    parent_id = $4,
		    enabled = $5,
		    extras = $6
		WHERE department_id = $1 AND tenant_id = $2
	`
	_, err := tx.ExecContext(ctx, query,
		d.DepartmentID, d.TenantID, d.DepartmentName, d.ParentID, d.Enabled, nullableJSON(d.Extras))
	if err != nil {
		return fmt.Errorf("failed to update department %s: %w", d.ExternalCode, err)
	}
	return nil
}

// RebuildHierarchyIndex 全量重建物化路径和层级（递归CTE）
// 部门批量写入后调用一次；增量维护在部分写入下不安全
func (r *PostgresDepartmentsRepository) RebuildHierarchyIndex(ctx context.Context, tx DBTX, tenantID, sourceID string) error {
	query := `
		WITH RECURSIVE tree AS (
			SELECT department_id,
			       '/' || department_id::text || '/' AS dept_path,
			       1 AS level
			FROM departments
			WHERE tenant_id = $1 AND source_id = $2 AND parent_id IS NULL
			UNION ALL
			SELECT d.department_id,
			       t.dept_path || d.department_id::text || '/',
			       t.level + 1
			FROM departments d
			JOIN tree t ON d.parent_id = t.department_id
			WHERE d.tenant_id = $1 AND d.source_id = $2
		)
		UPDATE departments d
		SET dept_path = tree.dept_path,
		    level = tree.level
		FROM tree
		WHERE d.department_id = tree.department_id
	`
	if _, err := tx.ExecContext(ctx, query, tenantID, sourceID); err != nil {
		return fmt.Errorf("failed to rebuild hierarchy index: %w", err)
	}
	return nil
}

// ListEnabled 启用中的部门
func (r *PostgresDepartmentsRepository) ListEnabled(ctx context.Context, tenantID, sourceID string) ([]*domain.Department, error) {
	query := `
		SELECT ` + departmentColumns + `
		FROM departments
		WHERE tenant_id = $1 AND source_id = $2 AND enabled = TRUE
		ORDER BY dept_path
	`
	rows, err := r.db.QueryContext(ctx, query, tenantID, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query enabled departments: %w", err)
	}
	defer rows.Close()

	var items []*domain.Department
	for rows.Next() {
		d, err := scanDepartment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan department: %w", err)
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

func exemptOrEmpty(exempt []string) []string {
	if exempt == nil {
		return []string{}
	}
	return exempt
}

// nullableJSON 空 JSON 写 NULL 而不是空串
func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
