package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"wisefido-directory/internal/domain"
)

// PostgresFieldsRepository 租户字段目录Repository实现
type PostgresFieldsRepository struct {
	db *sql.DB
}

// NewPostgresFieldsRepository 创建字段Repository
func NewPostgresFieldsRepository(db *sql.DB) *PostgresFieldsRepository {
	return &PostgresFieldsRepository{db: db}
}

var _ FieldsRepository = (*PostgresFieldsRepository)(nil)

// ListFields 租户全部字段（内置+自定义）
func (r *PostgresFieldsRepository) ListFields(ctx context.Context, tenantID string) ([]*domain.TenantField, error) {
	query := `
		SELECT field_id::text,
		       tenant_id::text,
		       field_key,
		       field_name,
		       field_type,
		       required,
		       builtin,
		       COALESCE(options, '[]'::jsonb)::text
		FROM tenant_fields
		WHERE tenant_id = $1
		ORDER BY builtin DESC, field_key
	`
	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenant fields: %w", err)
	}
	defer rows.Close()

	var fields []*domain.TenantField
	for rows.Next() {
		var f domain.TenantField
		var options string
		err := rows.Scan(
			&f.FieldID,
			&f.TenantID,
			&f.FieldKey,
			&f.FieldName,
			&f.FieldType,
			&f.Required,
			&f.Builtin,
			&options,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tenant field: %w", err)
		}
		if err := json.Unmarshal([]byte(options), &f.Options); err != nil {
			return nil, fmt.Errorf("failed to parse options for field %s: %w", f.FieldKey, err)
		}
		fields = append(fields, &f)
	}
	return fields, rows.Err()
}
