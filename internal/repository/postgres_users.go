package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"wisefido-directory/internal/domain"

	"github.com/lib/pq"
)

// PostgresUsersRepository 目录用户Repository实现
type PostgresUsersRepository struct {
	db *sql.DB
}

// NewPostgresUsersRepository 创建用户Repository
func NewPostgresUsersRepository(db *sql.DB) *PostgresUsersRepository {
	return &PostgresUsersRepository{db: db}
}

// 确保实现了接口
var _ UsersRepository = (*PostgresUsersRepository)(nil)

const userColumns = `
	user_id,
	tenant_id::text,
	source_id::text,
	external_code,
	username,
	display_name,
	email,
	phone,
	COALESCE(properties, '{}'::jsonb)::text,
	enabled
`

func scanUser(row interface{ Scan(...any) error }) (*domain.User, error) {
	var u domain.User
	var properties string
	err := row.Scan(
		&u.UserID,
		&u.TenantID,
		&u.SourceID,
		&u.ExternalCode,
		&u.Username,
		&u.DisplayName,
		&u.Email,
		&u.Phone,
		&properties,
		&u.Enabled,
	)
	if err != nil {
		return nil, err
	}
	u.Properties = []byte(properties)
	return &u, nil
}

// MaxID 当前最大内部ID
func (r *PostgresUsersRepository) MaxID(ctx context.Context) (int64, error) {
	var max int64
	err := r.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(user_id), 0) FROM directory_users`).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("failed to query max user id: %w", err)
	}
	return max, nil
}

// CodeIndex 按 external_code 建索引（含已禁用）
func (r *PostgresUsersRepository) CodeIndex(ctx context.Context, tenantID, sourceID string) (map[string]*domain.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM directory_users
		WHERE tenant_id = $1 AND source_id = $2
	`
	rows, err := r.db.QueryContext(ctx, query, tenantID, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query user index: %w", err)
	}
	defer rows.Close()

	index := make(map[string]*domain.User)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		index[u.ExternalCode] = u
	}
	return index, rows.Err()
}

// DisableAll 软删除启用中的用户（exempt 除外）
func (r *PostgresUsersRepository) DisableAll(ctx context.Context, tx DBTX, tenantID, sourceID string, exempt []string) ([]string, error) {
	query := `
		UPDATE directory_users
		SET enabled = FALSE
		WHERE tenant_id = $1 AND source_id = $2 AND enabled = TRUE
		  AND NOT (external_code = ANY($3))
		RETURNING external_code
	`
	rows, err := tx.QueryContext(ctx, query, tenantID, sourceID, pq.Array(exemptOrEmpty(exempt)))
	if err != nil {
		return nil, fmt.Errorf("failed to disable users: %w", err)
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

// BulkCreate 多行单语句插入
func (r *PostgresUsersRepository) BulkCreate(ctx context.Context, tx DBTX, items []*domain.User) error {
	if len(items) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString(`
		INSERT INTO directory_users
			(user_id, tenant_id, source_id, external_code, username, display_name, email, phone, properties, enabled)
		VALUES `)
	args := make([]any, 0, len(items)*10)
	for i, u := range items {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 10
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10)
		args = append(args,
			u.UserID, u.TenantID, u.SourceID, u.ExternalCode, u.Username,
			u.DisplayName, u.Email, u.Phone, propertiesOrEmpty(u.Properties), u.Enabled)
	}
	if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("failed to bulk create users: %w", err)
	}
	return nil
}

// CreateOne 单行插入（逐条回退路径）
func (r *PostgresUsersRepository) CreateOne(ctx context.Context, tx DBTX, u *domain.User) error {
	query := `
		INSERT INTO directory_users
			(user_id, tenant_id, source_id, external_code, username, display_name, email, phone, properties, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := tx.ExecContext(ctx, query,
		u.UserID, u.TenantID, u.SourceID, u.ExternalCode, u.Username,
		u.DisplayName, u.Email, u.Phone, propertiesOrEmpty(u.Properties), u.Enabled)
	if err != nil {
		return fmt.Errorf("failed to create user %s: %w", u.ExternalCode, err)
	}
	return nil
}

func (r *PostgresUsersRepository) BulkUpdate(ctx context.Context, tx DBTX, items []*domain.User) error {
	for _, u := range items {
		if err := r.UpdateOne(ctx, tx, u); err != nil {
			return err
		}
	}
	return nil
}

// UpdateOne 更新可变字段
func (r *PostgresUsersRepository) UpdateOne(ctx context.Context, tx DBTX, u *domain.User) error {
	query := `
		UPDATE directory_users
		SET username = $3,
		    display_name = $4,
		    email = $5,
		    phone = $6,
		    properties = $7,
		    enabled = $8
		WHERE user_id = $1 AND tenant_id = $2
	`
	_, err := tx.ExecContext(ctx, query,
		u.UserID, u.TenantID, u.Username, u.DisplayName, u.Email, u.Phone,
		propertiesOrEmpty(u.Properties), u.Enabled)
	if err != nil {
		return fmt.Errorf("failed to update user %s: %w", u.ExternalCode, err)
	}
	return nil
}

// ListEnabled 启用中的用户
func (r *PostgresUsersRepository) ListEnabled(ctx context.Context, tenantID, sourceID string) ([]*domain.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM directory_users
		WHERE tenant_id = $1 AND source_id = $2 AND enabled = TRUE
		ORDER BY user_id
	`
	rows, err := r.db.QueryContext(ctx, query, tenantID, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query enabled users: %w", err)
	}
	defer rows.Close()

	var items []*domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		items = append(items, u)
	}
	return items, rows.Err()
}

func propertiesOrEmpty(raw []byte) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}
