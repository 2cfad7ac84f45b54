package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"wisefido-directory/internal/domain"
)

// PostgresStrategiesRepository 协同策略Repository实现
type PostgresStrategiesRepository struct {
	db *sql.DB
}

// NewPostgresStrategiesRepository 创建协同策略Repository
func NewPostgresStrategiesRepository(db *sql.DB) *PostgresStrategiesRepository {
	return &PostgresStrategiesRepository{db: db}
}

var _ StrategiesRepository = (*PostgresStrategiesRepository)(nil)

// Get 读取策略
func (r *PostgresStrategiesRepository) Get(ctx context.Context, strategyID string) (*domain.CollaborationStrategy, error) {
	query := `
		SELECT strategy_id::text,
		       source_tenant_id::text,
		       target_tenant_id::text,
		       source_status,
		       target_status,
		       COALESCE(config, '{}'::jsonb)::text
		FROM collaboration_strategies
		WHERE strategy_id = $1
	`
	var s domain.CollaborationStrategy
	var config string
	err := r.db.QueryRowContext(ctx, query, strategyID).Scan(
		&s.StrategyID,
		&s.SourceTenantID,
		&s.TargetTenantID,
		&s.SourceStatus,
		&s.TargetStatus,
		&config,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get strategy %s: %w", strategyID, err)
	}
	s.Config = json.RawMessage(config)
	return &s, nil
}

// ListBySourceTenant 某租户作为源侧的全部策略（协同复制扇出用）
func (r *PostgresStrategiesRepository) ListBySourceTenant(ctx context.Context, tenantID string) ([]*domain.CollaborationStrategy, error) {
	query := `
		SELECT strategy_id::text,
		       source_tenant_id::text,
		       target_tenant_id::text,
		       source_status,
		       target_status,
		       COALESCE(config, '{}'::jsonb)::text
		FROM collaboration_strategies
		WHERE source_tenant_id = $1
		ORDER BY strategy_id
	`
	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list strategies for tenant %s: %w", tenantID, err)
	}
	defer rows.Close()

	var strategies []*domain.CollaborationStrategy
	for rows.Next() {
		var s domain.CollaborationStrategy
		var config string
		if err := rows.Scan(&s.StrategyID, &s.SourceTenantID, &s.TargetTenantID,
			&s.SourceStatus, &s.TargetStatus, &config); err != nil {
			return nil, fmt.Errorf("failed to scan strategy: %w", err)
		}
		s.Config = json.RawMessage(config)
		strategies = append(strategies, &s)
	}
	return strategies, rows.Err()
}

// UpdateStatus 单侧开关（side: "source"/"target"）
func (r *PostgresStrategiesRepository) UpdateStatus(ctx context.Context, strategyID, side, status string) error {
	var column string
	switch side {
	case "source":
		column = "source_status"
	case "target":
		column = "target_status"
	default:
		return fmt.Errorf("unknown strategy side %q", side)
	}
	switch status {
	case domain.StrategyEnabled, domain.StrategyDisabled, domain.StrategyUnconfirmed:
	default:
		return fmt.Errorf("unknown strategy status %q", status)
	}

	query := fmt.Sprintf(`UPDATE collaboration_strategies SET %s = $2 WHERE strategy_id = $1`, column)
	result, err := r.db.ExecContext(ctx, query, strategyID, status)
	if err != nil {
		return fmt.Errorf("failed to update strategy %s: %w", strategyID, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
