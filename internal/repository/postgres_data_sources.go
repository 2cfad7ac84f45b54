package repository

import (
	"context"
	"database/sql"
	"fmt"

	"wisefido-directory/internal/domain"

	"github.com/lib/pq"
)

// PostgresDataSourcesRepository 数据源Repository实现
type PostgresDataSourcesRepository struct {
	db *sql.DB
}

// NewPostgresDataSourcesRepository 创建数据源Repository
func NewPostgresDataSourcesRepository(db *sql.DB) *PostgresDataSourcesRepository {
	return &PostgresDataSourcesRepository{db: db}
}

var _ DataSourcesRepository = (*PostgresDataSourcesRepository)(nil)

const dataSourceColumns = `
	source_id::text,
	tenant_id::text,
	source_name,
	source_type,
	COALESCE(config, '{}'::jsonb)::text,
	exempt_codes,
	enabled
`

func scanDataSource(row interface{ Scan(...any) error }) (*domain.DataSource, error) {
	var ds domain.DataSource
	var config string
	var exempt pq.StringArray
	err := row.Scan(
		&ds.SourceID,
		&ds.TenantID,
		&ds.SourceName,
		&ds.SourceType,
		&config,
		&exempt,
		&ds.Enabled,
	)
	if err != nil {
		return nil, err
	}
	ds.Config = []byte(config)
	ds.ExemptCodes = exempt
	return &ds, nil
}

// Get 读取数据源
func (r *PostgresDataSourcesRepository) Get(ctx context.Context, tenantID, sourceID string) (*domain.DataSource, error) {
	query := `SELECT ` + dataSourceColumns + ` FROM data_sources WHERE tenant_id = $1 AND source_id = $2`
	ds, err := scanDataSource(r.db.QueryRowContext(ctx, query, tenantID, sourceID))
	if err != nil {
		return nil, fmt.Errorf("failed to get data source %s: %w", sourceID, err)
	}
	return ds, nil
}

// ListEnabled 全部启用中的数据源（周期调度器遍历）
func (r *PostgresDataSourcesRepository) ListEnabled(ctx context.Context) ([]*domain.DataSource, error) {
	query := `SELECT ` + dataSourceColumns + ` FROM data_sources WHERE enabled = TRUE ORDER BY tenant_id, source_name`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list enabled data sources: %w", err)
	}
	defer rows.Close()

	var sources []*domain.DataSource
	for rows.Next() {
		ds, err := scanDataSource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan data source: %w", err)
		}
		sources = append(sources, ds)
	}
	return sources, rows.Err()
}
