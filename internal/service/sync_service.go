package service

import (
	"context"
	"encoding/json"
	"fmt"

	"wisefido-directory/internal/domain"
	"wisefido-directory/internal/mapper"
	"wisefido-directory/internal/repository"
	"wisefido-directory/internal/source"
	"wisefido-directory/internal/syncer"

	"go.uber.org/zap"
)

// SyncService 目录同步服务：数据源管理入口之下的同步触发/报告门面
type SyncService struct {
	sources repository.DataSourcesRepository
	tasks   repository.SyncTasksRepository
	fields  repository.FieldsRepository
	orch    *syncer.Orchestrator
	logger  *zap.Logger
}

// NewSyncService 创建同步服务
func NewSyncService(sources repository.DataSourcesRepository, tasks repository.SyncTasksRepository,
	fields repository.FieldsRepository, orch *syncer.Orchestrator, logger *zap.Logger) *SyncService {
	return &SyncService{
		sources: sources,
		tasks:   tasks,
		fields:  fields,
		orch:    orch,
		logger:  logger,
	}
}

// mapperOptions 映射期选项，与适配器配置同存于 data_sources.config
type mapperOptions struct {
	AllowedTypes  []string `json:"allowed_types"`  // hierarchical: 如 ["ou"]
	PathSeparator string   `json:"path_separator"` // flatpath: 默认 "/"
}

// TriggerSyncRequest 触发一次同步
type TriggerSyncRequest struct {
	TenantID string
	SourceID string
	Trigger  string // manual/periodic
}

// TriggerSync 触发同步，返回终态任务
// 同一 (tenant, source) 已有同步在跑时任务直接落为 failed 并返回 syncer.ErrLockHeld
func (s *SyncService) TriggerSync(ctx context.Context, req TriggerSyncRequest) (*domain.SyncTask, error) {
	if req.TenantID == "" || req.SourceID == "" {
		return nil, fmt.Errorf("tenant_id and source_id are required")
	}
	trigger := req.Trigger
	if trigger == "" {
		trigger = domain.TriggerManual
	}

	ds, err := s.sources.Get(ctx, req.TenantID, req.SourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load data source: %w", err)
	}
	if !ds.Enabled {
		return nil, fmt.Errorf("data source %s is disabled", req.SourceID)
	}

	adapter, err := source.NewAdapter(ds, s.logger)
	if err != nil {
		return nil, err
	}
	return s.runPass(ctx, ds, trigger, adapter)
}

// ImportSpreadsheetRequest 上传表格文件并导入
type ImportSpreadsheetRequest struct {
	TenantID  string
	SourceID  string
	SheetName string // 空则取第一个工作表
	Content   []byte // xlsx 文件内容
}

// ImportSpreadsheet 以上传内容为数据执行一次导入同步
// 数据源必须是 excel 类型，文件内容代替配置里的 file_path
func (s *SyncService) ImportSpreadsheet(ctx context.Context, req ImportSpreadsheetRequest) (*domain.SyncTask, error) {
	if req.TenantID == "" || req.SourceID == "" {
		return nil, fmt.Errorf("tenant_id and source_id are required")
	}
	if len(req.Content) == 0 {
		return nil, fmt.Errorf("file content is empty")
	}

	ds, err := s.sources.Get(ctx, req.TenantID, req.SourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load data source: %w", err)
	}
	if ds.SourceType != domain.SourceTypeExcel {
		return nil, fmt.Errorf("data source %s is %s, spreadsheet import requires excel", req.SourceID, ds.SourceType)
	}
	if !ds.Enabled {
		return nil, fmt.Errorf("data source %s is disabled", req.SourceID)
	}

	adapter := source.NewExcelAdapterFromBytes(req.Content, req.SheetName, s.logger)
	return s.runPass(ctx, ds, domain.TriggerManual, adapter)
}

func (s *SyncService) runPass(ctx context.Context, ds *domain.DataSource, trigger string, adapter source.Adapter) (*domain.SyncTask, error) {
	var opts mapperOptions
	if len(ds.Config) > 0 {
		// 选项非法不拦截：mapper 自己有缺省值
		_ = json.Unmarshal(ds.Config, &opts)
	}
	m, err := mapper.ForKind(adapter.AddressKind(), mapper.Options{
		AllowedTypes:  opts.AllowedTypes,
		PathSeparator: opts.PathSeparator,
	})
	if err != nil {
		return nil, err
	}

	pass := &syncer.Pass{
		TenantID: ds.TenantID,
		Source:   ds,
		Trigger:  trigger,
		Adapter:  adapter,
		Mapper:   m,
	}
	return s.orch.Run(ctx, pass)
}

// TestConnection 连通性测试：不写库，返回样例记录供配置页预览
func (s *SyncService) TestConnection(ctx context.Context, tenantID, sourceID string) (*source.TestConnectionResult, error) {
	ds, err := s.sources.Get(ctx, tenantID, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load data source: %w", err)
	}
	adapter, err := source.NewAdapter(ds, s.logger)
	if err != nil {
		return &source.TestConnectionResult{OK: false, ErrorMessage: err.Error()}, nil
	}
	return adapter.TestConnection(ctx), nil
}

// GetTask 查询单个同步任务（含变更摘要与分步日志）
func (s *SyncService) GetTask(ctx context.Context, taskID string) (*domain.SyncTask, error) {
	if taskID == "" {
		return nil, fmt.Errorf("task_id is required")
	}
	return s.tasks.Get(ctx, taskID)
}

// ListTasks 查询数据源最近的同步任务
func (s *SyncService) ListTasks(ctx context.Context, tenantID, sourceID string, limit int) ([]*domain.SyncTask, error) {
	if tenantID == "" || sourceID == "" {
		return nil, fmt.Errorf("tenant_id and source_id are required")
	}
	if limit <= 0 {
		limit = 20
	}
	return s.tasks.ListBySource(ctx, tenantID, sourceID, limit)
}

// ImportTemplate 生成租户的导入模板
// 固定列之外按租户字段目录追加自定义列
func (s *SyncService) ImportTemplate(ctx context.Context, tenantID string) ([]byte, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}
	fields, err := s.fields.ListFields(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenant fields: %w", err)
	}
	extra := make([]string, 0, len(fields))
	for _, f := range fields {
		extra = append(extra, f.FieldKey)
	}
	return source.GenerateImportTemplate(extra)
}
