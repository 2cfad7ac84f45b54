package collab

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"wisefido-directory/internal/domain"
	"wisefido-directory/internal/mapper"
	"wisefido-directory/internal/repository"
	"wisefido-directory/internal/source"
	"wisefido-directory/internal/syncer"

	"go.uber.org/zap"
)

// Propagator 协同传播器：把源租户已同步的目录数据按字段映射契约复制进目标租户
// 复制本身就是一次普通的编排器同步，数据源换成源租户的 canonical 数据
type Propagator struct {
	orch        *syncer.Orchestrator
	strategies  repository.StrategiesRepository
	fields      repository.FieldsRepository
	departments repository.DepartmentsRepository
	users       repository.UsersRepository
	relations   repository.RelationsRepository
	logger      *zap.Logger
}

// NewPropagator 创建传播器
func NewPropagator(orch *syncer.Orchestrator, strategies repository.StrategiesRepository,
	fields repository.FieldsRepository, departments repository.DepartmentsRepository,
	users repository.UsersRepository, relations repository.RelationsRepository, logger *zap.Logger) *Propagator {
	return &Propagator{
		orch:        orch,
		strategies:  strategies,
		fields:      fields,
		departments: departments,
		users:       users,
		relations:   relations,
		logger:      logger,
	}
}

// validate 载入两侧字段目录并校验契约
func (p *Propagator) validate(ctx context.Context, strategy *domain.CollaborationStrategy) (*domain.StrategyConfig, error) {
	cfg, err := strategy.ParseConfig()
	if err != nil {
		return nil, fmt.Errorf("invalid strategy config: %w", err)
	}
	sourceFields, err := p.fields.ListFields(ctx, strategy.SourceTenantID)
	if err != nil {
		return nil, err
	}
	targetFields, err := p.fields.ListFields(ctx, strategy.TargetTenantID)
	if err != nil {
		return nil, err
	}
	if err := ValidateStrategy(cfg, sourceFields, targetFields); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Confirm 某一侧确认策略（side: "source"/"target"）
// 校验同步执行：契约不合法则该侧保持未确认，错误原样抛给调用方
func (p *Propagator) Confirm(ctx context.Context, strategyID, side string) error {
	strategy, err := p.strategies.Get(ctx, strategyID)
	if err != nil {
		return err
	}
	if _, err := p.validate(ctx, strategy); err != nil {
		return err
	}
	return p.strategies.UpdateStatus(ctx, strategyID, side, domain.StrategyEnabled)
}

// Replicate 执行一次协同复制
// sourceSourceID: 源租户侧参与复制的数据源
// 仅当两侧都 enabled 才执行；租户作用域切到目标租户，数据来自源租户 canonical 存量
func (p *Propagator) Replicate(ctx context.Context, strategyID, sourceSourceID string) (*domain.SyncTask, error) {
	strategy, err := p.strategies.Get(ctx, strategyID)
	if err != nil {
		return nil, err
	}
	if !strategy.BothEnabled() {
		return nil, fmt.Errorf("strategy %s is not enabled on both sides (source=%s, target=%s)",
			strategyID, strategy.SourceStatus, strategy.TargetStatus)
	}
	// 确认时已经拦截过坏契约，这里重校验兜底配置被直接改库的情况
	cfg, err := p.validate(ctx, strategy)
	if err != nil {
		return nil, err
	}

	adapter := &canonicalAdapter{
		tenantID:    strategy.SourceTenantID,
		sourceID:    sourceSourceID,
		departments: p.departments,
		users:       p.users,
		relations:   p.relations,
	}
	adjacency, err := mapper.ForKind(adapter.AddressKind(), mapper.Options{})
	if err != nil {
		return nil, err
	}

	// 复制写入目标租户时以策略ID为数据源作用域，同一策略重复复制幂等
	replicaSource := &domain.DataSource{
		SourceID:   strategy.StrategyID,
		TenantID:   strategy.TargetTenantID,
		SourceName: fmt.Sprintf("collaboration:%s", strategy.SourceTenantID),
		SourceType: "collaboration",
	}

	pass := &syncer.Pass{
		TenantID:      strategy.TargetTenantID,
		Source:        replicaSource,
		Trigger:       domain.TriggerCollaboration,
		Adapter:       adapter,
		Mapper:        adjacency,
		UserTransform: newFieldMappingTransform(cfg.FieldMapping),
	}

	p.logger.Info("starting collaboration replication",
		zap.String("strategy_id", strategyID),
		zap.String("source_tenant", strategy.SourceTenantID),
		zap.String("target_tenant", strategy.TargetTenantID),
	)
	return p.orch.Run(ctx, pass)
}

// newFieldMappingTransform 字段映射变换（mapper 之后、累加器之前执行）
// 目标侧用户只携带映射到的字段，username 透传保证账号可定位
func newFieldMappingTransform(mappings []domain.FieldMapping) func(*source.RawUser) *source.RawUser {
	return func(u *source.RawUser) *source.RawUser {
		props := map[string]any{}
		if username, ok := u.Properties["username"]; ok {
			props["username"] = username
		}
		for _, m := range mappings {
			switch m.MappingOperation {
			case domain.MappingExpression:
				props[m.TargetField] = expandExpression(m.Expression, u.Properties)
			default: // direct
				if v, ok := u.Properties[m.SourceField]; ok {
					props[m.TargetField] = v
				}
			}
		}
		u.Properties = props
		return u
	}
}

// expandExpression 极简表达式：把 {field} 占位符替换为源属性值
func expandExpression(expr string, props map[string]any) string {
	var sb strings.Builder
	rest := expr
	for {
		start := strings.IndexByte(rest, '{')
		if start < 0 {
			sb.WriteString(rest)
			return sb.String()
		}
		end := strings.IndexByte(rest[start:], '}')
		if end < 0 {
			sb.WriteString(rest)
			return sb.String()
		}
		sb.WriteString(rest[:start])
		key := rest[start+1 : start+end]
		sb.WriteString(propString(props[key]))
		rest = rest[start+end+1:]
	}
}

func propString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
