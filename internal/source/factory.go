package source

import (
	"fmt"

	"wisefido-directory/internal/domain"

	"go.uber.org/zap"
)

// NewAdapter 按数据源类型构造适配器
func NewAdapter(ds *domain.DataSource, logger *zap.Logger) (Adapter, error) {
	adapterLogger := logger.With(
		zap.String("source_id", ds.SourceID),
		zap.String("source_type", ds.SourceType),
	)
	switch ds.SourceType {
	case domain.SourceTypeLDAP:
		return NewLDAPAdapter(ds.Config, adapterLogger)
	case domain.SourceTypeDingTalk:
		return NewDingTalkAdapter(ds.Config, adapterLogger)
	case domain.SourceTypeHTTP:
		return NewHTTPAdapter(ds.Config, adapterLogger)
	case domain.SourceTypeExcel:
		return NewExcelAdapter(ds.Config, adapterLogger)
	default:
		return nil, fmt.Errorf("unknown source type %q", ds.SourceType)
	}
}
