package syncer

import (
	"context"
	"time"

	"wisefido-directory/internal/domain"
	"wisefido-directory/internal/redisx"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// SyncCompletedEvent 同步收尾事件
// 审计层消费 changes，通知层在 status=success 时为新用户初始化凭据
type SyncCompletedEvent struct {
	TaskID     string               `json:"task_id"`
	TenantID   string               `json:"tenant_id"`
	SourceID   string               `json:"source_id"`
	Trigger    string               `json:"trigger"`
	Status     string               `json:"status"`
	HasWarning bool                 `json:"has_warning"`
	Summary    domain.ChangeSummary `json:"summary"`
	Changes    []ChangeRecord       `json:"changes"`
	FinishedAt time.Time            `json:"finished_at"`
}

// EventPublisher 同步事件发布端
// 显式发布+订阅消费，不走隐式框架分发
type EventPublisher interface {
	Publish(ctx context.Context, event *SyncCompletedEvent) error
}

// StreamPublisher Redis Streams 事件发布实现
type StreamPublisher struct {
	client *redis.Client
	stream string
	logger *zap.Logger
}

// NewStreamPublisher 创建 Streams 发布端
func NewStreamPublisher(client *redis.Client, stream string, logger *zap.Logger) *StreamPublisher {
	return &StreamPublisher{client: client, stream: stream, logger: logger}
}

var _ EventPublisher = (*StreamPublisher)(nil)

func (p *StreamPublisher) Publish(ctx context.Context, event *SyncCompletedEvent) error {
	id, err := redisx.PublishJSONToStream(ctx, p.client, p.stream, event)
	if err != nil {
		return err
	}
	p.logger.Debug("sync event published",
		zap.String("stream", p.stream),
		zap.String("message_id", id),
		zap.String("task_id", event.TaskID),
	)
	return nil
}
