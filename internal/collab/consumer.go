package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"wisefido-directory/internal/domain"
	"wisefido-directory/internal/redisx"
	"wisefido-directory/internal/syncer"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// EventConsumer 订阅同步完成事件流，把源租户的成功同步扇出到协同伙伴
// 复制触发的同步自己也会发事件，靠 trigger=collaboration 过滤避免回环
type EventConsumer struct {
	redisClient   *redis.Client
	stream        string
	consumerGroup string
	consumerName  string
	propagator    *Propagator
	logger        *zap.Logger
}

// NewEventConsumer 创建事件消费者
func NewEventConsumer(redisClient *redis.Client, stream, consumerGroup, consumerName string,
	propagator *Propagator, logger *zap.Logger) *EventConsumer {
	return &EventConsumer{
		redisClient:   redisClient,
		stream:        stream,
		consumerGroup: consumerGroup,
		consumerName:  consumerName,
		propagator:    propagator,
		logger:        logger,
	}
}

// Start 启动消费循环，阻塞到 ctx 取消
func (c *EventConsumer) Start(ctx context.Context) error {
	if err := redisx.CreateConsumerGroup(ctx, c.redisClient, c.stream, c.consumerGroup); err != nil {
		return fmt.Errorf("failed to create consumer group for %s: %w", c.stream, err)
	}

	c.logger.Info("collaboration event consumer started",
		zap.String("stream", c.stream),
		zap.String("consumer_group", c.consumerGroup),
		zap.String("consumer_name", c.consumerName),
	)

	backoff := time.Second
	maxBackoff := 30 * time.Second
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			if err := c.consumeOnce(ctx); err != nil {
				c.logger.Error("failed to consume sync events",
					zap.Error(err),
					zap.Duration("backoff", backoff),
				)
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(backoff):
					backoff *= 2
					if backoff > maxBackoff {
						backoff = maxBackoff
					}
				}
			} else {
				backoff = time.Second
			}
		}
	}
}

func (c *EventConsumer) consumeOnce(ctx context.Context) error {
	messages, err := redisx.ReadFromStream(ctx, c.redisClient, c.stream, c.consumerGroup, c.consumerName, 16)
	if err != nil {
		return err
	}
	for _, msg := range messages {
		if err := c.handleMessage(ctx, msg); err != nil {
			c.logger.Error("failed to handle sync event",
				zap.String("stream_id", msg.ID),
				zap.Error(err),
			)
			// 不 Ack，留待重投
			continue
		}
		if err := redisx.AckMessage(ctx, c.redisClient, c.stream, c.consumerGroup, msg.ID); err != nil {
			c.logger.Warn("failed to ack message", zap.String("stream_id", msg.ID), zap.Error(err))
		}
	}
	return nil
}

func (c *EventConsumer) handleMessage(ctx context.Context, msg redisx.StreamMessage) error {
	data, ok := msg.Values["data"].(string)
	if !ok {
		// 解析不了的消息重投也没用，记日志后放行
		c.logger.Warn("sync event has no data field", zap.String("stream_id", msg.ID))
		return nil
	}
	var event syncer.SyncCompletedEvent
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		c.logger.Warn("malformed sync event", zap.String("stream_id", msg.ID), zap.Error(err))
		return nil
	}

	if event.Status != domain.TaskStatusSuccess {
		return nil
	}
	if event.Trigger == domain.TriggerCollaboration {
		return nil
	}
	return c.fanOut(ctx, &event)
}

// fanOut 对以事件租户为源侧的每个双侧启用策略各复制一次
// 单个策略失败不影响其余策略，整体不回滚
func (c *EventConsumer) fanOut(ctx context.Context, event *syncer.SyncCompletedEvent) error {
	strategies, err := c.propagator.strategies.ListBySourceTenant(ctx, event.TenantID)
	if err != nil {
		return fmt.Errorf("failed to list strategies: %w", err)
	}
	for _, strategy := range strategies {
		if !strategy.BothEnabled() {
			continue
		}
		task, err := c.propagator.Replicate(ctx, strategy.StrategyID, event.SourceID)
		if err != nil {
			c.logger.Error("collaboration replication failed",
				zap.String("strategy_id", strategy.StrategyID),
				zap.String("source_tenant", strategy.SourceTenantID),
				zap.String("target_tenant", strategy.TargetTenantID),
				zap.Error(err),
			)
			continue
		}
		c.logger.Info("collaboration replication finished",
			zap.String("strategy_id", strategy.StrategyID),
			zap.String("task_id", task.TaskID),
			zap.String("status", task.Status),
		)
	}
	return nil
}
