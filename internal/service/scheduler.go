package service

import (
	"context"
	"errors"
	"time"

	"wisefido-directory/internal/config"
	"wisefido-directory/internal/domain"
	"wisefido-directory/internal/repository"
	"wisefido-directory/internal/syncer"

	"go.uber.org/zap"
)

// Scheduler 周期同步调度器：按固定间隔对所有启用的数据源各跑一轮
type Scheduler struct {
	sources repository.DataSourcesRepository
	syncSvc *SyncService
	cfg     config.SyncConfig
	logger  *zap.Logger
}

// NewScheduler 创建调度器
func NewScheduler(sources repository.DataSourcesRepository, syncSvc *SyncService,
	cfg config.SyncConfig, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		sources: sources,
		syncSvc: syncSvc,
		cfg:     cfg,
		logger:  logger,
	}
}

// Run 阻塞运行直到 ctx 取消
func (s *Scheduler) Run(ctx context.Context) {
	if !s.cfg.ScheduleEnabled {
		s.logger.Info("periodic sync disabled")
		return
	}
	ticker := time.NewTicker(s.cfg.ScheduleEvery)
	defer ticker.Stop()

	s.logger.Info("starting periodic sync",
		zap.Duration("interval", s.cfg.ScheduleEvery),
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

// runAll 对所有启用数据源各触发一次；抢不到锁说明该源正在同步，跳过即可
func (s *Scheduler) runAll(ctx context.Context) {
	sources, err := s.sources.ListEnabled(ctx)
	if err != nil {
		s.logger.Error("failed to list enabled data sources", zap.Error(err))
		return
	}
	for _, ds := range sources {
		if ctx.Err() != nil {
			return
		}
		task, err := s.syncSvc.TriggerSync(ctx, TriggerSyncRequest{
			TenantID: ds.TenantID,
			SourceID: ds.SourceID,
			Trigger:  domain.TriggerPeriodic,
		})
		if err != nil {
			if errors.Is(err, syncer.ErrLockHeld) {
				s.logger.Info("sync already running, skipped",
					zap.String("tenant_id", ds.TenantID),
					zap.String("source_id", ds.SourceID),
				)
				continue
			}
			s.logger.Error("periodic sync failed",
				zap.String("tenant_id", ds.TenantID),
				zap.String("source_id", ds.SourceID),
				zap.Error(err),
			)
			continue
		}
		s.logger.Info("periodic sync finished",
			zap.String("task_id", task.TaskID),
			zap.String("status", task.Status),
		)
	}
}
