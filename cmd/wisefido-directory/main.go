package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"wisefido-directory/internal/collab"
	"wisefido-directory/internal/config"
	"wisefido-directory/internal/database"
	"wisefido-directory/internal/logger"
	"wisefido-directory/internal/redisx"
	"wisefido-directory/internal/repository"
	"wisefido-directory/internal/service"
	"wisefido-directory/internal/syncer"

	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "wisefido-directory")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	redisClient := redisx.NewRedisClient(cfg)
	defer redisx.Close(redisClient)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := redisx.Ping(ctx, redisClient); err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}

	deptRepo := repository.NewPostgresDepartmentsRepository(db)
	userRepo := repository.NewPostgresUsersRepository(db)
	relRepo := repository.NewPostgresRelationsRepository(db)
	taskRepo := repository.NewPostgresSyncTasksRepository(db)
	sourceRepo := repository.NewPostgresDataSourcesRepository(db)
	strategyRepo := repository.NewPostgresStrategiesRepository(db)
	fieldRepo := repository.NewPostgresFieldsRepository(db)

	lock := syncer.NewRunLock(redisClient, cfg.Sync.LockTTL)
	events := syncer.NewStreamPublisher(redisClient, cfg.Sync.EventStream, log)

	orch := syncer.NewOrchestrator(db, syncer.Repos{
		Departments: deptRepo,
		Users:       userRepo,
		Relations:   relRepo,
		Tasks:       taskRepo,
	}, lock, events, cfg.Sync, log)

	syncSvc := service.NewSyncService(sourceRepo, taskRepo, fieldRepo, orch, log)
	propagator := collab.NewPropagator(orch, strategyRepo, fieldRepo, deptRepo, userRepo, relRepo, log)

	scheduler := service.NewScheduler(sourceRepo, syncSvc, cfg.Sync, log)
	go scheduler.Run(ctx)

	if cfg.Collab.Enabled {
		consumer := collab.NewEventConsumer(redisClient, cfg.Sync.EventStream,
			cfg.Collab.ConsumerGroup, cfg.Collab.ConsumerName, propagator, log)
		go func() {
			if err := consumer.Start(ctx); err != nil {
				log.Error("collaboration consumer stopped", zap.Error(err))
			}
		}()
	}

	log.Info("wisefido-directory started",
		zap.Bool("schedule_enabled", cfg.Sync.ScheduleEnabled),
		zap.String("event_stream", cfg.Sync.EventStream),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	cancel()
}
