// Package app wires the repair toolkit from configuration. Both the CLI and the HTTP server
// build their services here.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/fix-delete-modules/internal/repository"
	"github.com/noah-isme/fix-delete-modules/internal/service"
	"github.com/noah-isme/fix-delete-modules/pkg/cache"
	"github.com/noah-isme/fix-delete-modules/pkg/config"
	"github.com/noah-isme/fix-delete-modules/pkg/database"
	"github.com/noah-isme/fix-delete-modules/pkg/jobs"
	"github.com/noah-isme/fix-delete-modules/pkg/storage"
)

const repairQueueName = "repairs"

// Container holds the constructed services and the resources they share.
type Container struct {
	Config    *config.Config
	Logger    *zap.Logger
	DB        *sqlx.DB
	Cache     *repository.CacheRepository
	Metrics   *service.MetricsService
	Auth      *service.AuthService
	Directory *service.JobDirectory
	Diagnoses *service.DiagnosticService
	Surgeon   *service.SurgeonService
	Reports   *service.ReportService
	Validate  *validator.Validate

	queue *jobs.Queue
}

// New connects to the store and builds every service. The caller owns Close.
func New(cfg *config.Config, logger *zap.Logger) (*Container, error) {
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logger.Warn("redis unavailable, continuing without cache", zap.Error(err))
		redisClient = nil
	}

	c, err := Build(cfg, logger, db, repository.NewCacheRepository(redisClient, logger))
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

// Build assembles the services over an open database handle.
func Build(cfg *config.Config, logger *zap.Logger, db *sqlx.DB, cacheRepo *repository.CacheRepository) (*Container, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := service.NewMetricsService()
	validate := validator.New()

	store := repository.NewRecordStore(db, cfg.Database.TablePrefix, metrics)
	tasks := repository.NewTaskRepository(store, time.Now)
	modules := repository.NewModuleRepository(store)
	cleanup := repository.NewCleanupRepository(store, time.Now)

	deps := service.SurgeonDeps{
		Modules:    modules,
		Tasks:      tasks,
		Cleanup:    cleanup,
		Competency: service.NewLinkCleanupNotifier(cleanup),
		Executor:   service.NewVerifyingExecutor(modules),
		Observer:   metrics,
		Logger:     logger,
	}

	fileDir, err := storage.NewFileDir(cfg.Repair.FileDir)
	if err != nil {
		return nil, fmt.Errorf("open file directory: %w", err)
	}
	if fileDir != nil {
		deps.Content = fileDir
	}

	if cacheRepo.Enabled() {
		deps.Cache = cacheRepo
		deps.Events = service.NewLogstoreEventPublisher(cleanup, cacheRepo, cfg.Repair.EventChannel, logger)
	} else {
		deps.Events = service.NewLogstoreEventPublisher(cleanup, nil, "", logger)
	}

	resolver := service.NewModuleResolver(modules, logger)
	directory := service.NewJobDirectory(tasks, resolver, cfg.Repair.TaskClass, logger)
	diagnostic := service.NewDiagnosticService(modules, metrics, logger)
	surgeon := service.NewSurgeonService(deps, service.SurgeonConfig{
		TaskClass:    cfg.Repair.TaskClass,
		CacheKeyRoot: cfg.Repair.CacheKeyRoot,
	})

	// A disabled cache repository reports Enabled() == false and runs stay in memory.
	reports := service.NewReportService(directory, diagnostic, surgeon, cacheRepo, nil, metrics, logger, service.ReportServiceConfig{ResultTTL: cfg.Repair.ResultTTL})

	auth := service.NewAuthService(validate, logger, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})

	return &Container{
		Config:    cfg,
		Logger:    logger,
		DB:        db,
		Cache:     cacheRepo,
		Metrics:   metrics,
		Auth:      auth,
		Directory: directory,
		Diagnoses: diagnostic,
		Surgeon:   surgeon,
		Reports:   reports,
		Validate:  validate,
	}, nil
}

// StartRepairQueue runs HTTP-submitted repairs one at a time in the background.
func (c *Container) StartRepairQueue(ctx context.Context) {
	if c.queue != nil {
		return
	}
	c.queue = jobs.NewQueue(repairQueueName, c.Reports.ProcessRun, jobs.QueueConfig{
		Workers:    1,
		BufferSize: c.Config.Repair.QueueCapacity,
		JobTimeout: c.Config.Repair.RunTimeout,
		Logger:     c.Logger,
	})
	c.queue.Start(ctx)
	c.Reports.SetDispatcher(c.queue)
}

// RepairQueue returns the queue started by StartRepairQueue, or nil.
func (c *Container) RepairQueue() *jobs.Queue {
	return c.queue
}

// Close stops the queue and releases connections.
func (c *Container) Close() {
	if c.queue != nil {
		c.queue.Stop()
	}
	if c.Cache != nil {
		if err := c.Cache.Close(); err != nil {
			c.Logger.Warn("failed to close redis", zap.Error(err))
		}
	}
	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			c.Logger.Warn("failed to close database", zap.Error(err))
		}
	}
}
