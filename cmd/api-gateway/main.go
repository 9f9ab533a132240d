package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/fix-delete-modules/internal/app"
	"github.com/noah-isme/fix-delete-modules/internal/handler"
	internalmiddleware "github.com/noah-isme/fix-delete-modules/internal/middleware"
	"github.com/noah-isme/fix-delete-modules/internal/models"
	"github.com/noah-isme/fix-delete-modules/pkg/config"
	"github.com/noah-isme/fix-delete-modules/pkg/logger"
	corsmiddleware "github.com/noah-isme/fix-delete-modules/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/fix-delete-modules/pkg/middleware/requestid"
)

const shutdownTimeout = 15 * time.Second

// @title Fix Delete Modules API
// @version 0.1.0
// @description Diagnose and repair stuck course_delete_modules adhoc tasks
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	container, err := app.New(cfg, logr)
	if err != nil {
		logr.Sugar().Fatalw("failed to build services", "error", err)
	}
	defer container.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	container.StartRepairQueue(ctx)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(container.Metrics))
	r.Use(internalmiddleware.WithResponseMeta())

	metricsHandler := handler.NewMetricsHandler(container.Metrics, container.DB).WithQueue(container.RepairQueue())
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	if cfg.Metrics.Enabled {
		r.GET("/metrics", metricsHandler.Prometheus)
	}

	deletionHandler := handler.NewDeletionHandler(container.Reports, container.Validate, cfg.Repair.MinFailDelay)
	api := r.Group(cfg.APIPrefix)
	api.Use(internalmiddleware.JWT(container.Auth))
	{
		read := api.Group("", internalmiddleware.RequireRoles(models.RoleAdmin, models.RoleViewer))
		read.GET("/deletion-jobs", deletionHandler.ListJobs)
		read.GET("/diagnoses", deletionHandler.Diagnoses)
		read.GET("/repairs/:id", deletionHandler.GetRepair)

		api.POST("/repairs",
			internalmiddleware.RequireRoles(models.RoleAdmin),
			internalmiddleware.Audit(logr, "repair.submit"),
			deletionHandler.CreateRepair,
		)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Errorw("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Warnw("graceful shutdown failed", "error", err)
	}
}
