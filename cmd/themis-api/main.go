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
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/Samurai315/themis/api/swagger"
	"github.com/Samurai315/themis/internal/handler"
	"github.com/Samurai315/themis/internal/middleware"
	"github.com/Samurai315/themis/internal/optimizer"
	"github.com/Samurai315/themis/internal/repository"
	"github.com/Samurai315/themis/internal/service"
	"github.com/Samurai315/themis/pkg/cache"
	"github.com/Samurai315/themis/pkg/config"
	"github.com/Samurai315/themis/pkg/database"
	"github.com/Samurai315/themis/pkg/export"
	"github.com/Samurai315/themis/pkg/gemini"
	"github.com/Samurai315/themis/pkg/jobs"
	"github.com/Samurai315/themis/pkg/logger"
	corsmiddleware "github.com/Samurai315/themis/pkg/middleware/cors"
	reqidmiddleware "github.com/Samurai315/themis/pkg/middleware/requestid"
)

// @title Themis Scheduling API
// @version 1.0.0
// @description Timetable optimization service with genetic and AI-assisted solvers
// @BasePath /
// @schemes http

const (
	shutdownTimeout = 15 * time.Second
	recoveryTimeout = 30 * time.Second
)

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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}
	defer redisClient.Close() //nolint:errcheck

	metricsSvc := service.NewMetricsService()
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Optimizer.ResultTTL, logr, true)

	runRepo := repository.NewOptimizationRunRepository(db)
	termRepo := repository.NewTermRepository(db)
	timetableRepo := repository.NewTimetableRepository(db)
	sessionRepo := repository.NewTimetableSessionRepository(db)
	allocationRepo := repository.NewAllocationRepository(db)
	facultyRepo := repository.NewFacultyRepository(db)
	roomRepo := repository.NewRoomRepository(db)
	institutionRepo := repository.NewInstitutionRepository(db)

	datasetSvc := service.NewDatasetService(allocationRepo, facultyRepo, roomRepo, institutionRepo, logr)

	var advisor optimizer.Advisor
	if cfg.Gemini.Enabled {
		advisor = gemini.NewClient(cfg.Gemini, logr)
		logr.Sugar().Infow("gemini advisor enabled", "model", cfg.Gemini.Model)
	}
	engine := optimizer.NewOrchestrator(advisor, logr)

	// The service and the worker must share one registry so an API cancel
	// reaches the evolution goroutine owned by this process.
	registry := service.NewRunCancelRegistry()

	worker := service.NewRunWorker(runRepo, termRepo, datasetSvc, engine, registry, cacheSvc, metricsSvc, service.RunWorkerConfig{
		EvalWorkers:      cfg.Optimizer.EvalWorkers,
		ProgressInterval: cfg.Optimizer.ProgressInterval,
		MaxRetries:       cfg.Optimizer.WorkerRetries,
		ResultTTL:        cfg.Optimizer.ResultTTL,
	}, logr)

	queue := jobs.NewQueue("optimizations", worker.Handle, jobs.QueueConfig{
		Workers:    cfg.Optimizer.WorkerConcurrency,
		MaxRetries: cfg.Optimizer.WorkerRetries,
		Logger:     logr,
	})
	queue.Start(context.Background())

	optimizationSvc := service.NewOptimizationService(runRepo, termRepo, datasetSvc, queue, cacheSvc, registry, nil, cfg.Optimizer.ResultTTL, logr)
	timetableSvc := service.NewTimetableService(timetableRepo, sessionRepo, runRepo, termRepo, roomRepo, db, cacheSvc, export.NewCSVExporter(), nil, logr)

	recoveryCtx, cancelRecovery := context.WithTimeout(context.Background(), recoveryTimeout)
	optimizationSvc.RecoverPendingRuns(recoveryCtx)
	cancelRecovery()

	optimizationHandler := handler.NewOptimizationHandler(optimizationSvc)
	timetableHandler := handler.NewTimetableHandler(timetableSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc, db, redisClient)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)
	r.GET("/metrics/system", metricsHandler.System)

	api := r.Group(cfg.APIPrefix)

	if cfg.Optimizer.Enabled {
		runs := api.Group("/optimizations")
		runs.POST("", optimizationHandler.Start)
		runs.GET("", optimizationHandler.List)
		runs.GET("/:id", optimizationHandler.Status)
		runs.GET("/:id/result", optimizationHandler.Result)
		runs.POST("/:id/cancel", optimizationHandler.Cancel)
	}

	if cfg.Timetables.Enabled {
		timetables := api.Group("/timetables")
		timetables.POST("", timetableHandler.Save)
		timetables.GET("", timetableHandler.List)
		timetables.GET("/:id/sessions", timetableHandler.Sessions)
		timetables.DELETE("/:id", timetableHandler.Delete)
		if cfg.Timetables.ExportEnabled {
			timetables.GET("/:id/export", timetableHandler.Export)
		}
	}

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("forced server shutdown", "error", err)
	}

	// Stopping the queue cancels in-flight evolutions; interrupted runs
	// are reset to queued on the next boot.
	queue.Stop()

	logr.Sugar().Infow("server stopped")
}
