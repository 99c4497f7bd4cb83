package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/clinic-outcomes-api/api/swagger"
	"github.com/noah-isme/clinic-outcomes-api/internal/bootstrap"
	"github.com/noah-isme/clinic-outcomes-api/internal/handler"
	internalmiddleware "github.com/noah-isme/clinic-outcomes-api/internal/middleware"
	"github.com/noah-isme/clinic-outcomes-api/internal/models"
	"github.com/noah-isme/clinic-outcomes-api/internal/repository"
	"github.com/noah-isme/clinic-outcomes-api/internal/service"
	"github.com/noah-isme/clinic-outcomes-api/pkg/config"
	"github.com/noah-isme/clinic-outcomes-api/pkg/jobs"
	"github.com/noah-isme/clinic-outcomes-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/clinic-outcomes-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/clinic-outcomes-api/pkg/middleware/requestid"
	"github.com/noah-isme/clinic-outcomes-api/pkg/storage"
)

// @title Clinic Outcomes API
// @version 1.0.0
// @description Monthly outcome criteria and activity duration reports across clinic sites.
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsSvc := service.NewMetricsService()

	deps, err := bootstrap.Build(ctx, cfg, metricsSvc, logr, bootstrap.Options{NeedDB: cfg.Exports.Enabled})
	if err != nil {
		logr.Fatal("failed to initialise dependencies", zap.Error(err))
	}
	defer deps.Close()

	loc := cfg.Reports.Location()
	reportHandler := handler.NewOutcomeReportHandler(deps.Reports, loc)

	var exportHandler *handler.ExportHandler
	var exportQueue *jobs.Queue
	if cfg.Exports.Enabled {
		exportHandler, exportQueue, err = wireExports(ctx, cfg, deps, metricsSvc, logr)
		if err != nil {
			logr.Fatal("failed to initialise exports", zap.Error(err))
		}
		defer exportQueue.Stop()
	}

	checks := map[string]handler.ReadinessCheck{}
	if deps.DB != nil {
		checks["postgres"] = deps.DB.PingContext
	}
	if deps.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return deps.Redis.Ping(ctx).Err() }
	}
	metricsHandler := handler.NewMetricsHandler(metricsSvc, checks)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metricsSvc))
	r.Use(internalmiddleware.WithResponseMeta())

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	api := r.Group(cfg.APIPrefix)
	if exportHandler != nil {
		api.GET("/export/:token", exportHandler.Download)
	}

	secured := api.Group("")
	if cfg.JWT.Enabled {
		secured.Use(internalmiddleware.JWT(service.NewTokenValidator(cfg.JWT.Secret, cfg.JWT.Issuer)))
		secured.Use(internalmiddleware.RequireRoles(models.RoleAdmin, models.RoleManager))
	}
	secured.GET("/metrics/summary", metricsHandler.Summary)

	reports := secured.Group("/reports")
	reports.GET("/outcomes", reportHandler.Outcomes)
	reports.GET("/outcomes/sites/:siteName", reportHandler.SiteOutcomes)
	reports.GET("/activity", reportHandler.Activity)
	if exportHandler != nil {
		reports.POST("/exports", exportHandler.CreateExport)
		reports.GET("/exports/:id", exportHandler.ExportStatus)
	}

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "recordStore", cfg.RecordStore.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}

func wireExports(ctx context.Context, cfg *config.Config, deps *bootstrap.Deps, metricsSvc *service.MetricsService, logr *zap.Logger) (*handler.ExportHandler, *jobs.Queue, error) {
	files, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
	if err != nil {
		return nil, nil, fmt.Errorf("export storage: %w", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)
	loc := cfg.Reports.Location()

	exporter := service.NewExportService(deps.Reports, files, signer, service.ExportConfig{
		APIPrefix: cfg.APIPrefix,
		ResultTTL: cfg.Exports.SignedURLTTL,
		Location:  loc,
	}, logr)
	repo := repository.NewExportJobRepository(deps.DB)
	worker := service.NewExportWorker(repo, exporter, metricsSvc, logr)

	queue := jobs.NewQueue("exports", worker.Handle, jobs.QueueConfig{
		Workers:    cfg.Exports.WorkerConcurrency,
		MaxRetries: cfg.Exports.WorkerRetries,
		RetryDelay: 2 * time.Second,
		MaxDelay:   time.Minute,
		OnFailure:  worker.Fail,
		Logger:     logr,
	})
	queue.Start(ctx)

	jobSvc := service.NewExportJobService(repo, queue, exporter, logr, service.ExportJobServiceConfig{
		ResultTTL:       cfg.Exports.SignedURLTTL,
		CleanupInterval: cfg.Exports.CleanupInterval,
		Location:        loc,
	})
	jobSvc.RecoverPendingJobs(ctx)
	jobSvc.StartCleanup(ctx)

	return handler.NewExportHandler(jobSvc), queue, nil
}
