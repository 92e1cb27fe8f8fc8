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
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/timetable-engine/api/swagger"
	"github.com/noah-isme/timetable-engine/internal/handler"
	internalmiddleware "github.com/noah-isme/timetable-engine/internal/middleware"
	"github.com/noah-isme/timetable-engine/internal/models"
	"github.com/noah-isme/timetable-engine/internal/repository"
	"github.com/noah-isme/timetable-engine/internal/scheduler"
	"github.com/noah-isme/timetable-engine/internal/service"
	"github.com/noah-isme/timetable-engine/pkg/cache"
	"github.com/noah-isme/timetable-engine/pkg/config"
	"github.com/noah-isme/timetable-engine/pkg/database"
	"github.com/noah-isme/timetable-engine/pkg/jobs"
	"github.com/noah-isme/timetable-engine/pkg/logger"
	corsmiddleware "github.com/noah-isme/timetable-engine/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/timetable-engine/pkg/middleware/requestid"
)

// @title Timetable Engine API
// @version 1.0.0
// @description Builds and optimises university timetables and serves the active schedule.
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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close()

	var metricsSvc *service.MetricsService
	if cfg.Metrics.Enabled {
		metricsSvc = service.NewMetricsService()
	}

	checks := map[string]handler.Pinger{"postgres": db}

	var cacheRepo service.CacheRepository
	var redisClient *redis.Client
	if cfg.Cache.Enabled {
		redisClient, err = cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, caching disabled", zap.Error(err))
		} else {
			defer redisClient.Close()
			cacheRepo = repository.NewCacheRepository(redisClient, logr)
			checks["redis"] = handler.PingFunc(func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			})
		}
	}
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Cache.TTL, logr, cacheRepo != nil)

	grid := scheduler.Grid{Days: cfg.Scheduler.DaysPerWeek, Slots: cfg.Scheduler.SlotsPerDay}

	scheduleRepo := repository.NewScheduleRepository(db)
	store := service.NewGenerationStore(
		repository.NewCourseLoadRepository(db),
		repository.NewTeacherPreferenceRepository(db),
		repository.NewClassroomRepository(db),
		repository.NewTeacherRepository(db),
		scheduleRepo,
		repository.NewGenerationRepository(db),
		repository.NewAgentActionRepository(db),
		db,
		metricsSvc,
		logr,
		service.GenerationStoreConfig{
			Timeout:    cfg.Scheduler.StoreTimeout,
			MaxRetries: cfg.Scheduler.StoreRetries,
			RetryDelay: cfg.Scheduler.StoreRetryDelay,
		},
	)

	validate := validator.New()
	generationSvc := service.NewGenerationService(store, cacheSvc, metricsSvc, validate, logr, service.GenerationConfig{
		DefaultIterations: cfg.Scheduler.MaxIterations,
		Patience:          cfg.Scheduler.EarlyStoppingPatience,
		Grid:              grid,
		WeeksInSemester:   cfg.Scheduler.WeeksInSemester,
		Retention:         cfg.Scheduler.Retention,
	})

	// Generations run in-process; jobs are not retried because a rerun would
	// rebuild the schedule from scratch under the same job id.
	queue := jobs.NewQueue("generations", generationSvc.Handle, jobs.QueueConfig{
		Workers:    cfg.Scheduler.Workers,
		BufferSize: cfg.Scheduler.QueueBuffer,
		MaxRetries: 0,
		Logger:     logr,
	})
	generationSvc.AttachQueue(queue)

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	if _, err := generationSvc.RecoverInterrupted(rootCtx); err != nil {
		logr.Error("failed to recover interrupted generations", zap.Error(err))
	}
	queue.Start(rootCtx)

	scheduleSvc := service.NewScheduleService(scheduleRepo, store, cacheSvc, validate, logr, grid)
	tokenSvc := service.NewTokenService(cfg.JWT.Secret)

	generationHandler := handler.NewGenerationHandler(generationSvc)
	scheduleHandler := handler.NewScheduleHandler(scheduleSvc)
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
	if cfg.Metrics.Enabled {
		r.GET("/metrics", metricsHandler.Prometheus)
	}
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	schedulers := internalmiddleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin, models.RoleScheduler)

	api := r.Group(cfg.APIPrefix)
	api.Use(internalmiddleware.JWT(tokenSvc))
	{
		generations := api.Group("/generations")
		generations.POST("", schedulers, generationHandler.Start)
		generations.GET("/:jobId", generationHandler.Status)
		generations.POST("/:jobId/stop", schedulers, generationHandler.Stop)
		generations.GET("/:jobId/history", generationHandler.History)

		schedules := api.Group("/schedules")
		schedules.GET("", scheduleHandler.List)
		schedules.GET("/export", scheduleHandler.Export)
		schedules.GET("/analysis", scheduleHandler.Analysis)
		schedules.GET("/groups/:id", scheduleHandler.ByGroup)
		schedules.GET("/teachers/:id", scheduleHandler.ByTeacher)
		schedules.GET("/classrooms/:id", scheduleHandler.ByClassroom)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("http shutdown failed", zap.Error(err))
	}
	cancelRoot()
	queue.Stop()
}
