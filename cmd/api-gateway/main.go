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
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/booth-checkin/api/swagger"
	"github.com/noah-isme/booth-checkin/internal/handler"
	internalmiddleware "github.com/noah-isme/booth-checkin/internal/middleware"
	"github.com/noah-isme/booth-checkin/internal/models"
	"github.com/noah-isme/booth-checkin/internal/repository"
	"github.com/noah-isme/booth-checkin/internal/service"
	"github.com/noah-isme/booth-checkin/pkg/cache"
	"github.com/noah-isme/booth-checkin/pkg/config"
	"github.com/noah-isme/booth-checkin/pkg/database"
	"github.com/noah-isme/booth-checkin/pkg/logger"
	corsmiddleware "github.com/noah-isme/booth-checkin/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/booth-checkin/pkg/middleware/requestid"
)

// @title Booth Check-in API
// @version 1.0.0
// @description Records career-fair booth visits exactly once per student and organization.
// @BasePath /api/v1
// @schemes http https

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg, "api-gateway")
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close()
	if err := database.MigratePostgres(ctx, db); err != nil {
		logr.Fatal("failed to migrate database", zap.Error(err))
	}

	metricsSvc := service.NewMetricsService()

	var snapshotStore service.SnapshotStore
	if cfg.Identifiers.CacheEnabled {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, identifier snapshot served uncached", zap.Error(err))
		} else {
			repo := repository.NewCacheRepository(redisClient, "booth-checkin", logr)
			defer repo.Close()
			snapshotStore = repo
		}
	}
	snapshotCache := service.NewSnapshotCache(snapshotStore, cfg.Identifiers.CacheTTL, metricsSvc, logr)

	visitRepo := repository.NewVisitRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	organizationRepo := repository.NewOrganizationRepository(db)

	visitSvc, err := service.NewVisitService(visitRepo, validator.New(), metricsSvc, logr, service.VisitServiceConfig{
		MaxTxRetries: cfg.Visits.MaxTxRetries,
		RetryBackoff: cfg.Visits.RetryBackoff,
	})
	if err != nil {
		logr.Fatal("failed to init visit service", zap.Error(err))
	}
	studentSvc := service.NewStudentService(studentRepo, visitSvc, logr)
	organizationSvc := service.NewOrganizationService(organizationRepo, logr)
	identifierSvc := service.NewIdentifierService(studentRepo, snapshotCache, logr)
	// a restart after a roster import must not serve the previous snapshot
	if err := identifierSvc.Invalidate(ctx); err != nil {
		logr.Warn("identifier snapshot not invalidated", zap.Error(err))
	}

	visitHandler := handler.NewVisitHandler(visitSvc)
	studentHandler := handler.NewStudentHandler(studentSvc, identifierSvc)
	organizationHandler := handler.NewOrganizationHandler(organizationSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc, map[string]handler.ReadinessCheck{
		"postgres": db.PingContext,
	})

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)
	r.GET("/metrics/summary", metricsHandler.Summary)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	if cfg.JWT.Enabled {
		api.Use(internalmiddleware.JWT(service.NewTokenVerifier(cfg.JWT.Secret)))
	}

	staff := []models.UserRole{models.RoleStaff, models.RoleDevice, models.RoleAdmin}
	guard := func(h gin.HandlerFunc) gin.HandlerFunc {
		if !cfg.JWT.Enabled {
			return func(c *gin.Context) { c.Next() }
		}
		return h
	}
	staffOrSelf := []string{internalmiddleware.SelfAccess}
	for _, role := range staff {
		staffOrSelf = append(staffOrSelf, string(role))
	}

	api.POST("/visits", guard(internalmiddleware.RequireRoles(append(staff, models.RoleStudent)...)), visitHandler.Record)
	api.GET("/students/identifiers", guard(internalmiddleware.RequireRoles(staff...)), studentHandler.Identifiers)
	api.GET("/students/:id", guard(internalmiddleware.RBAC(staffOrSelf...)), studentHandler.Get)
	api.GET("/organizations/:id", guard(internalmiddleware.RequireRoles(staff...)), organizationHandler.Get)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "auth", cfg.JWT.Enabled)
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
