package main

import (
	"context"
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

	_ "github.com/nexdoc/dms-api/api/swagger"
	"github.com/nexdoc/dms-api/internal/handler"
	"github.com/nexdoc/dms-api/internal/middleware"
	"github.com/nexdoc/dms-api/internal/models"
	"github.com/nexdoc/dms-api/internal/repository"
	"github.com/nexdoc/dms-api/internal/service"
	"github.com/nexdoc/dms-api/internal/upstream"
	"github.com/nexdoc/dms-api/pkg/cache"
	"github.com/nexdoc/dms-api/pkg/config"
	"github.com/nexdoc/dms-api/pkg/database"
	"github.com/nexdoc/dms-api/pkg/logger"
	corsmiddleware "github.com/nexdoc/dms-api/pkg/middleware/cors"
	reqidmiddleware "github.com/nexdoc/dms-api/pkg/middleware/requestid"
)

// @title NexDoc DMS API
// @version 1.0.0
// @description Document management API with multi-level approval workflows
// @BasePath /api/v1
// @schemes http

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
	sugar := logr.Sugar()

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		sugar.Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		sugar.Warnw("redis unavailable, status caching disabled", "error", err)
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	validate := validator.New()

	approvalRepo := repository.NewApprovalRepository(db)
	documentRepo := repository.NewDocumentRepository(db)
	userRepo := repository.NewUserRepository(db)
	matrixRepo := repository.NewMatrixRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	metrics := service.NewMetricsService()
	reconciler := service.NewStatusReconciler(logr)

	notifications := service.NewNotificationService(cfg.Notifications, logr)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	notifications.Start(ctx)
	defer notifications.Stop()

	workflowCfg := service.WorkflowServiceConfig{
		DefaultRule:    service.ParseRule(cfg.Workflow.DefaultRule),
		StatusCacheTTL: cfg.Workflow.StatusCacheTTL,
	}

	workflowDeps := service.WorkflowDeps{
		Approvals:  approvalRepo,
		Documents:  documentRepo,
		Matrix:     matrixRepo,
		Users:      userRepo,
		Cache:      cacheRepo,
		Notifier:   notifications,
		Audit:      auditRepo,
		Reconciler: reconciler,
		Metrics:    metrics,
		Validator:  validate,
		Logger:     logr,
	}
	// Leave Legacy nil when disabled; a typed nil pointer would defeat the
	// nil checks inside the engine.
	if legacyClient := upstream.NewLegacyClient(cfg.Legacy, logr); legacyClient != nil {
		workflowDeps.Legacy = legacyClient
	}
	workflow := service.NewWorkflowService(workflowDeps, workflowCfg)

	authService := service.NewAuthService(userRepo, auditRepo, validate, logr, service.AuthConfig{
		Secret:     cfg.JWT.Secret,
		Expiration: cfg.JWT.Expiration,
		Issuer:     cfg.JWT.Issuer,
	})
	documentService := service.NewDocumentService(documentRepo, validate, logr)
	userService := service.NewUserService(userRepo, logr)
	exportService := service.NewExportService()

	authHandler := handler.NewAuthHandler(authService)
	documentHandler := handler.NewDocumentHandler(documentService)
	approvalHandler := handler.NewApprovalHandler(workflow, exportService)
	matrixHandler := handler.NewMatrixHandler(matrixRepo)
	userHandler := handler.NewUserHandler(userService)
	metricsHandler := handler.NewMetricsHandler(metrics)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "component": "database"})
			return
		}
		if redisClient != nil {
			if err := redisClient.Ping(c.Request.Context()).Err(); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "component": "redis"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group("/api/v1")
	api.POST("/auth/login", authHandler.Login)

	authed := api.Group("")
	authed.Use(middleware.JWT(authService))
	authed.GET("/auth/me", authHandler.Me)

	authed.GET("/documents", documentHandler.List)
	authed.POST("/documents", documentHandler.Create)
	authed.GET("/documents/:id", documentHandler.Get)
	authed.PUT("/documents/:id", documentHandler.Update)
	authed.DELETE("/documents/:id", middleware.RequireRoles(models.RoleAdmin, models.RoleManager), documentHandler.Delete)

	authed.GET("/documents/:id/approvals", approvalHandler.Status)
	authed.POST("/documents/:id/approvals", approvalHandler.RequestApproval)
	authed.POST("/documents/:id/approvals/:requestId/decision", approvalHandler.Decide)
	authed.GET("/documents/:id/approvals/history", approvalHandler.History)
	authed.GET("/documents/:id/approvals/export", approvalHandler.Export)

	authed.GET("/matrix", matrixHandler.Get)

	authed.GET("/users", middleware.RequireRoles(models.RoleAdmin, models.RoleManager), userHandler.List)
	authed.GET("/users/:id", middleware.RequireRoles(models.RoleAdmin, models.RoleManager, "SELF"), userHandler.Get)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		sugar.Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	sugar.Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		sugar.Errorw("graceful shutdown failed", "error", err)
	}
}
