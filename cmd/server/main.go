// Package main runs the casting API server with WebSocket events and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/castline/backend/config"
	"github.com/castline/backend/internal/auth"
	"github.com/castline/backend/internal/candidates"
	"github.com/castline/backend/internal/exports"
	"github.com/castline/backend/internal/metrics"
	"github.com/castline/backend/internal/middleware"
	"github.com/castline/backend/internal/organizations"
	"github.com/castline/backend/internal/productions"
	"github.com/castline/backend/internal/realtime"
	"github.com/castline/backend/internal/store"
	"github.com/castline/backend/internal/submissions"
	"github.com/castline/backend/pkg/database"
	"github.com/castline/backend/pkg/queue"
	"github.com/castline/backend/pkg/redis"
	"github.com/castline/backend/pkg/response"
	"github.com/castline/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if cfg.App.AutoMigrate {
		if err := database.Migrate(ctx, pool, logger); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	s3Client, err := storage.NewS3(ctx, storage.S3Config{
		Region:               cfg.AWS.Region,
		AccessKeyID:          cfg.AWS.AccessKeyID,
		SecretAccessKey:      cfg.AWS.SecretAccessKey,
		Endpoint:             cfg.AWS.Endpoint,
		ExportsBucket:        cfg.AWS.ExportsBucket,
		PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
	}, logger)
	if err != nil {
		logger.Fatal("s3", zap.Error(err))
	}

	st := store.NewPostgres(pool)
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.TTL())

	// Organizations and membership
	orgService := organizations.NewService(st, hub, logger)
	orgHandler := organizations.NewHandler(orgService, logger)

	// Identity
	authRepo := auth.NewRepository(st)
	resolver := auth.NewResolver(auth.NewRedisSessionStore(rdb.Client), orgService, cfg.JWT.TTL(), logger)
	authHandler := auth.NewHandler(authRepo, jwtService, resolver, orgService, logger)

	// Casting
	productionHandler := productions.NewHandler(productions.NewService(st, hub, logger), logger)
	candidateHandler := candidates.NewHandler(candidates.NewService(st), logger)
	submissionHandler := submissions.NewHandler(submissions.NewService(st, hub, logger), logger)
	exportHandler := exports.NewHandler(exports.NewService(st, jobQueue, s3Client, logger), logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.Logger(logger))
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(metrics.Middleware())

	router.GET("/health", func(c *gin.Context) {
		response.OK(c, gin.H{"status": "ok"})
	})
	router.GET("/metrics", metrics.Handler())

	maintenance := middleware.Maintenance(cfg.App.MaintenanceMode)

	authGroup := router.Group("/auth", maintenance)
	{
		authGroup.POST("/register", authHandler.Register)
		authGroup.POST("/login", authHandler.Login)
	}

	// Public casting pages and submission intake (no JWT)
	public := router.Group("/public", maintenance)
	{
		public.GET("/organizations/:orgId", submissionHandler.GetOrganization)
		public.GET("/organizations/:orgId/productions", submissionHandler.ListProductions)
		public.GET("/organizations/:orgId/productions/:productionId", submissionHandler.GetProduction)
		public.GET("/submit/:orgId/:productionId/:roleId", submissionHandler.GetRole)
		public.POST("/submit/:orgId/:productionId/:roleId", submissionHandler.Submit)
	}

	api := router.Group("", maintenance, middleware.JWT(jwtService))
	{
		api.GET("/me", authHandler.Me)
		api.PUT("/me/active-organization", authHandler.SetActiveOrganization)

		api.GET("/organizations", orgHandler.ListMyOrganizations)
		api.POST("/organizations", orgHandler.CreateOrganization)

		org := api.Group("/organizations/:orgId")
		org.GET("", orgHandler.GetOrganization)
		org.PATCH("", orgHandler.UpdateOrganization)

		org.GET("/members", orgHandler.ListMembers)
		org.POST("/members", orgHandler.InviteMember)
		org.PATCH("/members/:memberId", orgHandler.ChangeMemberRole)
		org.DELETE("/members/:memberId", orgHandler.RemoveMember)
		org.POST("/members/:memberId/transfer-ownership", orgHandler.TransferOwnership)

		org.GET("/productions", productionHandler.List)
		org.POST("/productions", productionHandler.Create)
		org.GET("/productions/:productionId", productionHandler.Get)
		org.POST("/productions/:productionId/roles", productionHandler.CreateRole)
		org.POST("/productions/:productionId/exports", exportHandler.Request)

		org.GET("/candidates", candidateHandler.List)
		org.GET("/exports/:exportId", exportHandler.Get)
	}

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", maintenance, realtime.ServeWs(hub, jwtService, orgService, cfg.Server.CORSAllowedOrigins, logger))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port), zap.String("env", cfg.App.Env))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
