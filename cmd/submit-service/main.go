package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"judgeflow/internal/common/cache"
	"judgeflow/internal/common/db"
	commonmw "judgeflow/internal/common/http/middleware"
	"judgeflow/internal/common/mq"
	"judgeflow/internal/common/storage"
	"judgeflow/internal/judge/repository"
	"judgeflow/internal/stats"
	"judgeflow/internal/submit/controller"
	"judgeflow/internal/submit/service"
	"judgeflow/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/submit_service.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	database, err := db.Open(appCfg.Database)
	if err != nil {
		logger.Error(context.Background(), "init database failed", zap.Error(err))
		return
	}
	defer func() {
		_ = database.Close()
	}()

	redisCache, err := cache.NewRedisCache(appCfg.Redis)
	if err != nil {
		logger.Error(context.Background(), "init redis failed", zap.Error(err))
		return
	}
	defer func() {
		_ = redisCache.Close()
	}()

	mqClient, err := mq.NewKafkaQueue(appCfg.Kafka.toMQConfig())
	if err != nil {
		logger.Error(context.Background(), "init kafka failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mqClient.Close()
	}()

	objStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
	if err != nil {
		logger.Error(context.Background(), "init minio failed", zap.Error(err))
		return
	}
	bucketCtx, bucketCancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = objStorage.EnsureBucket(bucketCtx, appCfg.Submit.SourceBucket)
	bucketCancel()
	if err != nil {
		logger.Error(context.Background(), "ensure source bucket failed", zap.Error(err))
		return
	}
	sources, err := repository.NewSourceRepository(objStorage, appCfg.Submit.SourceBucket)
	if err != nil {
		logger.Error(context.Background(), "init source repository failed", zap.Error(err))
		return
	}

	statsSvc, err := stats.NewService(stats.NewRepository(database), redisCache, appCfg.Stats)
	if err != nil {
		logger.Error(context.Background(), "init stats service failed", zap.Error(err))
		return
	}

	submitService, err := service.NewSubmitService(service.Config{
		Submissions:    repository.NewSubmissionRepository(database, redisCache),
		Problems:       repository.NewProblemRepository(database, redisCache),
		Sources:        sources,
		StatusRepo:     repository.NewStatusRepository(redisCache, appCfg.Submit.StatusTTL),
		Stats:          statsSvc,
		Queue:          mqClient,
		Cache:          redisCache,
		JudgeTopic:     appCfg.Kafka.JudgeTopic,
		MaxCodeBytes:   appCfg.Submit.MaxCodeBytes,
		IdempotencyTTL: appCfg.Submit.IdempotencyTTL,
		RateLimit:      appCfg.Submit.RateLimit,
		Timeouts:       appCfg.Submit.Timeouts,
	})
	if err != nil {
		logger.Error(context.Background(), "init submit service failed", zap.Error(err))
		return
	}

	if err := mqClient.Subscribe(context.Background(), appCfg.Kafka.FinalTopic, submitService.HandleFinalStatusMessage, appCfg.Kafka.statusSubscribeOptions()); err != nil {
		logger.Error(context.Background(), "subscribe status final topic failed", zap.Error(err))
		return
	}
	if err := mqClient.Start(); err != nil {
		logger.Error(context.Background(), "start kafka consumer failed", zap.Error(err))
		return
	}

	verifier, err := commonmw.NewTokenVerifier(appCfg.Auth)
	if err != nil {
		logger.Error(context.Background(), "init token verifier failed", zap.Error(err))
		return
	}

	httpServer := buildHTTPServer(appCfg.Server, submitService, verifier)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(context.Background(), "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "submit http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
	_ = mqClient.Stop()
}

func buildHTTPServer(cfg ServerConfig, submitService *service.SubmitService, verifier *commonmw.TokenVerifier) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	submitController := controller.NewSubmitController(submitService)
	api := router.Group("/api/v1", commonmw.JWTAuth(verifier))
	api.POST("/submissions", submitController.Create)
	api.GET("/submissions/:id", submitController.Get)
	api.GET("/users/:userId/submissions", submitController.ListByUser)
	api.GET("/users/:userId/stats", submitController.GetUserStats)

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		logger.Info(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
