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
	"judgeflow/internal/judge/controller"
	"judgeflow/internal/judge/executor"
	"judgeflow/internal/judge/orchestrator"
	"judgeflow/internal/judge/repository"
	"judgeflow/internal/judge/service"
	"judgeflow/internal/stats"
	"judgeflow/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/judge_service.yaml"

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

	objStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
	if err != nil {
		logger.Error(context.Background(), "init minio failed", zap.Error(err))
		return
	}

	mqClient, err := mq.NewKafkaQueue(appCfg.Kafka.toMQConfig())
	if err != nil {
		logger.Error(context.Background(), "init kafka failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mqClient.Close()
	}()

	exec, callbacks, err := buildExecutor(appCfg.Executor)
	if err != nil {
		logger.Error(context.Background(), "init executor failed", zap.Error(err))
		return
	}

	sources, err := repository.NewSourceRepository(objStorage, appCfg.Source.Bucket)
	if err != nil {
		logger.Error(context.Background(), "init source repository failed", zap.Error(err))
		return
	}
	statsSvc, err := stats.NewService(stats.NewRepository(database), redisCache, appCfg.Stats)
	if err != nil {
		logger.Error(context.Background(), "init stats service failed", zap.Error(err))
		return
	}
	statusRepo := repository.NewStatusRepository(redisCache, appCfg.Status.TTL)

	judgeSvc, err := service.NewService(service.Config{
		Judger:             orchestrator.New(exec),
		DB:                 database,
		Submissions:        repository.NewSubmissionRepository(database, redisCache),
		Problems:           repository.NewProblemRepository(database, redisCache),
		Sources:            sources,
		Stats:              statsSvc,
		StatusRepo:         statusRepo,
		Publisher:          repository.NewMQStatusEventPublisher(mqClient, appCfg.Status.FinalTopic),
		Locks:              redisCache,
		Queue:              mqClient,
		RetryTopic:         appCfg.Kafka.RetryTopic,
		DeadLetterTopic:    appCfg.Kafka.DeadLetter,
		PoolRetryMax:       appCfg.Kafka.PoolRetryMax,
		PoolRetryBaseDelay: appCfg.Kafka.PoolRetryBase,
		PoolRetryMaxDelay:  appCfg.Kafka.PoolRetryMaxD,
		CallbackToken:      appCfg.Callback.Token,
		JudgeTimeout:       appCfg.Worker.Timeout,
		StorageTimeout:     appCfg.Source.Timeout,
		StatusTimeout:      appCfg.Status.Timeout,
		SlotTimeout:        appCfg.Worker.SlotTimeout,
		LockTTL:            appCfg.Worker.LockTTL,
		WorkerPoolSize:     appCfg.Worker.PoolSize,
	})
	if err != nil {
		logger.Error(context.Background(), "init judge service failed", zap.Error(err))
		return
	}

	weightedTopics, err := appCfg.Kafka.weightedTopics()
	if err != nil {
		logger.Error(context.Background(), "invalid kafka topics", zap.Error(err))
		return
	}
	limiter := mq.NewTokenLimiter(appCfg.Worker.PoolSize)
	err = mqClient.SubscribeWeighted(context.Background(), weightedTopics, judgeSvc.HandleMessage, &mq.SubscribeOptions{
		ConsumerGroup:   appCfg.Kafka.ConsumerGroup,
		Concurrency:     appCfg.Kafka.Concurrency,
		MaxRetries:      appCfg.Kafka.MaxRetries,
		RetryDelay:      appCfg.Kafka.RetryDelay,
		DeadLetterTopic: appCfg.Kafka.DeadLetter,
		MessageTTL:      appCfg.Kafka.MessageTTL,
	}, limiter)
	if err != nil {
		logger.Error(context.Background(), "subscribe kafka failed", zap.Error(err))
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
	judgeController := controller.NewJudgeController(judgeSvc, callbacks, appCfg.Status.Stream)
	httpServer := buildHTTPServer(appCfg.Server, judgeController, verifier)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(context.Background(), "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "judge http server started",
			zap.String("addr", appCfg.Server.Addr),
			zap.String("executor", appCfg.Executor.Mode),
		)
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

	// Stop consuming first so in-flight judgments can still reach the
	// remote executor callback route while they drain.
	_ = mqClient.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
}

// buildExecutor returns the configured backend. The registry is non-nil
// only for the remote backend.
func buildExecutor(cfg ExecutorConfig) (executor.Executor, *executor.CallbackRegistry, error) {
	if cfg.Mode == "remote" {
		registry := executor.NewCallbackRegistry(cfg.Remote.CallbackToken)
		remote, err := executor.NewRemote(cfg.Remote, registry, nil)
		if err != nil {
			return nil, nil, err
		}
		return remote, registry, nil
	}
	local, err := executor.NewLocal(cfg.Local)
	if err != nil {
		return nil, nil, err
	}
	return local, nil, nil
}

func buildHTTPServer(cfg ServerConfig, judgeController *controller.JudgeController, verifier *commonmw.TokenVerifier) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(requestLogger())

	router.GET("/healthz", judgeController.Health)

	auth := commonmw.JWTAuth(verifier)
	api := router.Group("/api/v1/judge")
	api.GET("/submissions/:id/status", auth, judgeController.GetStatus)
	api.GET("/submissions/:id/stream", auth, judgeController.Stream)
	api.POST("/submissions/:id/result", judgeController.DelegatedResult)
	api.POST("/executor/callback", judgeController.ExecutorCallback)
	api.POST("/run", auth, judgeController.RunSample)

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
