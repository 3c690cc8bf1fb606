package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"bankfeed/internal/config"
	"bankfeed/internal/db"
	"bankfeed/internal/handler"
	"bankfeed/internal/lock"
	"bankfeed/internal/logger"
	"bankfeed/internal/notify"
	"bankfeed/internal/provider"
	"bankfeed/internal/queue"
	gormrepository "bankfeed/internal/repository/gorm"
	"bankfeed/internal/scheduler"
	"bankfeed/internal/syncer"
	"bankfeed/internal/webhook"
	"bankfeed/internal/worker"
)

func main() {
	cfgPath := os.Getenv("BF_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("BF_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer dbConn.Close()

	if err := dbConn.SetTimezone(cfg.DB.Timezone); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}
	if err := dbConn.AutoMigrate(); err != nil {
		logger.Fatal("auto-migrate failed", zap.Error(err))
	}

	var redisClient *redis.Client
	var locks lock.Locker
	if strings.EqualFold(cfg.Queue.Backend, "memory") {
		locks = lock.NewMemoryLocker()
	} else {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Fatal("redis unreachable", zap.Error(err))
		}
		locks = lock.NewRedisLocker(redisClient)
	}

	store, err := queue.New(cfg.Queue, redisClient)
	if err != nil {
		logger.Fatal("queue init failed", zap.Error(err))
	}

	repo := gormrepository.New(dbConn.Gorm)
	providerHTTP := &http.Client{Timeout: cfg.Provider.Timeout}
	providerClient := provider.NewHTTPClient(providerHTTP, cfg.Provider.BaseURL, cfg.Provider.APIKey)

	orchestrator := &syncer.Orchestrator{
		Repo:     repo,
		Provider: providerClient,
		Locks:    locks,
		Logger:   logger,
		LockTTL:  cfg.Worker.JobTimeout + time.Minute,
	}
	ingestor := &webhook.Ingestor{
		Secret:      cfg.Webhook.Secret,
		Repo:        repo,
		Store:       store,
		SyncQueue:   cfg.Queue.SyncQueue,
		NotifyQueue: cfg.Queue.NotifyQueue,
		Logger:      logger,
	}
	notifier := &notify.Service{
		Repo:   repo,
		Config: cfg.Notify,
		Logger: logger,
	}
	syncScheduler := &scheduler.Scheduler{
		Repo:      repo,
		Store:     store,
		Logger:    logger,
		SyncQueue: cfg.Queue.SyncQueue,
		Staleness: cfg.Scheduler.Staleness,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reporter := &worker.DeadLetterReporter{Repo: repo, Logger: logger}
	pool := &worker.Pool{
		Store:  store,
		Logger: logger,
		Policy: worker.RetryPolicy{
			MaxAttempts: cfg.Queue.MaxAttempts,
			BaseDelay:   cfg.Worker.BaseDelay,
			MaxDelay:    cfg.Worker.MaxDelay,
		},
		Queues:       []string{cfg.Queue.SyncQueue, cfg.Queue.NotifyQueue},
		Concurrency:  cfg.Worker.Concurrency,
		PollInterval: cfg.Worker.PollInterval,
		JobTimeout:   cfg.Worker.JobTimeout,
		OnDead:       reporter.Report,
	}
	pool.Register(queue.JobSync, worker.SyncHandler(orchestrator))
	pool.Register(queue.JobProcessWebhook, worker.WebhookHandler(ingestor))
	pool.Register(queue.JobNotify, worker.NotifyHandler(notifier))
	pool.Start(ctx)

	cronRunner := scheduler.NewRunner(logger, ctx)
	if cfg.Scheduler.Enabled {
		_, err := cronRunner.Add(cfg.Scheduler.Spec, func(ctx context.Context) {
			if _, err := syncScheduler.RunDue(ctx); err != nil {
				logger.Warn("cron scheduler tick failed", zap.Error(err))
			}
		})
		if err != nil {
			logger.Fatal("cron add failed", zap.Error(err))
		}
		cronRunner.Start()
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(handler.CORS())

	healthHandler := &handler.HealthHandler{DB: dbConn.Gorm, Redis: redisClient}
	healthHandler.Register(engine)
	webhookHandler := &handler.WebhookHandler{
		Ingestor:    ingestor,
		Logger:      logger,
		MaxBodySize: cfg.Webhook.MaxBodySize,
	}
	webhookHandler.Register(engine)

	api := engine.Group("/api/v1")
	api.Use(handler.RequireBearer(cfg.Auth.JWTSecret))
	triggerHandler := &handler.TriggerHandler{
		Scheduler: syncScheduler,
		Logger:    logger,
		SyncToken: cfg.Auth.SyncToken,
	}
	triggerHandler.Register(api)
	statusHandler := &handler.StatusHandler{
		Store:  store,
		Queues: []string{cfg.Queue.SyncQueue, cfg.Queue.NotifyQueue},
	}
	statusHandler.Register(api)
	connectionHandler := &handler.ConnectionHandler{
		Repo:      repo,
		Scheduler: syncScheduler,
		Logger:    logger,
		Staleness: cfg.Scheduler.Staleness,
	}
	connectionHandler.Register(api)

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", zap.Error(err))
	}
	if cfg.Scheduler.Enabled {
		cronRunner.Stop()
	}
	pool.Stop()
	if err := store.Close(); err != nil {
		logger.Warn("queue close failed", zap.Error(err))
	}
	logger.Info("bye")
}
