package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqcontracts "timelineboard/contracts/mq"
	"timelineboard/internal/apiclient"
	"timelineboard/internal/board"
	"timelineboard/internal/cache"
	"timelineboard/internal/config"
	"timelineboard/internal/handler"
	"timelineboard/internal/httpserver"
	"timelineboard/pkg/circuitbreaker"
	pkgconfig "timelineboard/pkg/config"
	"timelineboard/pkg/db"
	"timelineboard/pkg/logger"
	"timelineboard/pkg/mq"
	"timelineboard/pkg/otel"
	"timelineboard/pkg/outbox"
	"timelineboard/pkg/redis"
	"timelineboard/pkg/util"

	"go.uber.org/zap"
)

var errMQDisconnected = errors.New("mq connection closed")

func main() {
	cfg, err := config.Load(pkgconfig.GetEnv("CONFIG_PATH", "config.yaml"))
	if err != nil {
		panic(err)
	}

	log := logger.NewLogger(cfg.Debug)
	defer log.Sync()

	log.Info("Starting timelineboard...",
		zap.String("backend_url", cfg.Backend.URL),
		zap.String("port", cfg.Server.Port),
		zap.Bool("db_enabled", cfg.DB.Enabled()),
		zap.Bool("redis_enabled", cfg.Redis.Addr != ""),
		zap.Bool("mq_enabled", cfg.MQ.URL != ""),
	)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	shutdownTracing, err := otel.Init(otel.Config{
		ServiceName:    "timelineboard",
		ServiceVersion: "1.0.0",
		Endpoint:       cfg.OTel.Endpoint,
		SampleRatio:    cfg.OTel.SampleRatio,
		Enabled:        cfg.OTel.Enabled,
	}, log)
	if err != nil {
		log.Warn("Failed to init OpenTelemetry, continuing without tracing", zap.Error(err))
		shutdownTracing = func() {}
	}
	defer shutdownTracing()

	// Backend clients：用户请求转发用户 token，outbox 重放使用服务 token
	breaker := circuitbreaker.DefaultConfig()
	userClient := apiclient.NewClient(cfg.Backend.URL, cfg.Backend.Timeout(),
		apiclient.WithLogger(log),
		apiclient.WithCircuitBreaker(breaker),
	)
	serviceClient := apiclient.NewClient(cfg.Backend.URL, cfg.Backend.Timeout(),
		apiclient.WithLogger(log),
		apiclient.WithCircuitBreaker(breaker),
		apiclient.WithTokenSource(apiclient.StaticToken(cfg.Backend.ServiceToken)),
	)

	checks := map[string]httpserver.ReadinessCheck{}
	var opts []board.Option
	var recordCache board.RecordCache

	// Redis（可选）：加载缓存 + 重复提交过滤
	if cfg.Redis.Addr != "" {
		log.Info("Initializing Redis connection...", zap.String("addr", cfg.Redis.Addr))
		rdb, err := redis.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			log.Fatal("Failed to init Redis", zap.Error(err))
		}
		defer rdb.Close()

		recordCache = cache.NewTimelineCache(rdb, cfg.Redis.CacheTTL(), log)
		opts = append(opts, board.WithDeduper(util.NewDeduper(rdb, cfg.DedupTTL(), log)))
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		log.Info("Redis connection established successfully")
	}

	// MQ（可选）：事件发布 + 跨实例失效
	var publisher *mq.Publisher
	if cfg.MQ.URL != "" {
		log.Info("Initializing MQ publisher...")
		publisher, err = mq.NewPublisher(cfg.MQ.URL)
		if err != nil {
			log.Fatal("Failed to init MQ publisher", zap.Error(err))
		}
		defer publisher.Close()
		opts = append(opts, board.WithPublisher(publisher))
		checks["mq"] = func(context.Context) error {
			if !publisher.IsConnected() {
				return errMQDisconnected
			}
			return nil
		}
	}

	// DB（可选）：同步 outbox
	var dispatcher *outbox.Dispatcher
	if cfg.DB.Enabled() {
		log.Info("Initializing database connection...")
		dbConn, err := db.NewConnection(ctx, cfg.DB, log)
		if err != nil {
			log.Fatal("Failed to init DB", zap.Error(err))
		}
		defer dbConn.Close()

		repo := outbox.NewRepository(dbConn)
		if err := repo.EnsureSchema(ctx); err != nil {
			log.Fatal("Failed to ensure outbox schema", zap.Error(err))
		}
		opts = append(opts, board.WithQueue(repo))
		checks["db"] = dbConn.Ping

		var outboxPublisher outbox.Publisher
		if publisher != nil {
			outboxPublisher = publisher
		}
		dispatcher = outbox.NewDispatcher(repo, outboxPublisher, log)
		if cfg.Outbox.MaxRetries > 0 {
			dispatcher.WithMaxRetries(cfg.Outbox.MaxRetries)
		}
		if cfg.Outbox.BatchSize > 0 {
			dispatcher.WithBatchSize(cfg.Outbox.BatchSize)
		}
		dispatcher.WithInterval(cfg.Outbox.Interval())
		log.Info("Database connection established successfully")
	}

	opts = append(opts, board.WithReplayAPI(serviceClient))
	loader := board.NewLoader(userClient, recordCache, log)
	registry := board.NewRegistry(userClient, loader, log, opts...)
	go registry.StartJanitor(ctx, cfg.ViewIdleTTL()/2, cfg.ViewIdleTTL())

	if dispatcher != nil {
		dispatcher.
			Handle(mqcontracts.RoutingStatusSync, registry.HandleStatusSync).
			OnGiveUp(registry.HandleSyncGiveUp)
		go dispatcher.Start(ctx)
	}

	if cfg.MQ.URL != "" {
		consumer, err := mq.NewConsumer(cfg.MQ.URL, "", "timeline.#", log)
		if err != nil {
			log.Fatal("Failed to init consumer", zap.Error(err))
		}
		defer consumer.Close()
		consumer.SetHandler(registry.HandleEvent)

		go func() {
			log.Info("Starting timeline.# consumer...")
			if err := consumer.StartConsuming(ctx); err != nil {
				log.Error("Timeline consumer stopped", zap.Error(err))
			}
		}()
	}

	// HTTP Server
	timelineHandler := handler.NewTimelineHandler(registry, cfg.Layout, log)
	router := httpserver.NewRouter(timelineHandler, cfg.JWT.Secret, checks, log)

	srv := &http.Server{
		Addr:              cfg.Server.Port,
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("HTTP server starting", zap.String("addr", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	log.Info("timelineboard is fully initialized and running")

	// 优雅退出处理
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down timelineboard gracefully...")

	// 停止 dispatcher 和消费者
	stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		log.Info("HTTP server stopped")
	}

	log.Info("timelineboard shutdown complete")
}
