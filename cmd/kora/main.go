package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"log/slog"

	"github.com/BraydenSmith1/kora/internal/config"
	"github.com/BraydenSmith1/kora/internal/consumer"
	"github.com/BraydenSmith1/kora/internal/handlers"
	"github.com/BraydenSmith1/kora/internal/ledger"
	"github.com/BraydenSmith1/kora/internal/notary"
	"github.com/BraydenSmith1/kora/internal/settle"
	"github.com/BraydenSmith1/kora/internal/storage"
	"github.com/BraydenSmith1/kora/libs/health"
	"github.com/BraydenSmith1/kora/libs/httpmiddleware"
	"github.com/BraydenSmith1/kora/libs/kafka"
	"github.com/BraydenSmith1/kora/libs/logging"
	"github.com/BraydenSmith1/kora/libs/metrics"
	"github.com/BraydenSmith1/kora/libs/trace"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.App.LogLevel, cfg.App.ServiceName, cfg.App.Env)
	shutdownTracer, err := trace.InitTracer(cfg.App.ServiceName, cfg.App.Env)
	if err != nil {
		logger.Error("tracer init failed", "error", err)
	} else {
		defer func() {
			_ = shutdownTracer(context.Background())
		}()
	}

	if cfg.App.Env == "dev" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(registry)

	ledgerMetrics := ledger.NewMetrics(registry)
	settleMetrics := settle.NewMetrics(registry)
	kafkaMetrics := kafka.NewProducerMetrics(registry)

	ready := health.NewManager(false)

	pool, err := connectDB(cfg)
	if err != nil {
		logger.Error("db connection failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	store := storage.New(pool, logger)
	wallets := ledger.New(pool, logging.WithComponent(logger, "ledger"), ledgerMetrics)

	tradeNotary, err := buildNotary(cfg, logger)
	if err != nil {
		logger.Error("chain notary init failed", "error", err)
		os.Exit(1)
	}

	locker := buildLocker(cfg, logger)

	var producer *kafka.SyncProducer
	var publisher kafka.Publisher
	if cfg.Kafka.Enabled {
		producer, err = kafka.NewSyncProducer(cfg.Kafka.Brokers, logger, kafkaMetrics)
		if err != nil {
			logger.Error("kafka producer init failed", "error", err)
			os.Exit(1)
		}
		defer producer.Close()
		publisher = producer
		if strings.TrimSpace(cfg.Kafka.Topics.DeadLetter) != "" {
			publisher = kafka.NewDLQPublisher(producer, producer, cfg.Kafka.Topics.DeadLetter, logger)
		}
	}

	orchestratorOpts := []settle.Option{
		settle.WithReceiptTimeout(cfg.Chain.ReceiptTimeout),
		settle.WithMetrics(settleMetrics),
	}
	if publisher != nil {
		orchestratorOpts = append(orchestratorOpts, settle.WithProducer(publisher, cfg.Kafka.Topics.TradesSettled))
	}
	orchestrator := settle.New(store, wallets, tradeNotary, locker,
		logging.WithComponent(logger, "settle"), orchestratorOpts...)

	handler := handlers.New(store, wallets, orchestrator,
		[]byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL, logger)
	if publisher != nil {
		handler = handler.WithProducer(publisher, cfg.Kafka.Topics.OrdersPosted)
	}

	httpServer := buildHTTPServer(cfg, handler, ready, registry, logger)

	consumerCtx, consumerCancel := context.WithCancel(context.Background())
	defer consumerCancel()

	var consumerGroup *kafka.Consumer
	if cfg.Kafka.Enabled {
		consumerGroup, err = kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, logger)
		if err != nil {
			logger.Error("kafka consumer init failed", "error", err)
			os.Exit(1)
		}
		defer consumerGroup.Close()

		orderConsumer := consumer.NewOrderConsumer(orchestrator, logging.WithComponent(logger, "consumer"))
		go func() {
			logger.Info("order consumer starting", "topic", cfg.Kafka.Topics.OrdersPosted)
			if err := consumerGroup.Consume(consumerCtx, []string{cfg.Kafka.Topics.OrdersPosted}, orderConsumer); err != nil {
				logger.Error("kafka consumer error", "error", err)
			}
		}()
	}

	ready.SetReady(true)

	go func() {
		logger.Info("kora http starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	waitForShutdown(httpServer, ready, consumerCancel, logger)
}

func connectDB(cfg *config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DB.DSN())
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func buildNotary(cfg *config.Config, logger *slog.Logger) (notary.Notary, error) {
	if !cfg.Chain.Enabled() {
		logger.Info("chain notary not configured, using mock receipts")
		return notary.NewMockNotary(logging.WithComponent(logger, "notary")), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return notary.NewChainNotary(ctx,
		cfg.Chain.RPCURL,
		cfg.Chain.PrivateKey,
		cfg.Chain.ContractAddress,
		cfg.Chain.ReceiptTimeout,
		logging.WithComponent(logger, "notary"))
}

// buildLocker always includes the in-process locker; with Redis configured a
// distributed lease is layered on top so replicas exclude each other too.
func buildLocker(cfg *config.Config, logger *slog.Logger) settle.Locker {
	local := settle.NewLocalLocker()
	if cfg.Redis.Addr == "" {
		return local
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	logger.Info("redis region locks enabled", "addr", cfg.Redis.Addr)
	return settle.ChainLockers(local, settle.NewRedisLocker(client, cfg.Redis.LockTTL))
}

func buildHTTPServer(cfg *config.Config, handler *handlers.Handler, ready *health.Manager, registry *prometheus.Registry, logger *slog.Logger) *http.Server {
	router := gin.New()
	router.Use(httpmiddleware.RequestID())
	router.Use(httpmiddleware.Logger(logger))
	router.Use(httpmiddleware.Recovery(logger))
	router.Use(trace.Middleware(cfg.App.ServiceName))

	router.GET("/healthz", health.LivenessHandler)
	router.GET("/readyz", health.ReadinessHandler(ready))
	router.GET(cfg.App.MetricsPath, gin.WrapH(metrics.Handler(registry)))

	handler.Register(router)

	addr := fmt.Sprintf("%s:%d", cfg.App.HTTP.Host, cfg.App.HTTP.Port)
	return &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.App.HTTP.ReadTimeout,
		WriteTimeout: cfg.App.HTTP.WriteTimeout,
		IdleTimeout:  cfg.App.HTTP.IdleTimeout,
	}
}

func waitForShutdown(httpServer *http.Server, ready *health.Manager, cancel context.CancelFunc, logger *slog.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutdown started")
	ready.SetReady(false)
	cancel()

	ctx, cancelTimeout := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelTimeout()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
}
