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
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"log/slog"

	"github.com/veridianlabs/nftmarket/libs/apikey"
	"github.com/veridianlabs/nftmarket/libs/health"
	"github.com/veridianlabs/nftmarket/libs/httpmiddleware"
	"github.com/veridianlabs/nftmarket/libs/kafka"
	"github.com/veridianlabs/nftmarket/libs/logging"
	"github.com/veridianlabs/nftmarket/libs/metrics"
	"github.com/veridianlabs/nftmarket/libs/trace"
	"github.com/veridianlabs/nftmarket/services/marketplace/internal/assets"
	"github.com/veridianlabs/nftmarket/services/marketplace/internal/config"
	"github.com/veridianlabs/nftmarket/services/marketplace/internal/consumer"
	"github.com/veridianlabs/nftmarket/services/marketplace/internal/handlers"
	"github.com/veridianlabs/nftmarket/services/marketplace/internal/market"
	"github.com/veridianlabs/nftmarket/services/marketplace/internal/quota"
	"github.com/veridianlabs/nftmarket/services/marketplace/internal/registry"
	"github.com/veridianlabs/nftmarket/services/marketplace/internal/storage"
	"github.com/veridianlabs/nftmarket/services/marketplace/internal/tokens"
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

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector())
	promRegistry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(promRegistry)

	marketMetrics := market.NewMetrics(promRegistry)
	kafkaMetrics := kafka.NewProducerMetrics(promRegistry)

	ready := health.NewManager(false)

	pool, err := connectDB(cfg)
	if err != nil {
		logger.Error("db connection failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	whitelist, closeRedis := buildWhitelist(cfg, logger)
	defer closeRedis()

	ledger, err := quota.NewLedger(decimal.NewFromInt(cfg.Market.StorageCostPerSale))
	if err != nil {
		logger.Error("quota ledger init failed", "error", err)
		os.Exit(1)
	}

	assetClient, err := assets.NewClient(cfg.AssetService.BaseURL, cfg.AssetService.APIKey, cfg.AssetService.Timeout, logger)
	if err != nil {
		logger.Error("asset client init failed", "error", err)
		os.Exit(1)
	}

	producer, err := kafka.NewSyncProducer(cfg.Kafka.Brokers, logger, kafkaMetrics)
	if err != nil {
		logger.Error("kafka producer init failed", "error", err)
		os.Exit(1)
	}
	defer producer.Close()
	publisher := kafka.Publisher(producer)
	if strings.TrimSpace(cfg.Kafka.Topics.DeadLetter) != "" {
		publisher = kafka.NewDLQPublisher(producer, producer, cfg.Kafka.Topics.DeadLetter, logger)
	}

	m, err := market.New(market.Deps{
		Registry:         registry.New(),
		Quota:            ledger,
		Tokens:           whitelist,
		Assets:           assetClient,
		Producer:         publisher,
		Store:            storage.New(pool),
		Owner:            cfg.Market.Owner,
		PaymentsTopic:    cfg.Kafka.Topics.Payments,
		AssetCallTimeout: cfg.AssetService.Timeout,
		Logger:           logger,
		Metrics:          marketMetrics,
	})
	if err != nil {
		logger.Error("market init failed", "error", err)
		os.Exit(1)
	}

	restoreCtx, restoreCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := m.Restore(restoreCtx); err != nil {
		restoreCancel()
		logger.Error("state restore failed", "error", err)
		os.Exit(1)
	}
	restoreCancel()

	notifierKeys, err := buildNotifierKeys(cfg.Market.NotifierKeys)
	if err != nil {
		logger.Error("notifier keys invalid", "error", err)
		os.Exit(1)
	}

	consumerGroup, err := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, logger)
	if err != nil {
		logger.Error("kafka consumer init failed", "error", err)
		os.Exit(1)
	}
	consumerGroup.WithDLQ(producer, cfg.Kafka.Topics.DeadLetter)
	defer consumerGroup.Close()

	eventHandler, err := consumer.NewHandler(m, cfg.Kafka.Topics.Approvals, cfg.Kafka.Topics.Transfers, logger)
	if err != nil {
		logger.Error("event handler init failed", "error", err)
		os.Exit(1)
	}

	httpServer := buildHTTPServer(cfg, m, notifierKeys, ready, promRegistry, logger)

	ready.SetReady(true)

	consumerCtx, consumerCancel := context.WithCancel(context.Background())
	defer consumerCancel()

	go func() {
		logger.Info("marketplace http starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		logger.Info("marketplace consumer starting", "topics", eventHandler.Topics())
		if err := consumerGroup.Consume(consumerCtx, eventHandler.Topics(), eventHandler); err != nil {
			logger.Error("kafka consumer error", "error", err)
		}
	}()

	waitForShutdown(httpServer, m, ready, consumerCancel, logger)
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

func buildWhitelist(cfg *config.Config, logger *slog.Logger) (tokens.Whitelist, func()) {
	if !cfg.Redis.Enabled {
		return tokens.NewMemory(), func() {}
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	logger.Info("token whitelist backed by redis", "addr", cfg.Redis.Addr)
	return tokens.NewRedis(client, ""), func() { _ = client.Close() }
}

func buildNotifierKeys(entries []string) (handlers.StaticKeys, error) {
	keys := make(handlers.StaticKeys, len(entries))
	for _, entry := range entries {
		notifier, key, found := strings.Cut(entry, "=")
		if !found || notifier == "" || key == "" {
			return nil, fmt.Errorf("notifier key entry must be notifier_account=api_key")
		}
		_, prefix, secret, err := apikey.Parse(key)
		if err != nil {
			return nil, fmt.Errorf("notifier key for %s: %w", notifier, err)
		}
		keys[prefix] = apikey.Record{
			ID:         prefix,
			NotifierID: notifier,
			KeyHash:    apikey.Hash(prefix, secret),
		}
	}
	return keys, nil
}

func buildHTTPServer(cfg *config.Config, m *market.Market, keys handlers.StaticKeys, ready *health.Manager, promRegistry *prometheus.Registry, logger *slog.Logger) *http.Server {
	router := gin.New()
	router.Use(httpmiddleware.RequestID())
	router.Use(httpmiddleware.Logger(logger))
	router.Use(httpmiddleware.Recovery(logger))
	router.Use(trace.Middleware(cfg.App.ServiceName))

	router.GET("/healthz", health.LivenessHandler)
	router.GET("/readyz", health.ReadinessHandler(ready))
	router.GET(cfg.App.MetricsPath, gin.WrapH(metrics.Handler(promRegistry)))

	handlers.New(m, logger).Register(router, []byte(cfg.JWT.Secret), keys)

	addr := fmt.Sprintf("%s:%d", cfg.App.HTTP.Host, cfg.App.HTTP.Port)
	return &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.App.HTTP.ReadTimeout,
		WriteTimeout: cfg.App.HTTP.WriteTimeout,
		IdleTimeout:  cfg.App.HTTP.IdleTimeout,
	}
}

func waitForShutdown(httpServer *http.Server, m *market.Market, ready *health.Manager, cancel context.CancelFunc, logger *slog.Logger) {
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

	// Let in-flight settlements publish their payouts or refunds.
	done := make(chan struct{})
	go func() {
		m.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logger.Warn("settlements still in flight at shutdown")
	}

	logger.Info("shutdown complete")
}
