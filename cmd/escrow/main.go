// Package main 托管服务启动入口
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	escrowapp "github.com/wyfcoding/crowdfunding/internal/escrow/application"
	escrowdomain "github.com/wyfcoding/crowdfunding/internal/escrow/domain"
	escrowinfra "github.com/wyfcoding/crowdfunding/internal/escrow/infrastructure"
	"github.com/wyfcoding/crowdfunding/internal/escrow/infrastructure/adapter"
	"github.com/wyfcoding/crowdfunding/internal/escrow/interfaces"
	"github.com/wyfcoding/crowdfunding/internal/escrow/interfaces/consumer"
	transferapp "github.com/wyfcoding/crowdfunding/internal/transfer/application"
	transferdomain "github.com/wyfcoding/crowdfunding/internal/transfer/domain"
	transferinfra "github.com/wyfcoding/crowdfunding/internal/transfer/infrastructure"
	"github.com/wyfcoding/crowdfunding/pkg/processor"
	"github.com/wyfcoding/pkg/config"
	"github.com/wyfcoding/pkg/database"
	"github.com/wyfcoding/pkg/logging"
	"github.com/wyfcoding/pkg/messagequeue/kafka"
	"github.com/wyfcoding/pkg/messagequeue/outbox"
	"github.com/wyfcoding/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

var configPath = flag.String("config", "configs/escrow/config.toml", "config file path")

func main() {
	flag.Parse()

	// 1. 配置
	var cfg config.Config
	if err := config.Load(*configPath, &cfg); err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 2. 日志
	logCfg := &logging.Config{Service: cfg.Server.Name, Module: "escrow", Level: cfg.Log.Level}
	logger := logging.NewFromConfig(logCfg)
	slog.SetDefault(logger.Logger)

	// 3. 指标
	metricsImpl := metrics.NewMetrics(cfg.Server.Name)
	if cfg.Metrics.Enabled {
		go metricsImpl.ExposeHTTP(cfg.Metrics.Port)
	}

	// 4. 数据库
	db, err := database.NewDB(cfg.Data.Database, cfg.CircuitBreaker, logger, metricsImpl)
	if err != nil {
		slog.Error("failed to connect database", "error", err)
		os.Exit(1)
	}
	if cfg.Server.Environment == "dev" {
		if err := db.RawDB().AutoMigrate(
			&escrowdomain.EscrowAccount{}, &escrowdomain.ReleaseCondition{}, &escrowdomain.EscrowEvent{},
			&transferdomain.TransferRecord{}, &transferdomain.TransferEvent{}, &transferdomain.MerchantAccount{},
			&outbox.Message{},
		); err != nil {
			slog.Error("failed to migrate database", "error", err)
		}
	}

	// 5. Kafka & Outbox
	kafkaProducer := kafka.NewProducer(&cfg.MessageQueue.Kafka, logger, metricsImpl)
	outboxMgr := outbox.NewManager(db.RawDB(), logger.Logger)
	pusher := func(ctx context.Context, topic, key string, payload []byte) error {
		return kafkaProducer.PublishToTopic(ctx, topic, []byte(key), payload)
	}
	outboxProcessor := outbox.NewProcessor(outboxMgr, pusher, 100, 2*time.Second)
	publisher := outbox.NewPublisher(outboxMgr)

	// 6. 外部处理方与风控客户端
	processorClient := processor.NewClient(processor.Config{
		BaseURL: os.Getenv("PROCESSOR_BASE_URL"),
		APIKey:  os.Getenv("PROCESSOR_API_KEY"),
	}, logger.Logger)
	riskGate := adapter.NewRiskClient(adapter.RiskClientConfig{
		BaseURL: os.Getenv("RISK_BASE_URL"),
	}, logger.Logger)

	// 7. 仓储与应用服务
	escrowRepo := escrowinfra.NewGormEscrowRepository(db.RawDB())
	transferRepo := transferinfra.NewGormTransferRepository(db.RawDB())
	merchantRepo := transferinfra.NewGormMerchantAccountRepository(db.RawDB())

	transferSvc := transferapp.NewTransferService(
		transferRepo, merchantRepo, processorClient, publisher, transferapp.DefaultConfig(), logger.Logger)
	payouts := adapter.NewTransferPayoutScheduler(transferSvc)

	riskPolicy := escrowapp.RiskPolicy{ThresholdCents: 1_000_000, ScoreLimit: 75}
	escrowSvc := escrowapp.NewEscrowService(escrowRepo, payouts, riskGate, riskPolicy, publisher, logger.Logger)
	querySvc := escrowapp.NewEscrowQueryService(escrowRepo)

	// 8. 接口层
	gin.SetMode(gin.ReleaseMode)
	if cfg.Server.Environment == "dev" {
		gin.SetMode(gin.DebugMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	httpHandler := interfaces.NewHTTPHandler(escrowSvc, querySvc)
	httpHandler.RegisterRoutes(r.Group("/api/v1"))

	// 9. 通知消费端
	notificationHandler := consumer.NewNotificationHandler(consumer.NewLogNotifier(logger.Logger), logger.Logger)

	// 10. 启动
	g, ctx := errgroup.WithContext(context.Background())

	for _, topic := range []string{
		escrowdomain.EscrowCreatedEventType,
		escrowdomain.FundsDepositedEventType,
		escrowdomain.FundsReleasedEventType,
		escrowdomain.EscrowFrozenEventType,
		escrowdomain.EscrowUnfrozenEventType,
		escrowdomain.EscrowClosedEventType,
	} {
		kafkaCfg := cfg.MessageQueue.Kafka
		kafkaCfg.GroupID = "escrow-notifications"
		kafkaCfg.Topic = topic
		kafka.NewConsumer(&kafkaCfg, logger, metricsImpl).Start(ctx, 1, notificationHandler.Handle)
	}

	g.Go(func() error {
		outboxProcessor.Start()
		<-ctx.Done()
		outboxProcessor.Stop()
		return nil
	})

	addr := fmt.Sprintf(":%d", cfg.Server.HTTP.Port)
	server := &http.Server{Addr: addr, Handler: r}
	g.Go(func() error {
		slog.Info("HTTP server starting", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-quit:
			slog.Info("shutting down servers...")
		case <-ctx.Done():
			slog.Info("context cancelled, shutting down...")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server exited with error", "error", err)
	}
}
