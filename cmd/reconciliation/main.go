// Package main 对账服务启动入口
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/crowdfunding/internal/reconciliation/application"
	recondomain "github.com/wyfcoding/crowdfunding/internal/reconciliation/domain"
	"github.com/wyfcoding/crowdfunding/internal/reconciliation/infrastructure"
	"github.com/wyfcoding/crowdfunding/internal/reconciliation/interfaces"
	transferinfra "github.com/wyfcoding/crowdfunding/internal/transfer/infrastructure"
	"github.com/wyfcoding/crowdfunding/pkg/processor"
	"github.com/wyfcoding/pkg/config"
	"github.com/wyfcoding/pkg/database"
	"github.com/wyfcoding/pkg/logging"
	"github.com/wyfcoding/pkg/messagequeue/kafka"
	"github.com/wyfcoding/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

var (
	configPath    = flag.String("config", "configs/reconciliation/config.toml", "config file path")
	sweepInterval = flag.Duration("sweep-interval", 10*time.Minute, "reconciliation sweep interval")
	payoutWindow  = flag.Duration("payout-window", 24*time.Hour, "payout verification lookback window")
)

// kafkaPublisher 对账修正事件直发 Kafka。
// 修正本身已经落库，事件只是通知，不需要 Outbox 级别的投递保证。
type kafkaPublisher struct {
	producer *kafka.Producer
}

func (p *kafkaPublisher) Publish(ctx context.Context, topic, key string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.producer.PublishToTopic(ctx, topic, []byte(key), payload)
}

func (p *kafkaPublisher) PublishInTx(ctx context.Context, _ any, topic, key string, event any) error {
	return p.Publish(ctx, topic, key, event)
}

func main() {
	flag.Parse()

	// 1. 配置
	var cfg config.Config
	if err := config.Load(*configPath, &cfg); err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 2. 日志
	logCfg := &logging.Config{Service: cfg.Server.Name, Module: "reconciliation", Level: cfg.Log.Level}
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
			&recondomain.ReconciliationRun{}, &recondomain.Discrepancy{},
		); err != nil {
			slog.Error("failed to migrate database", "error", err)
		}
	}

	// 5. Kafka
	kafkaProducer := kafka.NewProducer(&cfg.MessageQueue.Kafka, logger, metricsImpl)
	publisher := &kafkaPublisher{producer: kafkaProducer}

	// 6. 外部处理方客户端
	processorClient := processor.NewClient(processor.Config{
		BaseURL: os.Getenv("PROCESSOR_BASE_URL"),
		APIKey:  os.Getenv("PROCESSOR_API_KEY"),
	}, logger.Logger)

	// 7. 仓储与应用服务
	runRepo := infrastructure.NewGormReconciliationRepository(db.RawDB())
	transferRepo := transferinfra.NewGormTransferRepository(db.RawDB())
	merchantRepo := transferinfra.NewGormMerchantAccountRepository(db.RawDB())

	reconSvc := application.NewReconciliationService(
		runRepo, transferRepo, merchantRepo, processorClient, publisher,
		application.DefaultConfig(), logger.Logger)

	// 8. 接口层
	gin.SetMode(gin.ReleaseMode)
	if cfg.Server.Environment == "dev" {
		gin.SetMode(gin.DebugMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	httpHandler := interfaces.NewHTTPHandler(reconSvc)
	httpHandler.RegisterRoutes(r.Group("/api/v1"))

	// 9. 启动
	g, ctx := errgroup.WithContext(context.Background())

	// 周期对账：转账状态 -> payout 核验 -> 收款方镜像刷新
	g.Go(func() error {
		ticker := time.NewTicker(*sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if _, err := reconSvc.ReconcilePendingTransfers(ctx); err != nil {
					slog.Error("transfer reconciliation failed", "error", err)
				}
				end := time.Now()
				if _, err := reconSvc.VerifyPayouts(ctx, end.Add(-*payoutWindow), end); err != nil {
					slog.Error("payout verification failed", "error", err)
				}
				if _, err := reconSvc.ReconcileMerchantAccounts(ctx); err != nil {
					slog.Error("merchant reconciliation failed", "error", err)
				}
			}
		}
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
