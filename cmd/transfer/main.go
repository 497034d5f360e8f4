// Package main 转账调度服务启动入口
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
	"github.com/wyfcoding/crowdfunding/internal/transfer/application"
	"github.com/wyfcoding/crowdfunding/internal/transfer/domain"
	"github.com/wyfcoding/crowdfunding/internal/transfer/infrastructure"
	"github.com/wyfcoding/crowdfunding/internal/transfer/interfaces"
	"github.com/wyfcoding/crowdfunding/pkg/processor"
	"github.com/wyfcoding/pkg/config"
	"github.com/wyfcoding/pkg/database"
	"github.com/wyfcoding/pkg/logging"
	"github.com/wyfcoding/pkg/messagequeue/kafka"
	"github.com/wyfcoding/pkg/messagequeue/outbox"
	"github.com/wyfcoding/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

var (
	configPath   = flag.String("config", "configs/transfer/config.toml", "config file path")
	scanInterval = flag.Duration("scan-interval", time.Minute, "due transfer scan interval")
)

func main() {
	flag.Parse()

	// 1. 配置
	var cfg config.Config
	if err := config.Load(*configPath, &cfg); err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 2. 日志
	logCfg := &logging.Config{Service: cfg.Server.Name, Module: "transfer", Level: cfg.Log.Level}
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
			&domain.TransferRecord{}, &domain.TransferEvent{}, &domain.MerchantAccount{},
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

	// 6. 外部处理方客户端
	processorClient := processor.NewClient(processor.Config{
		BaseURL: os.Getenv("PROCESSOR_BASE_URL"),
		APIKey:  os.Getenv("PROCESSOR_API_KEY"),
	}, logger.Logger)

	// 7. 仓储与应用服务
	transferRepo := infrastructure.NewGormTransferRepository(db.RawDB())
	merchantRepo := infrastructure.NewGormMerchantAccountRepository(db.RawDB())

	transferSvc := application.NewTransferService(
		transferRepo, merchantRepo, processorClient, publisher, application.DefaultConfig(), logger.Logger)

	// 8. 接口层
	gin.SetMode(gin.ReleaseMode)
	if cfg.Server.Environment == "dev" {
		gin.SetMode(gin.DebugMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	httpHandler := interfaces.NewHTTPHandler(transferSvc)
	httpHandler.RegisterRoutes(r.Group("/api/v1"))

	// 9. 启动
	g, ctx := errgroup.WithContext(context.Background())

	g.Go(func() error {
		outboxProcessor.Start()
		<-ctx.Done()
		outboxProcessor.Stop()
		return nil
	})

	// 调度循环：扫描到期记录并提交，回收占用超期的记录，
	// 并把瞬态失败按退避重新排期
	g.Go(func() error {
		ticker := time.NewTicker(*scanInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if result, err := transferSvc.ProcessScheduledTransfers(ctx); err != nil {
					slog.Error("scheduled transfer scan failed", "error", err)
				} else if len(result.Processed) > 0 || len(result.Failed) > 0 {
					slog.Info("scheduled transfer scan finished",
						"processed", len(result.Processed), "failed", len(result.Failed))
				}
				if reclaimed, err := transferSvc.ReclaimStuckSubmitting(ctx); err != nil {
					slog.Error("stuck transfer reclaim failed", "error", err)
				} else if reclaimed > 0 {
					slog.Info("stuck transfers reclaimed", "count", reclaimed)
				}
				if retried, err := transferSvc.RetryRetryableFailures(ctx); err != nil {
					slog.Error("transfer auto retry failed", "error", err)
				} else if retried > 0 {
					slog.Info("transient failures rescheduled", "count", retried)
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
