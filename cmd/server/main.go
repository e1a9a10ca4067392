package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rewardsystem/internal/config"
	"rewardsystem/internal/handler"
	"rewardsystem/internal/infrastructure/cache"
	"rewardsystem/internal/infrastructure/database"
	"rewardsystem/internal/infrastructure/lock"
	"rewardsystem/internal/infrastructure/mq"
	"rewardsystem/internal/job"
	"rewardsystem/internal/metrics"
	"rewardsystem/internal/repository"
	"rewardsystem/internal/service"
	"rewardsystem/pkg/idgen"
	"rewardsystem/pkg/logger"

	"go.uber.org/zap"
)

func main() {
	defer logger.Sync()

	// 加载配置
	cfg := config.LoadConfig("config/config.yaml")

	// 初始化 ID 生成器
	idgen.Init(1)

	// 初始化 MySQL
	db := database.InitMySQL(&cfg.MySQL)

	// 初始化 Redis
	redisClient := cache.InitRedis(&cfg.Redis)

	// 初始化 Kafka
	mq.InitKafka(&cfg.Kafka)
	defer mq.CloseKafka()

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动后台任务
	outboxSender := job.NewOutboxSender(db, cfg)
	go outboxSender.Start(ctx)

	ledgerRepo := repository.NewLedgerRepository(db)
	accountRepo := repository.NewAccountRepository(db)
	outboxRepo := repository.NewOutboxRepository(db)
	expiryService := service.NewExpiryService(
		ledgerRepo,
		accountRepo,
		lock.NewRedisUserLocker(redisClient),
		service.NewOutboxNotifier(outboxRepo, cfg.Kafka.Topic.RewardNotify),
		metrics.NewPromSink(),
	)
	expiryJob := job.NewPointsExpiryJob(expiryService)
	go expiryJob.Start(ctx)

	// 设置路由
	router := handler.SetupRouter(db, redisClient, cfg)

	// 启动 HTTP 服务
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// 在 goroutine 中启动服务器
	go func() {
		logger.L.Info("服务启动", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.L.Fatal("服务启动失败", zap.Error(err))
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.L.Info("正在关闭服务...")

	// 取消上下文，停止后台任务
	cancel()

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.L.Error("服务关闭异常", zap.Error(err))
	}

	logger.L.Info("服务已关闭")
}
