package job

import (
	"context"
	"time"

	"rewardsystem/internal/config"
	"rewardsystem/internal/infrastructure/mq"
	"rewardsystem/internal/model"
	"rewardsystem/internal/repository"
	"rewardsystem/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OutboxSender 通知消息投递任务
// 周期性扫描外发表中的待发消息，投递到 Kafka；
// 超过最大重试次数的消息标记为失败，留待人工处理
type OutboxSender struct {
	db         *gorm.DB
	outboxRepo *repository.OutboxRepository
	cfg        *config.Config
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
}

func NewOutboxSender(db *gorm.DB, cfg *config.Config) *OutboxSender {
	return &OutboxSender{
		db:         db,
		outboxRepo: repository.NewOutboxRepository(db),
		cfg:        cfg,
		stopCh:     make(chan struct{}),
		interval:   100 * time.Millisecond,
		batchSize:  100,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	logger.L.Info("[OutboxSender] 消息投递任务启动")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.L.Info("[OutboxSender] 收到停止信号，任务退出")
			return
		case <-s.stopCh:
			logger.L.Info("[OutboxSender] 任务停止")
			return
		case <-ticker.C:
			s.processPendingMessages(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

func (s *OutboxSender) processPendingMessages(ctx context.Context) {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		logger.L.Error("[OutboxSender] 查询待发消息失败", zap.Error(err))
		return
	}

	for _, msg := range messages {
		s.sendMessage(ctx, msg)
	}
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) {
	err := mq.SendMessage(msg.Topic, msg.MessageKey, msg.Payload)
	if err == nil {
		if updateErr := s.outboxRepo.UpdateStatus(ctx, msg.ID, model.OutboxStatusSent); updateErr != nil {
			logger.L.Error("[OutboxSender] 更新消息状态失败", zap.Int64("id", msg.ID), zap.Error(updateErr))
		}
		return
	}

	logger.L.Warn("[OutboxSender] 消息投递失败", zap.Int64("id", msg.ID), zap.Error(err))

	if msg.RetryCount+1 >= s.cfg.Business.OutboxMaxRetryCount {
		if err := s.outboxRepo.MarkAsFailed(ctx, msg.ID); err != nil {
			logger.L.Error("[OutboxSender] 标记消息失败状态失败", zap.Int64("id", msg.ID), zap.Error(err))
		} else {
			logger.L.Warn("[OutboxSender] 消息超过最大重试次数，标记为失败", zap.Int64("id", msg.ID))
		}
		return
	}

	if err := s.outboxRepo.IncrementRetryCount(ctx, msg.ID); err != nil {
		logger.L.Error("[OutboxSender] 增加重试次数失败", zap.Int64("id", msg.ID), zap.Error(err))
	}
}
