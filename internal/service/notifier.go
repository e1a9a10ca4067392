package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"rewardsystem/internal/model"
	"rewardsystem/internal/repository"
	"rewardsystem/pkg/logger"

	"go.uber.org/zap"
)

// OutboxNotifier 通知分发的外发表实现
// 消息落库后由后台任务异步投递 Kafka；落库失败只记日志，
// 绝不把错误抛回业务操作
type OutboxNotifier struct {
	outbox *repository.OutboxRepository
	topic  string
}

func NewOutboxNotifier(outbox *repository.OutboxRepository, topic string) *OutboxNotifier {
	return &OutboxNotifier{outbox: outbox, topic: topic}
}

func (n *OutboxNotifier) Notify(ctx context.Context, userID int64, kind string, payload map[string]interface{}) {
	body := map[string]interface{}{
		"user_id":     userID,
		"kind":        kind,
		"payload":     payload,
		"notified_at": time.Now().Format(time.RFC3339),
	}
	bytes, err := json.Marshal(body)
	if err != nil {
		logger.L.Error("通知序列化失败", zap.Int64("user_id", userID), zap.String("kind", kind), zap.Error(err))
		return
	}

	msg := &model.OutboxMessage{
		MessageKey: fmt.Sprintf("%d", userID),
		Topic:      n.topic,
		Payload:    string(bytes),
		Status:     model.OutboxStatusPending,
	}
	if err := n.outbox.Create(ctx, msg); err != nil {
		logger.L.Error("写入通知消息失败", zap.Int64("user_id", userID), zap.String("kind", kind), zap.Error(err))
	}
}
