package job

import (
	"context"
	"time"

	"rewardsystem/internal/service"
	"rewardsystem/pkg/logger"

	"go.uber.org/zap"
)

// PointsExpiryJob 积分过期清扫任务
// 周期性调用过期服务处理到期流水
type PointsExpiryJob struct {
	expiry    *service.ExpiryService
	stopCh    chan struct{}
	interval  time.Duration
	batchSize int
}

func NewPointsExpiryJob(expiry *service.ExpiryService) *PointsExpiryJob {
	return &PointsExpiryJob{
		expiry:    expiry,
		stopCh:    make(chan struct{}),
		interval:  time.Minute,
		batchSize: 200,
	}
}

func (j *PointsExpiryJob) Start(ctx context.Context) {
	logger.L.Info("[PointsExpiryJob] 积分过期任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.L.Info("[PointsExpiryJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			logger.L.Info("[PointsExpiryJob] 任务停止")
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *PointsExpiryJob) Stop() {
	close(j.stopCh)
}

func (j *PointsExpiryJob) sweep(ctx context.Context) {
	expired, err := j.expiry.ExpireDue(ctx, j.batchSize)
	if err != nil {
		logger.L.Error("[PointsExpiryJob] 过期处理失败", zap.Error(err))
		return
	}
	if expired > 0 {
		logger.L.Info("[PointsExpiryJob] 本轮过期流水处理完成", zap.Int("expired", expired))
	}
}
