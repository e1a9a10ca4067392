package service

import (
	"context"
	"fmt"
	"time"

	"rewardsystem/internal/config"
)

// FraudChecker 兑换风控
// 无状态：每次调用都从流水重新推导，不在调用之间保存任何状态
type FraudChecker struct {
	ledger LedgerStore
	cfg    *config.BusinessConfig

	now func() time.Time
}

func NewFraudChecker(ledger LedgerStore, cfg *config.BusinessConfig) *FraudChecker {
	return &FraudChecker{ledger: ledger, cfg: cfg, now: time.Now}
}

// Check 两项独立检查，任一命中即拒绝：
//   - 频次：最近 1 小时兑换笔数达到阈值
//   - 总量：最近 24 小时入账积分超过阈值
func (f *FraudChecker) Check(ctx context.Context, userID int64) error {
	now := f.now()

	redemptions, err := f.ledger.CountRedemptionsSince(ctx, userID, now.Add(-time.Hour))
	if err != nil {
		return fmt.Errorf("风控频次查询失败: %w", err)
	}
	if redemptions >= int64(f.cfg.FraudMaxRedemptionsPerHour) {
		return &FraudBlockedError{Reason: FraudReasonVelocity}
	}

	earned, err := f.ledger.SumPositiveSince(ctx, userID, now.Add(-24*time.Hour))
	if err != nil {
		return fmt.Errorf("风控总量查询失败: %w", err)
	}
	if earned > f.cfg.FraudMaxDailyPoints {
		return &FraudBlockedError{Reason: FraudReasonVolume}
	}

	return nil
}
