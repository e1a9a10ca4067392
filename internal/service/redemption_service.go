package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rewardsystem/internal/config"
	"rewardsystem/internal/metrics"
	"rewardsystem/internal/model"
	"rewardsystem/internal/repository"
	"rewardsystem/pkg/idgen"
	"rewardsystem/pkg/logger"

	"go.uber.org/zap"
)

// RedemptionService 积分兑换引擎
type RedemptionService struct {
	ledger   LedgerStore
	accounts AccountStore
	locker   UserLocker
	fraud    *FraudChecker
	notifier Notifier
	sink     metrics.Sink
	cfg      *config.BusinessConfig

	now func() time.Time
}

func NewRedemptionService(ledger LedgerStore, accounts AccountStore, locker UserLocker,
	fraud *FraudChecker, notifier Notifier, sink metrics.Sink, cfg *config.BusinessConfig) *RedemptionService {
	return &RedemptionService{
		ledger:   ledger,
		accounts: accounts,
		locker:   locker,
		fraud:    fraud,
		notifier: notifier,
		sink:     sink,
		cfg:      cfg,
		now:      time.Now,
	}
}

type RedeemRequest struct {
	UserID         int64
	Points         int64
	RedemptionType string // cashback / discount / voucher
}

// RedemptionReceipt 兑换回执
type RedemptionReceipt struct {
	RedemptionNo   string    `json:"redemption_no"`
	Points         int64     `json:"points"`
	RedemptionType string    `json:"redemption_type"`
	Value          int64     `json:"value"`    // 兑换金额（最小货币单位）
	Currency       string    `json:"currency"` // 币种
	Balance        int64     `json:"balance"`  // 兑换后可用余额
	ProcessedAt    time.Time `json:"processed_at"`
}

// Redeem 兑换积分
//
// 1. 风控门禁，拒绝返回 FraudBlockedError
// 2. 可用余额不足返回 ErrInsufficientBalance，余额不变
// 3. 按创建时间最早优先消耗 ACCRUED 贷方流水；部分消耗以分摊行表达，
//    只有被完全消耗的贷方流水才迁移为 REDEEMED
// 4. 追加一条 -N 借方流水，按固定汇率折算兑换金额
func (s *RedemptionService) Redeem(ctx context.Context, req *RedeemRequest) (*RedemptionReceipt, error) {
	if req.Points <= 0 {
		return nil, ErrInvalidPoints
	}
	if req.UserID <= 0 {
		return nil, fmt.Errorf("非法兑换请求: user_id=%d", req.UserID)
	}

	var receipt *RedemptionReceipt
	err := s.locker.WithUserLock(ctx, req.UserID, func() error {
		r, err := s.redeemLocked(ctx, req)
		receipt = r
		return err
	})
	if err != nil {
		if reason, blocked := IsFraudBlocked(err); blocked {
			s.sink.FraudBlocked(reason)
		}
		return nil, err
	}

	s.sink.RedemptionRecorded(req.RedemptionType, req.Points)
	s.notifier.Notify(ctx, req.UserID, model.NotifyKindPointsRedeemed, map[string]interface{}{
		"redemption_no": receipt.RedemptionNo,
		"points":        req.Points,
		"value":         receipt.Value,
		"currency":      receipt.Currency,
		"balance":       receipt.Balance,
	})
	return receipt, nil
}

func (s *RedemptionService) redeemLocked(ctx context.Context, req *RedeemRequest) (*RedemptionReceipt, error) {
	if err := s.fraud.Check(ctx, req.UserID); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < s.cfg.MaxRetryCount; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * 20 * time.Millisecond)
		}

		account, err := s.accounts.GetOrCreate(ctx, req.UserID)
		if err != nil {
			return nil, fmt.Errorf("获取积分账户失败: %w", err)
		}

		balance, err := s.ledger.LastBalance(ctx, req.UserID)
		if err != nil {
			return nil, fmt.Errorf("读取流水余额失败: %w", err)
		}
		if balance != account.AvailablePoints {
			logger.L.Error("账户投影与流水不一致",
				zap.Int64("user_id", req.UserID),
				zap.Int64("projected", account.AvailablePoints),
				zap.Int64("ledger", balance))
			return nil, ErrLedgerInconsistent
		}

		credits, err := s.ledger.ListAccrued(ctx, req.UserID)
		if err != nil {
			return nil, fmt.Errorf("查询可消耗流水失败: %w", err)
		}
		creditIDs := make([]int64, 0, len(credits))
		for _, c := range credits {
			creditIDs = append(creditIDs, c.ID)
		}
		allocated, err := s.ledger.AllocatedPoints(ctx, creditIDs)
		if err != nil {
			return nil, fmt.Errorf("查询分摊记录失败: %w", err)
		}

		// 以未过期贷方的剩余额度计算有效余额：已过期但过期任务尚未
		// 落账的贷方不计入，避免把正常的余额不足误判为数据不一致
		now := s.now()
		if req.Points > redeemablePoints(credits, allocated, now) {
			return nil, ErrInsufficientBalance
		}

		allocs, closedIDs, err := planAllocation(credits, allocated, req.Points, now)
		if err != nil {
			// 余额够但可消耗流水不够，说明投影或分摊数据被破坏
			logger.L.Error("兑换分摊无法覆盖请求积分",
				zap.Int64("user_id", req.UserID),
				zap.Int64("points", req.Points),
				zap.Error(err))
			return nil, fmt.Errorf("%w: %v", ErrLedgerInconsistent, err)
		}

		redemptionNo := idgen.GenerateRedemptionNo()
		debit := &model.RewardLedgerEntry{
			EntryNo:        idgen.GenerateEntryNo(),
			UserID:         req.UserID,
			EventType:      model.EventTypePointsRedeemed,
			PointsDelta:    -req.Points,
			BalanceAfter:   balance - req.Points,
			Status:         model.EntryStatusRedeemed,
			RedemptionNo:   redemptionNo,
			RedemptionType: req.RedemptionType,
			Remark:         fmt.Sprintf("积分兑换-%s", req.RedemptionType),
			CreatedAt:      now,
		}

		tier := model.TierFor(account.LifetimePoints)
		err = s.ledger.AppendDebit(ctx, debit, allocs, closedIDs, model.EntryStatusRedeemed, tier.Name, account.Version)
		if errors.Is(err, repository.ErrOptimisticLock) {
			continue
		}
		if errors.Is(err, repository.ErrStatusConflict) {
			// 用户锁内不应出现并发状态迁移，属于数据完整性问题
			logger.L.Error("兑换遇到流水状态冲突", zap.Int64("user_id", req.UserID), zap.Error(err))
			return nil, fmt.Errorf("%w: %v", ErrLedgerInconsistent, err)
		}
		if err != nil {
			return nil, fmt.Errorf("追加兑换流水失败: %w", err)
		}

		return &RedemptionReceipt{
			RedemptionNo:   redemptionNo,
			Points:         req.Points,
			RedemptionType: req.RedemptionType,
			Value:          req.Points * s.cfg.RedeemRateCents,
			Currency:       s.cfg.RedeemCurrency,
			Balance:        debit.BalanceAfter,
			ProcessedAt:    now,
		}, nil
	}

	return nil, fmt.Errorf("%w: 兑换写入冲突", ErrRetryExhausted)
}

// redeemablePoints 未过期贷方流水的剩余可消耗总额
func redeemablePoints(credits []*model.RewardLedgerEntry, allocated map[int64]int64, now time.Time) int64 {
	var total int64
	for _, credit := range credits {
		if credit.ExpiredBy(now) {
			continue
		}
		if headroom := credit.PointsDelta - allocated[credit.ID]; headroom > 0 {
			total += headroom
		}
	}
	return total
}

// planAllocation 规划本次兑换对贷方流水的消耗
// credits 必须按创建时间升序；已过期的贷方不参与消耗
// 返回分摊行和被完全消耗（应迁移终态）的贷方流水ID
func planAllocation(credits []*model.RewardLedgerEntry, allocated map[int64]int64,
	points int64, now time.Time) ([]*model.RewardAllocation, []int64, error) {

	var allocs []*model.RewardAllocation
	var closedIDs []int64

	remaining := points
	for _, credit := range credits {
		if remaining == 0 {
			break
		}
		if credit.ExpiredBy(now) {
			continue
		}

		headroom := credit.PointsDelta - allocated[credit.ID]
		if headroom <= 0 {
			continue
		}

		take := headroom
		if take > remaining {
			take = remaining
		}

		allocs = append(allocs, &model.RewardAllocation{
			UserID:        credit.UserID,
			SourceEntryID: credit.ID,
			Points:        take,
		})
		if take == headroom {
			closedIDs = append(closedIDs, credit.ID)
		}
		remaining -= take
	}

	if remaining > 0 {
		return nil, nil, fmt.Errorf("可消耗积分不足: 还差 %d", remaining)
	}
	return allocs, closedIDs, nil
}
