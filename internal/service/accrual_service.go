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

// AccrualService 积分入账引擎
type AccrualService struct {
	ledger   LedgerStore
	rules    RuleSource
	accounts AccountStore
	locker   UserLocker
	notifier Notifier
	sink     metrics.Sink
	cfg      *config.BusinessConfig

	now func() time.Time
}

func NewAccrualService(ledger LedgerStore, rules RuleSource, accounts AccountStore,
	locker UserLocker, notifier Notifier, sink metrics.Sink, cfg *config.BusinessConfig) *AccrualService {
	return &AccrualService{
		ledger:   ledger,
		rules:    rules,
		accounts: accounts,
		locker:   locker,
		notifier: notifier,
		sink:     sink,
		cfg:      cfg,
		now:      time.Now,
	}
}

type AccrualRequest struct {
	UserID    int64
	EventType string
	EventID   string                 // 外部业务单号，幂等关键，可为空
	Amount    *int64                 // 交易金额（最小货币单位），规则金额门槛用
	Metadata  map[string]interface{} // 加成条件匹配用，如 vehicle_type、duration_hours
}

// AccrualResult 入账结果
// 无适用规则与上限封顶都是预期内的业务结论，不以错误形式返回
type AccrualResult struct {
	Entry       *model.RewardLedgerEntry `json:"entry,omitempty"`
	Awarded     int64                    `json:"awarded"`
	Capped      bool                     `json:"capped"`    // 本次奖励被周期上限裁剪
	NoRule      bool                     `json:"no_rule"`   // 无适用规则，零积分
	Duplicate   bool                     `json:"duplicate"` // 幂等命中，返回已有流水
	Balance     int64                    `json:"balance"`
	Tier        model.TierInfo           `json:"tier"`
	TierChanged bool                     `json:"tier_changed"`
}

// Accrue 入账一笔奖励事件
//
// 1. 解析规则，无规则则返回零积分结果
// 2. 按元数据加成计算积分
// 3. 对每个配置的周期上限独立核算剩余额度，奖励裁剪到最小剩余额度
//    （裁剪到 0 也照常落一条 0 积分流水，保留审计痕迹）
// 4. 追加流水并同步账户投影，单用户串行执行
// 5. 等级变化时发出通知（fire-and-forget）
func (s *AccrualService) Accrue(ctx context.Context, req *AccrualRequest) (*AccrualResult, error) {
	if req.UserID <= 0 || req.EventType == "" {
		return nil, fmt.Errorf("非法入账请求: user_id=%d event_type=%q", req.UserID, req.EventType)
	}

	var result *AccrualResult
	err := s.locker.WithUserLock(ctx, req.UserID, func() error {
		r, err := s.accrueLocked(ctx, req)
		result = r
		return err
	})
	if err != nil {
		return nil, err
	}

	// 通知与指标在锁外处理，不占锁时间
	if result.Entry != nil && !result.Duplicate {
		s.sink.AccrualRecorded(req.EventType, result.Awarded, result.Capped)
		s.notifier.Notify(ctx, req.UserID, model.NotifyKindPointsAccrued, map[string]interface{}{
			"entry_no":   result.Entry.EntryNo,
			"event_type": req.EventType,
			"points":     result.Awarded,
			"balance":    result.Balance,
		})
		if result.TierChanged {
			s.sink.TierChanged(result.Tier.Name)
			s.notifier.Notify(ctx, req.UserID, model.NotifyKindTierChanged, map[string]interface{}{
				"tier":           result.Tier.Name,
				"points_to_next": result.Tier.PointsToNext,
			})
		}
	}
	return result, nil
}

func (s *AccrualService) accrueLocked(ctx context.Context, req *AccrualRequest) (*AccrualResult, error) {
	// 幂等：同一外部单号只入账一次
	if req.EventID != "" {
		existing, err := s.ledger.FindByEventID(ctx, req.UserID, req.EventType, req.EventID)
		if err != nil {
			return nil, fmt.Errorf("幂等查询失败: %w", err)
		}
		if existing != nil {
			account, err := s.accounts.GetOrCreate(ctx, req.UserID)
			if err != nil {
				return nil, err
			}
			return &AccrualResult{
				Entry:     existing,
				Awarded:   existing.PointsDelta,
				Duplicate: true,
				Balance:   account.AvailablePoints,
				Tier:      model.TierFor(account.LifetimePoints),
			}, nil
		}
	}

	rule, err := s.resolveRule(ctx, req.EventType, req.Amount)
	if err != nil {
		return nil, err
	}

	account, err := s.accounts.GetOrCreate(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("获取积分账户失败: %w", err)
	}

	if rule == nil {
		// 无适用规则：零积分，不落流水，不算失败
		return &AccrualResult{
			NoRule:  true,
			Balance: account.AvailablePoints,
			Tier:    model.TierFor(account.LifetimePoints),
		}, nil
	}

	proposed := rule.Conditions.Apply(rule.PointsPerEvent, req.Metadata)
	award, capped, err := s.clipToCaps(ctx, req.UserID, rule, proposed)
	if err != nil {
		return nil, fmt.Errorf("核算周期上限失败: %w", err)
	}

	for attempt := 0; attempt < s.cfg.MaxRetryCount; attempt++ {
		if attempt > 0 {
			account, err = s.accounts.GetOrCreate(ctx, req.UserID)
			if err != nil {
				return nil, err
			}
			time.Sleep(time.Duration(attempt) * 20 * time.Millisecond)
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

		now := s.now()
		expiresAt := now.Add(time.Duration(s.cfg.PointsExpireDays) * 24 * time.Hour)
		ruleID := rule.ID
		entry := &model.RewardLedgerEntry{
			EntryNo:      idgen.GenerateEntryNo(),
			UserID:       req.UserID,
			EventType:    req.EventType,
			EventID:      req.EventID,
			PointsDelta:  award,
			BalanceAfter: balance + award,
			Status:       model.EntryStatusAccrued,
			RuleID:       &ruleID,
			Remark:       rule.Description,
			ExpiresAt:    &expiresAt,
			CreatedAt:    now,
		}

		newTier := model.TierFor(account.LifetimePoints + award)
		err = s.ledger.AppendCredit(ctx, entry, newTier.Name, account.Version)
		if errors.Is(err, repository.ErrOptimisticLock) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("追加入账流水失败: %w", err)
		}

		return &AccrualResult{
			Entry:       entry,
			Awarded:     award,
			Capped:      capped,
			Balance:     entry.BalanceAfter,
			Tier:        newTier,
			TierChanged: newTier.Name != account.Tier,
		}, nil
	}

	return nil, fmt.Errorf("%w: 入账写入冲突", ErrRetryExhausted)
}

// resolveRule 取优先级最高的生效规则；同优先级由存储层按创建时间降序兜底
// 配置了金额门槛的规则只对落在区间内的交易生效
func (s *AccrualService) resolveRule(ctx context.Context, eventType string, amount *int64) (*model.RewardRule, error) {
	rules, err := s.rules.ActiveRules(ctx, eventType)
	if err != nil {
		return nil, fmt.Errorf("查询积分规则失败: %w", err)
	}
	for _, rule := range rules {
		if rule.AmountEligible(amount) {
			return rule, nil
		}
	}
	return nil, nil
}

// clipToCaps 对日/周/月上限独立核算，取所有窗口的最小剩余额度
// 上限核算只统计本窗口内同事件类型的正向流水，裁剪发生在本次入账之前
func (s *AccrualService) clipToCaps(ctx context.Context, userID int64, rule *model.RewardRule, proposed int64) (int64, bool, error) {
	now := s.now().UTC()
	windows := []struct {
		cap   *int64
		since time.Time
	}{
		{rule.DailyCap, startOfDayUTC(now)},
		{rule.WeeklyCap, startOfWeekUTC(now)},
		{rule.MonthlyCap, startOfMonthUTC(now)},
	}

	award := proposed
	for _, w := range windows {
		if w.cap == nil {
			continue
		}
		earned, err := s.ledger.SumEventPoints(ctx, userID, rule.EventType, w.since)
		if err != nil {
			return 0, false, err
		}
		headroom := *w.cap - earned
		if headroom < 0 {
			headroom = 0
		}
		if headroom < award {
			award = headroom
		}
	}
	return award, award < proposed, nil
}

func startOfDayUTC(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// startOfWeekUTC 周一为一周起点
func startOfWeekUTC(now time.Time) time.Time {
	day := startOfDayUTC(now)
	weekday := int(day.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	return day.AddDate(0, 0, -(weekday - 1))
}

func startOfMonthUTC(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}
