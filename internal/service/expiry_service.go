package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rewardsystem/internal/metrics"
	"rewardsystem/internal/model"
	"rewardsystem/internal/repository"
	"rewardsystem/pkg/idgen"
	"rewardsystem/pkg/logger"

	"go.uber.org/zap"
)

// ExpiryService 积分过期处理
// 对到期仍为 ACCRUED 的贷方流水：追加一条等于未消耗余量的负向流水，
// 并把贷方流水迁移为 EXPIRED，保证流水回放结果始终等于可用余额
type ExpiryService struct {
	ledger   LedgerStore
	accounts AccountStore
	locker   UserLocker
	notifier Notifier
	sink     metrics.Sink

	now func() time.Time
}

func NewExpiryService(ledger LedgerStore, accounts AccountStore, locker UserLocker,
	notifier Notifier, sink metrics.Sink) *ExpiryService {
	return &ExpiryService{
		ledger:   ledger,
		accounts: accounts,
		locker:   locker,
		notifier: notifier,
		sink:     sink,
		now:      time.Now,
	}
}

// ExpireDue 处理一批到期流水，返回成功过期的条数
// 单个用户失败只记日志，不中断整批
func (s *ExpiryService) ExpireDue(ctx context.Context, batchSize int) (int, error) {
	due, err := s.ledger.ListDueCredits(ctx, s.now(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("查询到期流水失败: %w", err)
	}
	if len(due) == 0 {
		return 0, nil
	}

	// 按用户分组，锁内逐条处理
	byUser := make(map[int64][]*model.RewardLedgerEntry)
	var order []int64
	for _, entry := range due {
		if _, seen := byUser[entry.UserID]; !seen {
			order = append(order, entry.UserID)
		}
		byUser[entry.UserID] = append(byUser[entry.UserID], entry)
	}

	expired := 0
	for _, userID := range order {
		entries := byUser[userID]
		err := s.locker.WithUserLock(ctx, userID, func() error {
			n, err := s.expireForUser(ctx, userID, entries)
			expired += n
			return err
		})
		if err != nil {
			logger.L.Error("用户积分过期处理失败", zap.Int64("user_id", userID), zap.Error(err))
		}
	}
	return expired, nil
}

func (s *ExpiryService) expireForUser(ctx context.Context, userID int64, entries []*model.RewardLedgerEntry) (int, error) {
	expired := 0
	for _, entry := range entries {
		allocated, err := s.ledger.AllocatedPoints(ctx, []int64{entry.ID})
		if err != nil {
			return expired, fmt.Errorf("查询分摊记录失败: %w", err)
		}

		remaining := entry.PointsDelta - allocated[entry.ID]
		if remaining <= 0 {
			// 已被完全消耗，只做状态迁移；迁移冲突说明兑换刚好赶在前面，跳过
			if err := s.ledger.UpdateStatus(ctx, entry.ID, model.EntryStatusAccrued, model.EntryStatusExpired); err != nil {
				if errors.Is(err, repository.ErrStatusConflict) {
					continue
				}
				return expired, err
			}
			expired++
			continue
		}

		account, err := s.accounts.GetOrCreate(ctx, userID)
		if err != nil {
			return expired, err
		}
		balance, err := s.ledger.LastBalance(ctx, userID)
		if err != nil {
			return expired, err
		}

		now := s.now()
		debit := &model.RewardLedgerEntry{
			EntryNo:      idgen.GenerateEntryNo(),
			UserID:       userID,
			EventType:    model.EventTypePointsExpired,
			PointsDelta:  -remaining,
			BalanceAfter: balance - remaining,
			Status:       model.EntryStatusExpired,
			Remark:       fmt.Sprintf("积分过期-%s", entry.EntryNo),
			CreatedAt:    now,
		}
		allocs := []*model.RewardAllocation{{
			UserID:        userID,
			SourceEntryID: entry.ID,
			Points:        remaining,
		}}

		tier := model.TierFor(account.LifetimePoints)
		err = s.ledger.AppendDebit(ctx, debit, allocs, []int64{entry.ID}, model.EntryStatusExpired, tier.Name, account.Version)
		if errors.Is(err, repository.ErrStatusConflict) {
			continue
		}
		if err != nil {
			return expired, fmt.Errorf("追加过期流水失败: %w", err)
		}

		expired++
		s.sink.EntriesExpired(1, remaining)
		s.notifier.Notify(ctx, userID, model.NotifyKindPointsExpired, map[string]interface{}{
			"entry_no": entry.EntryNo,
			"points":   remaining,
			"balance":  debit.BalanceAfter,
		})
	}
	return expired, nil
}
