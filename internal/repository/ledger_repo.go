package repository

import (
	"context"
	"errors"
	"time"

	"rewardsystem/internal/model"

	"gorm.io/gorm"
)

var (
	ErrEntryNotFound  = errors.New("积分流水不存在")
	ErrOptimisticLock = errors.New("乐观锁冲突，请重试")
	ErrStatusConflict = errors.New("流水状态迁移冲突")
)

// LedgerRepository 积分流水存储的 MySQL 实现
// 写方法内部使用事务保证原子性，读方法均为单条 SQL
type LedgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) LastBalance(ctx context.Context, userID int64) (int64, error) {
	var entry model.RewardLedgerEntry
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return entry.BalanceAfter, nil
}

func (r *LedgerRepository) FindByEventID(ctx context.Context, userID int64, eventType, eventID string) (*model.RewardLedgerEntry, error) {
	var entry model.RewardLedgerEntry
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND event_type = ? AND event_id = ?", userID, eventType, eventID).
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

func (r *LedgerRepository) SumEventPoints(ctx context.Context, userID int64, eventType string, since time.Time) (int64, error) {
	var sum int64
	err := r.db.WithContext(ctx).
		Model(&model.RewardLedgerEntry{}).
		Select("IFNULL(SUM(points_delta), 0)").
		Where("user_id = ? AND event_type = ? AND points_delta > 0 AND created_at >= ?", userID, eventType, since).
		Scan(&sum).Error
	return sum, err
}

func (r *LedgerRepository) SumPositiveSince(ctx context.Context, userID int64, since time.Time) (int64, error) {
	var sum int64
	err := r.db.WithContext(ctx).
		Model(&model.RewardLedgerEntry{}).
		Select("IFNULL(SUM(points_delta), 0)").
		Where("user_id = ? AND points_delta > 0 AND created_at >= ?", userID, since).
		Scan(&sum).Error
	return sum, err
}

func (r *LedgerRepository) CountRedemptionsSince(ctx context.Context, userID int64, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.RewardLedgerEntry{}).
		Where("user_id = ? AND event_type = ? AND created_at >= ?", userID, model.EventTypePointsRedeemed, since).
		Count(&count).Error
	return count, err
}

func (r *LedgerRepository) ListAccrued(ctx context.Context, userID int64) ([]*model.RewardLedgerEntry, error) {
	var entries []*model.RewardLedgerEntry
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ? AND points_delta > 0", userID, model.EntryStatusAccrued).
		Order("created_at ASC, id ASC").
		Find(&entries).Error
	return entries, err
}

func (r *LedgerRepository) AllocatedPoints(ctx context.Context, entryIDs []int64) (map[int64]int64, error) {
	result := make(map[int64]int64, len(entryIDs))
	if len(entryIDs) == 0 {
		return result, nil
	}

	var rows []struct {
		SourceEntryID int64
		Total         int64
	}
	err := r.db.WithContext(ctx).
		Model(&model.RewardAllocation{}).
		Select("source_entry_id, IFNULL(SUM(points), 0) AS total").
		Where("source_entry_id IN ?", entryIDs).
		Group("source_entry_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	for _, row := range rows {
		result[row.SourceEntryID] = row.Total
	}
	return result, nil
}

func (r *LedgerRepository) ListDueCredits(ctx context.Context, now time.Time, limit int) ([]*model.RewardLedgerEntry, error) {
	var entries []*model.RewardLedgerEntry
	err := r.db.WithContext(ctx).
		Where("status = ? AND points_delta > 0 AND expires_at IS NOT NULL AND expires_at <= ?", model.EntryStatusAccrued, now).
		Order("user_id ASC, created_at ASC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

func (r *LedgerRepository) ListEntries(ctx context.Context, userID int64, action string, cursor int64, limit int) ([]*model.RewardLedgerEntry, error) {
	query := r.db.WithContext(ctx).Where("user_id = ?", userID)

	switch action {
	case "income":
		query = query.Where("points_delta > ?", 0)
	case "expense":
		query = query.Where("points_delta < ?", 0)
	}

	if cursor > 0 {
		query = query.Where("id < ?", cursor)
	}

	var entries []*model.RewardLedgerEntry
	err := query.Order("id DESC").Limit(limit).Find(&entries).Error
	return entries, err
}

func (r *LedgerRepository) ListAllEntries(ctx context.Context, userID int64) ([]*model.RewardLedgerEntry, error) {
	var entries []*model.RewardLedgerEntry
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id ASC").
		Find(&entries).Error
	return entries, err
}

// AppendCredit 插入贷方流水并同步账户投影
// 账户更新带乐观锁版本校验，版本不匹配说明并发写入，整个事务回滚
func (r *LedgerRepository) AppendCredit(ctx context.Context, entry *model.RewardLedgerEntry, tier string, version int) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(entry).Error; err != nil {
			return err
		}

		result := tx.Model(&model.RewardAccount{}).
			Where("user_id = ? AND version = ?", entry.UserID, version).
			Updates(map[string]interface{}{
				"available_points": gorm.Expr("available_points + ?", entry.PointsDelta),
				"lifetime_points":  gorm.Expr("lifetime_points + ?", entry.PointsDelta),
				"tier":             tier,
				"version":          gorm.Expr("version + 1"),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrOptimisticLock
		}
		return nil
	})
}

// AppendDebit 插入借方流水、分摊行并关闭被完全消耗的贷方流水
// closedIDs 中任意一条不再处于 ACCRUED 状态即视为并发兑换冲突，整体回滚
func (r *LedgerRepository) AppendDebit(ctx context.Context, debit *model.RewardLedgerEntry, allocs []*model.RewardAllocation,
	closedIDs []int64, closedStatus string, tier string, version int) error {

	if !model.CanTransitionTo(model.EntryStatusAccrued, closedStatus) {
		return ErrStatusConflict
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(debit).Error; err != nil {
			return err
		}

		for _, alloc := range allocs {
			alloc.DebitEntryID = debit.ID
		}
		if len(allocs) > 0 {
			if err := tx.Create(allocs).Error; err != nil {
				return err
			}
		}

		if len(closedIDs) > 0 {
			result := tx.Model(&model.RewardLedgerEntry{}).
				Where("id IN ? AND status = ?", closedIDs, model.EntryStatusAccrued).
				Update("status", closedStatus)
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected != int64(len(closedIDs)) {
				return ErrStatusConflict
			}
		}

		consumed := -debit.PointsDelta
		updates := map[string]interface{}{
			"available_points": gorm.Expr("available_points - ?", consumed),
			"tier":             tier,
			"version":          gorm.Expr("version + 1"),
		}
		switch debit.EventType {
		case model.EventTypePointsExpired:
			updates["expired_points"] = gorm.Expr("expired_points + ?", consumed)
		default:
			updates["redeemed_points"] = gorm.Expr("redeemed_points + ?", consumed)
		}

		result := tx.Model(&model.RewardAccount{}).
			Where("user_id = ? AND version = ?", debit.UserID, version).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrOptimisticLock
		}
		return nil
	})
}

func (r *LedgerRepository) UpdateStatus(ctx context.Context, entryID int64, fromStatus, toStatus string) error {
	if !model.CanTransitionTo(fromStatus, toStatus) {
		return ErrStatusConflict
	}

	result := r.db.WithContext(ctx).
		Model(&model.RewardLedgerEntry{}).
		Where("id = ? AND status = ?", entryID, fromStatus).
		Update("status", toStatus)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}
