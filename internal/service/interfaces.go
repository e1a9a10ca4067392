package service

import (
	"context"
	"time"

	"rewardsystem/internal/model"
)

// ============================================================================
// 引擎依赖的窄接口
// 生产实现在 repository / infrastructure 包，测试中注入内存实现
// ============================================================================

// LedgerStore 积分流水存储
// Append* 方法内部必须保证单事务原子性：流水插入、分摊行插入、
// 贷方状态迁移、账户投影更新要么全部成功要么全部失败
type LedgerStore interface {
	// LastBalance 最近一条流水的 balance_after，无流水返回 0
	LastBalance(ctx context.Context, userID int64) (int64, error)
	// FindByEventID 按外部业务单号做幂等查询，未找到返回 nil
	FindByEventID(ctx context.Context, userID int64, eventType, eventID string) (*model.RewardLedgerEntry, error)
	// SumEventPoints 窗口内同事件类型正向流水积分之和（上限核算用）
	SumEventPoints(ctx context.Context, userID int64, eventType string, since time.Time) (int64, error)
	// SumPositiveSince 窗口内全部正向流水积分之和（风控用）
	SumPositiveSince(ctx context.Context, userID int64, since time.Time) (int64, error)
	// CountRedemptionsSince 窗口内兑换借方流水笔数（风控用）
	CountRedemptionsSince(ctx context.Context, userID int64, since time.Time) (int64, error)
	// ListAccrued 状态为 ACCRUED 的贷方流水，创建时间升序
	ListAccrued(ctx context.Context, userID int64) ([]*model.RewardLedgerEntry, error)
	// AllocatedPoints 各贷方流水已被分摊消耗的积分数
	AllocatedPoints(ctx context.Context, entryIDs []int64) (map[int64]int64, error)
	// ListDueCredits 已过有效期但仍为 ACCRUED 的贷方流水（跨用户，过期任务用）
	ListDueCredits(ctx context.Context, now time.Time, limit int) ([]*model.RewardLedgerEntry, error)
	// ListEntries 用户流水游标分页，id 降序；action 取 ""/income/expense
	ListEntries(ctx context.Context, userID int64, action string, cursor int64, limit int) ([]*model.RewardLedgerEntry, error)
	// ListAllEntries 用户全部流水，创建顺序升序（投影重建用）
	ListAllEntries(ctx context.Context, userID int64) ([]*model.RewardLedgerEntry, error)

	// AppendCredit 插入贷方流水并按乐观锁版本更新账户投影
	AppendCredit(ctx context.Context, entry *model.RewardLedgerEntry, tier string, version int) error
	// AppendDebit 插入借方流水与分摊行，关闭被完全消耗的贷方流水，
	// 并按乐观锁版本更新账户投影
	AppendDebit(ctx context.Context, debit *model.RewardLedgerEntry, allocs []*model.RewardAllocation,
		closedIDs []int64, closedStatus string, tier string, version int) error
	// UpdateStatus 单条流水状态迁移，带前置状态守卫
	UpdateStatus(ctx context.Context, entryID int64, fromStatus, toStatus string) error
}

// RuleSource 规则来源，按优先级降序返回生效规则
type RuleSource interface {
	ActiveRules(ctx context.Context, eventType string) ([]*model.RewardRule, error)
}

// AccountStore 账户投影存储
type AccountStore interface {
	GetOrCreate(ctx context.Context, userID int64) (*model.RewardAccount, error)
	Get(ctx context.Context, userID int64) (*model.RewardAccount, error)
	// Replace 用回放结果整体覆盖投影（重建用）
	Replace(ctx context.Context, account *model.RewardAccount) error
}

// UserLocker 用户级串行化
// 同一用户的入账与兑换必须串行执行，不同用户完全并行
type UserLocker interface {
	WithUserLock(ctx context.Context, userID int64, fn func() error) error
}

// Notifier 通知分发，fire-and-forget：实现内部记录失败，绝不向调用方返回错误
type Notifier interface {
	Notify(ctx context.Context, userID int64, kind string, payload map[string]interface{})
}
