package model

import (
	"time"
)

// ============================================================================
// 积分流水实体
// ============================================================================

const (
	EntryStatusAccrued   = "ACCRUED"   // 已入账，可用于兑换
	EntryStatusRedeemed  = "REDEEMED"  // 已兑换（贷方条目被完全消耗，或借方条目本身）
	EntryStatusExpired   = "EXPIRED"   // 已过期
	EntryStatusCancelled = "CANCELLED" // 已作废
)

// ValidStatusTransitions 流水状态机
// 流水只追加不修改，status 是唯一允许变更的字段，且只能进入一个终态
var ValidStatusTransitions = map[string][]string{
	EntryStatusAccrued: {EntryStatusRedeemed, EntryStatusExpired, EntryStatusCancelled},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidStatusTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// 借方流水的事件类型（非规则事件，由引擎内部写入）
const (
	EventTypePointsRedeemed = "points_redeemed"
	EventTypePointsExpired  = "points_expired"
)

// RewardLedgerEntry 积分流水表
// 记录每一笔积分变动，是对账的核心依据
//
// 【重要】流水表设计原则：
// 1. 只追加，不修改，不删除 —— 保证审计可追溯
// 2. 记录变动后余额 —— balance_after 必须等于同一用户上一条流水的
//    balance_after 加上本条 points_delta
// 3. 按用户回放全部流水求和，结果必须等于账户可用余额
type RewardLedgerEntry struct {
	ID             int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	EntryNo        string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"entry_no"`    // 流水号（全局唯一）
	UserID         int64      `gorm:"index:idx_user_created;not null" json:"user_id"`           // 用户ID
	EventType      string     `gorm:"type:varchar(64);index;not null" json:"event_type"`        // 事件类型
	EventID        string     `gorm:"type:varchar(64);index" json:"event_id"`                   // 外部业务单号（幂等关键，可为空）
	PointsDelta    int64      `gorm:"not null" json:"points_delta"`                             // 积分变动（正数入账，负数兑换/过期）
	BalanceAfter   int64      `gorm:"not null" json:"balance_after"`                            // 变动后余额快照
	Status         string     `gorm:"type:varchar(20);index;not null" json:"status"`            // 流水状态
	RuleID         *int64     `gorm:"index" json:"rule_id"`                                     // 命中的规则，借方流水为空
	RedemptionNo   string     `gorm:"type:varchar(64);index" json:"redemption_no"`              // 兑换单号，仅兑换借方流水
	RedemptionType string     `gorm:"type:varchar(32)" json:"redemption_type"`                  // cashback / discount / voucher
	Remark         string     `gorm:"type:varchar(256)" json:"remark"`                          // 备注
	ExpiresAt      *time.Time `gorm:"index" json:"expires_at"`                                  // 贷方流水的过期时间
	CreatedAt      time.Time  `gorm:"autoCreateTime;index:idx_user_created" json:"created_at"`
}

func (RewardLedgerEntry) TableName() string {
	return "reward_ledger_entry"
}

// IsCredit 是否为入账流水
func (e *RewardLedgerEntry) IsCredit() bool {
	return e.PointsDelta >= 0
}

// ExpiredBy 贷方流水在指定时刻是否已过期
func (e *RewardLedgerEntry) ExpiredBy(now time.Time) bool {
	return e.ExpiresAt != nil && !e.ExpiresAt.After(now)
}

// RewardAllocation 兑换分摊表
// 记录一条借方流水消耗了哪些贷方流水的多少积分（最早入账优先）
// 贷方流水的 points_delta 永不修改，部分消耗通过分摊行表达；
// 某条贷方流水的分摊合计达到其 points_delta 时，状态才迁移为 REDEEMED
type RewardAllocation struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID        int64     `gorm:"index;not null" json:"user_id"`
	DebitEntryID  int64     `gorm:"index;not null" json:"debit_entry_id"`  // 借方流水ID
	SourceEntryID int64     `gorm:"index;not null" json:"source_entry_id"` // 被消耗的贷方流水ID
	Points        int64     `gorm:"not null" json:"points"`                // 本次消耗的积分数
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (RewardAllocation) TableName() string {
	return "reward_allocation"
}
