package model

import (
	"time"
)

// RewardAccount 积分账户表
// 流水表的物化投影，不是事实来源 —— 任何时刻都可以按创建顺序
// 回放该用户的全部流水重建出来
type RewardAccount struct {
	ID              int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID          int64     `gorm:"uniqueIndex;not null" json:"user_id"`
	AvailablePoints int64     `gorm:"not null;default:0" json:"available_points"` // 可用积分（未过期未消耗）
	LifetimePoints  int64     `gorm:"not null;default:0" json:"lifetime_points"`  // 历史累计获得（所有正向流水之和）
	RedeemedPoints  int64     `gorm:"not null;default:0" json:"redeemed_points"`  // 历史累计兑换
	ExpiredPoints   int64     `gorm:"not null;default:0" json:"expired_points"`   // 历史累计过期
	Tier            string    `gorm:"type:varchar(20);not null;default:bronze" json:"tier"`
	Version         int       `gorm:"not null;default:0" json:"version"` // 乐观锁版本号
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (RewardAccount) TableName() string {
	return "reward_account"
}
