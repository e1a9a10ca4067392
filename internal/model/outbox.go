package model

import (
	"time"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// 通知类型，写入消息 payload 的 kind 字段
const (
	NotifyKindPointsAccrued  = "points_accrued"
	NotifyKindPointsRedeemed = "points_redeemed"
	NotifyKindPointsExpired  = "points_expired"
	NotifyKindTierChanged    = "tier_changed"
)

// OutboxMessage 通知外发表
// 通知投递是 fire-and-forget：消息行随业务写入落库，
// 后台任务异步投递 Kafka，投递失败绝不回滚积分变动
type OutboxMessage struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageKey string    `gorm:"type:varchar(64);not null" json:"message_key"`
	Topic      string    `gorm:"type:varchar(64);not null" json:"topic"`
	Payload    string    `gorm:"type:text;not null" json:"payload"`
	Status     string    `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount int       `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}
