package model

import (
	"time"
)

// RewardRule 积分规则表
// 每种事件类型可配置多条规则，入账时取 priority 最高的生效规则
type RewardRule struct {
	ID             int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	EventType      string         `gorm:"type:varchar(64);index;not null" json:"event_type"` // 事件类型，如 ride_completed
	PointsPerEvent int64          `gorm:"not null" json:"points_per_event"`                  // 单次事件基础积分
	DailyCap       *int64         `json:"daily_cap"`                                         // 每日上限，nil 表示不限
	WeeklyCap      *int64         `json:"weekly_cap"`                                        // 每周上限（UTC 周一起算）
	MonthlyCap     *int64         `json:"monthly_cap"`                                       // 每月上限
	MinAmount      *int64         `json:"min_amount"`                                        // 交易金额下限（最小货币单位）
	MaxAmount      *int64         `json:"max_amount"`                                        // 交易金额上限
	Conditions     RuleConditions `gorm:"serializer:json" json:"conditions"`                 // 加成条件，按元数据匹配
	IsActive       bool           `gorm:"not null;default:true;index" json:"is_active"`
	Priority       int            `gorm:"not null;default:1" json:"priority"` // 数值越大优先级越高
	Description    string         `gorm:"type:varchar(256)" json:"description"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (RewardRule) TableName() string {
	return "reward_rule"
}

// AmountEligible 校验交易金额是否落在规则的金额区间内
// 规则未配置区间时任意金额都适用；配置了区间但事件未携带金额时不适用
func (r *RewardRule) AmountEligible(amount *int64) bool {
	if r.MinAmount == nil && r.MaxAmount == nil {
		return true
	}
	if amount == nil {
		return false
	}
	if r.MinAmount != nil && *amount < *r.MinAmount {
		return false
	}
	if r.MaxAmount != nil && *amount > *r.MaxAmount {
		return false
	}
	return true
}

// RuleConditions 规则加成条件
// 每条 Multiplier 是一个查表项：匹配事件元数据则按倍率加成，多条命中时连乘
type RuleConditions struct {
	Multipliers []Multiplier `json:"multipliers,omitempty"`
}

// Multiplier 单条加成项
// Equals 针对字符串字段做集合匹配，GTE/LT 针对数值字段做半开区间匹配
type Multiplier struct {
	Field  string   `json:"field"`
	Equals []string `json:"equals,omitempty"`
	GTE    *float64 `json:"gte,omitempty"`
	LT     *float64 `json:"lt,omitempty"`
	Factor float64  `json:"factor"`
}

// Matches 判断元数据是否命中该加成项
func (m *Multiplier) Matches(metadata map[string]interface{}) bool {
	if metadata == nil {
		return false
	}
	value, ok := metadata[m.Field]
	if !ok {
		return false
	}

	if len(m.Equals) > 0 {
		s, ok := value.(string)
		if !ok {
			return false
		}
		for _, candidate := range m.Equals {
			if s == candidate {
				return true
			}
		}
		return false
	}

	if m.GTE != nil || m.LT != nil {
		n, ok := toFloat(value)
		if !ok {
			return false
		}
		if m.GTE != nil && n < *m.GTE {
			return false
		}
		if m.LT != nil && n >= *m.LT {
			return false
		}
		return true
	}

	return false
}

// Apply 对基础积分应用所有命中的加成项，连乘后向下取整
func (c *RuleConditions) Apply(basePoints int64, metadata map[string]interface{}) int64 {
	points := float64(basePoints)
	for i := range c.Multipliers {
		if c.Multipliers[i].Matches(metadata) {
			points *= c.Multipliers[i].Factor
		}
	}
	return int64(points)
}

// toFloat 元数据来自 JSON 反序列化，数值可能是 float64 或整型
func toFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
