package model

// ============================================================================
// 等级计算
// ============================================================================
//
// 等级是 lifetime_points 的确定性函数：同样的累计积分永远得到同样的等级，
// 累计积分只增不减，等级也只升不降
// ============================================================================

// TierLevel 等级定义（按门槛升序）
type TierLevel struct {
	Name      string   `json:"name"`
	MinPoints int64    `json:"min_points"`
	Benefits  []string `json:"benefits"`
}

// TierTable 等级门槛表
var TierTable = []TierLevel{
	{Name: "bronze", MinPoints: 0, Benefits: []string{"base_earn_rate"}},
	{Name: "silver", MinPoints: 1000, Benefits: []string{"base_earn_rate", "priority_support"}},
	{Name: "gold", MinPoints: 5000, Benefits: []string{"base_earn_rate", "priority_support", "free_cancellation"}},
	{Name: "platinum", MinPoints: 15000, Benefits: []string{"base_earn_rate", "priority_support", "free_cancellation", "free_upgrades"}},
}

// TierInfo 等级及升级进度
type TierInfo struct {
	Name         string   `json:"name"`
	NextTier     string   `json:"next_tier,omitempty"`      // 最高等级时为空
	PointsToNext int64    `json:"points_to_next"`           // 距下一等级还差多少累计积分
	Benefits     []string `json:"benefits"`
}

// TierFor 根据累计积分计算等级，纯函数，无 I/O
func TierFor(lifetimePoints int64) TierInfo {
	if lifetimePoints < 0 {
		lifetimePoints = 0
	}

	idx := 0
	for i := range TierTable {
		if lifetimePoints >= TierTable[i].MinPoints {
			idx = i
		}
	}

	info := TierInfo{
		Name:     TierTable[idx].Name,
		Benefits: TierTable[idx].Benefits,
	}
	if idx+1 < len(TierTable) {
		info.NextTier = TierTable[idx+1].Name
		info.PointsToNext = TierTable[idx+1].MinPoints - lifetimePoints
	}
	return info
}
