package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Sink 业务指标上报接口
// 引擎只依赖该接口，不持有全局计数器，测试中可注入内存实现断言
type Sink interface {
	AccrualRecorded(eventType string, points int64, capped bool)
	RedemptionRecorded(redemptionType string, points int64)
	FraudBlocked(reason string)
	TierChanged(tier string)
	EntriesExpired(count int, points int64)
}

// ============================================================================
// Prometheus 实现
// ============================================================================

var (
	accrualTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reward_accruals_total",
			Help: "Total number of accrual operations",
		},
		[]string{"event_type", "capped"},
	)
	accrualPoints = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reward_accrued_points_total",
			Help: "Total points awarded",
		},
		[]string{"event_type"},
	)
	redemptionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reward_redemptions_total",
			Help: "Total number of redemptions",
		},
		[]string{"redemption_type"},
	)
	redemptionPoints = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reward_redeemed_points_total",
			Help: "Total points redeemed",
		},
		[]string{"redemption_type"},
	)
	fraudBlockedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reward_fraud_blocked_total",
			Help: "Redemptions denied by fraud checks",
		},
		[]string{"reason"},
	)
	tierChangedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reward_tier_changes_total",
			Help: "Tier transitions",
		},
		[]string{"tier"},
	)
	expiredEntriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reward_expired_entries_total",
			Help: "Ledger entries expired by the sweeper",
		},
	)
	expiredPointsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reward_expired_points_total",
			Help: "Points expired by the sweeper",
		},
	)
)

func init() {
	prometheus.MustRegister(
		accrualTotal,
		accrualPoints,
		redemptionTotal,
		redemptionPoints,
		fraudBlockedTotal,
		tierChangedTotal,
		expiredEntriesTotal,
		expiredPointsTotal,
	)
}

// PromSink 上报到 Prometheus 默认注册表
type PromSink struct{}

func NewPromSink() *PromSink {
	return &PromSink{}
}

func (s *PromSink) AccrualRecorded(eventType string, points int64, capped bool) {
	cappedLabel := "false"
	if capped {
		cappedLabel = "true"
	}
	accrualTotal.WithLabelValues(eventType, cappedLabel).Inc()
	accrualPoints.WithLabelValues(eventType).Add(float64(points))
}

func (s *PromSink) RedemptionRecorded(redemptionType string, points int64) {
	redemptionTotal.WithLabelValues(redemptionType).Inc()
	redemptionPoints.WithLabelValues(redemptionType).Add(float64(points))
}

func (s *PromSink) FraudBlocked(reason string) {
	fraudBlockedTotal.WithLabelValues(reason).Inc()
}

func (s *PromSink) TierChanged(tier string) {
	tierChangedTotal.WithLabelValues(tier).Inc()
}

func (s *PromSink) EntriesExpired(count int, points int64) {
	expiredEntriesTotal.Add(float64(count))
	expiredPointsTotal.Add(float64(points))
}

// NopSink 空实现
type NopSink struct{}

func (NopSink) AccrualRecorded(string, int64, bool) {}
func (NopSink) RedemptionRecorded(string, int64)    {}
func (NopSink) FraudBlocked(string)                 {}
func (NopSink) TierChanged(string)                  {}
func (NopSink) EntriesExpired(int, int64)           {}
