package model

import (
	"testing"
	"time"
)

func TestCanTransitionTo(t *testing.T) {
	tests := []struct {
		from string
		to   string
		want bool
	}{
		{EntryStatusAccrued, EntryStatusRedeemed, true},
		{EntryStatusAccrued, EntryStatusExpired, true},
		{EntryStatusAccrued, EntryStatusCancelled, true},
		{EntryStatusRedeemed, EntryStatusAccrued, false}, // 终态不可回退
		{EntryStatusRedeemed, EntryStatusExpired, false},
		{EntryStatusExpired, EntryStatusRedeemed, false},
		{EntryStatusCancelled, EntryStatusAccrued, false},
		{"UNKNOWN", EntryStatusRedeemed, false},
	}

	for _, tt := range tests {
		if got := CanTransitionTo(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransitionTo(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestExpiredBy(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	entry := &RewardLedgerEntry{ExpiresAt: &past}
	if !entry.ExpiredBy(now) {
		t.Error("过期时间在当前时刻之前，应判定为已过期")
	}

	entry.ExpiresAt = &future
	if entry.ExpiredBy(now) {
		t.Error("过期时间在当前时刻之后，不应判定为已过期")
	}

	// 边界：恰好等于当前时刻视为已过期
	entry.ExpiresAt = &now
	if !entry.ExpiredBy(now) {
		t.Error("过期时间恰好等于当前时刻，应判定为已过期")
	}

	entry.ExpiresAt = nil
	if entry.ExpiredBy(now) {
		t.Error("未设置过期时间的流水永不过期")
	}
}

func TestIsCredit(t *testing.T) {
	if !(&RewardLedgerEntry{PointsDelta: 10}).IsCredit() {
		t.Error("正数变动应为入账流水")
	}
	if (&RewardLedgerEntry{PointsDelta: -10}).IsCredit() {
		t.Error("负数变动不应为入账流水")
	}
}
