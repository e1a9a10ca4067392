package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"rewardsystem/internal/model"
	"rewardsystem/pkg/idgen"
)

type redemptionFixture struct {
	store    *memStore
	notifier *memNotifier
	sink     *memSink
	svc      *RedemptionService
	clock    time.Time
}

func newRedemptionFixture() *redemptionFixture {
	f := &redemptionFixture{
		store:    newMemStore(),
		notifier: &memNotifier{},
		sink:     &memSink{},
		clock:    time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	cfg := testBusinessConfig()
	fraud := NewFraudChecker(f.store, cfg)
	fraud.now = func() time.Time { return f.clock }
	f.svc = NewRedemptionService(f.store, f.store, &memLocker{}, fraud, f.notifier, f.sink, cfg)
	f.svc.now = func() time.Time { return f.clock }
	return f
}

// seedCredit 直接落一条入账流水（绕过规则引擎）
func (f *redemptionFixture) seedCredit(t *testing.T, userID, points int64, createdAt time.Time, expiresAt *time.Time) *model.RewardLedgerEntry {
	t.Helper()
	ctx := context.Background()

	account, err := f.store.GetOrCreate(ctx, userID)
	if err != nil {
		t.Fatal(err)
	}
	balance, err := f.store.LastBalance(ctx, userID)
	if err != nil {
		t.Fatal(err)
	}

	entry := &model.RewardLedgerEntry{
		EntryNo:      idgen.GenerateEntryNo(),
		UserID:       userID,
		EventType:    "ride_completed",
		PointsDelta:  points,
		BalanceAfter: balance + points,
		Status:       model.EntryStatusAccrued,
		ExpiresAt:    expiresAt,
		CreatedAt:    createdAt,
	}
	tier := model.TierFor(account.LifetimePoints + points)
	if err := f.store.AppendCredit(ctx, entry, tier.Name, account.Version); err != nil {
		t.Fatalf("seedCredit: %v", err)
	}
	return entry
}

// seedRedemptionDebit 直接落一条兑换借方流水（风控频次测试用）
func (f *redemptionFixture) seedRedemptionDebit(t *testing.T, userID, points int64, createdAt time.Time) {
	t.Helper()
	ctx := context.Background()

	account, err := f.store.GetOrCreate(ctx, userID)
	if err != nil {
		t.Fatal(err)
	}
	balance, err := f.store.LastBalance(ctx, userID)
	if err != nil {
		t.Fatal(err)
	}

	credits, err := f.store.ListAccrued(ctx, userID)
	if err != nil {
		t.Fatal(err)
	}
	creditIDs := make([]int64, 0, len(credits))
	for _, c := range credits {
		creditIDs = append(creditIDs, c.ID)
	}
	allocated, err := f.store.AllocatedPoints(ctx, creditIDs)
	if err != nil {
		t.Fatal(err)
	}
	allocs, closedIDs, err := planAllocation(credits, allocated, points, createdAt)
	if err != nil {
		t.Fatal(err)
	}

	debit := &model.RewardLedgerEntry{
		EntryNo:      idgen.GenerateEntryNo(),
		UserID:       userID,
		EventType:    model.EventTypePointsRedeemed,
		PointsDelta:  -points,
		BalanceAfter: balance - points,
		Status:       model.EntryStatusRedeemed,
		CreatedAt:    createdAt,
	}
	tier := model.TierFor(account.LifetimePoints)
	if err := f.store.AppendDebit(ctx, debit, allocs, closedIDs, model.EntryStatusRedeemed, tier.Name, account.Version); err != nil {
		t.Fatalf("seedRedemptionDebit: %v", err)
	}
}

// 守恒：兑换 N 分，可用余额恰好减少 N
func TestRedeemConservation(t *testing.T) {
	f := newRedemptionFixture()
	f.seedCredit(t, 1, 100, f.clock.Add(-48*time.Hour), nil)

	receipt, err := f.svc.Redeem(context.Background(), &RedeemRequest{
		UserID: 1, Points: 40, RedemptionType: "cashback",
	})
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}

	if receipt.Points != 40 || receipt.Balance != 60 {
		t.Errorf("receipt = %+v, want points=40 balance=60", receipt)
	}
	if receipt.Value != 40 || receipt.Currency != "INR" {
		t.Errorf("value=%d currency=%s, want 40/INR", receipt.Value, receipt.Currency)
	}
	if receipt.RedemptionNo == "" {
		t.Error("兑换单号不能为空")
	}

	account := f.store.mustAccount(1)
	if account.AvailablePoints != 60 || account.RedeemedPoints != 40 || account.LifetimePoints != 100 {
		t.Errorf("account = %+v, want available=60 redeemed=40 lifetime=100", account)
	}
	if f.sink.redemptions != 1 {
		t.Errorf("兑换指标记录 %d 次, want 1", f.sink.redemptions)
	}
	if kinds := f.notifier.kinds(); len(kinds) != 1 || kinds[0] != model.NotifyKindPointsRedeemed {
		t.Errorf("通知 = %v, want [points_redeemed]", kinds)
	}
}

// 余额不足：拒绝且余额分毫不动
func TestRedeemInsufficientBalance(t *testing.T) {
	f := newRedemptionFixture()
	f.seedCredit(t, 1, 30, f.clock.Add(-48*time.Hour), nil)

	_, err := f.svc.Redeem(context.Background(), &RedeemRequest{
		UserID: 1, Points: 50, RedemptionType: "cashback",
	})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}

	account := f.store.mustAccount(1)
	if account.AvailablePoints != 30 || account.RedeemedPoints != 0 {
		t.Errorf("被拒兑换后 account = %+v, 余额不应变化", account)
	}
	if f.store.entryCount(1) != 1 {
		t.Error("被拒兑换不应落借方流水")
	}
}

func TestRedeemInvalidPoints(t *testing.T) {
	f := newRedemptionFixture()
	for _, points := range []int64{0, -5} {
		if _, err := f.svc.Redeem(context.Background(), &RedeemRequest{
			UserID: 1, Points: points, RedemptionType: "cashback",
		}); !errors.Is(err, ErrInvalidPoints) {
			t.Errorf("points=%d err = %v, want ErrInvalidPoints", points, err)
		}
	}
}

// 最早入账优先消耗；贷方流水只有被完全消耗才迁移终态
func TestRedeemAllocationOldestFirst(t *testing.T) {
	f := newRedemptionFixture()
	base := f.clock.Add(-72 * time.Hour)
	first := f.seedCredit(t, 1, 100, base, nil)
	second := f.seedCredit(t, 1, 50, base.Add(time.Hour), nil)
	third := f.seedCredit(t, 1, 30, base.Add(2*time.Hour), nil)

	receipt, err := f.svc.Redeem(context.Background(), &RedeemRequest{
		UserID: 1, Points: 120, RedemptionType: "voucher",
	})
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if receipt.Balance != 60 {
		t.Errorf("balance = %d, want 60", receipt.Balance)
	}

	ctx := context.Background()
	if got := f.store.findLocked(first.ID).Status; got != model.EntryStatusRedeemed {
		t.Errorf("完全消耗的贷方状态 = %s, want REDEEMED", got)
	}
	if got := f.store.findLocked(second.ID).Status; got != model.EntryStatusAccrued {
		t.Errorf("部分消耗的贷方状态 = %s, want ACCRUED", got)
	}
	if got := f.store.findLocked(third.ID).Status; got != model.EntryStatusAccrued {
		t.Errorf("未消耗的贷方状态 = %s, want ACCRUED", got)
	}

	allocated, err := f.store.AllocatedPoints(ctx, []int64{first.ID, second.ID, third.ID})
	if err != nil {
		t.Fatal(err)
	}
	if allocated[first.ID] != 100 || allocated[second.ID] != 20 || allocated[third.ID] != 0 {
		t.Errorf("分摊 = %v, want {first:100 second:20 third:0}", allocated)
	}

	// 贷方流水的 points_delta 永不修改
	if f.store.findLocked(first.ID).PointsDelta != 100 || f.store.findLocked(second.ID).PointsDelta != 50 {
		t.Error("贷方流水金额被修改")
	}
}

// 已过期的贷方不参与消耗
func TestRedeemSkipsExpiredCredits(t *testing.T) {
	f := newRedemptionFixture()
	base := f.clock.Add(-72 * time.Hour)
	expiredAt := f.clock.Add(-time.Hour)
	stale := f.seedCredit(t, 1, 100, base, &expiredAt)
	fresh := f.seedCredit(t, 1, 50, base.Add(time.Hour), nil)

	if _, err := f.svc.Redeem(context.Background(), &RedeemRequest{
		UserID: 1, Points: 40, RedemptionType: "discount",
	}); err != nil {
		t.Fatalf("Redeem: %v", err)
	}

	allocated, err := f.store.AllocatedPoints(context.Background(), []int64{stale.ID, fresh.ID})
	if err != nil {
		t.Fatal(err)
	}
	if allocated[stale.ID] != 0 {
		t.Error("已过期贷方不应被消耗")
	}
	if allocated[fresh.ID] != 40 {
		t.Errorf("未过期贷方分摊 = %d, want 40", allocated[fresh.ID])
	}
}

// 过期任务还没来得及落账时，超出未过期额度的兑换按余额不足处理
func TestRedeemExpiredNotYetSwept(t *testing.T) {
	f := newRedemptionFixture()
	base := f.clock.Add(-72 * time.Hour)
	expiredAt := f.clock.Add(-time.Hour)
	f.seedCredit(t, 1, 100, base, &expiredAt)
	f.seedCredit(t, 1, 50, base.Add(time.Hour), nil)

	_, err := f.svc.Redeem(context.Background(), &RedeemRequest{
		UserID: 1, Points: 120, RedemptionType: "cashback",
	})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}

	// 未过期额度内的兑换照常成功
	receipt, err := f.svc.Redeem(context.Background(), &RedeemRequest{
		UserID: 1, Points: 50, RedemptionType: "cashback",
	})
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if receipt.Points != 50 {
		t.Errorf("receipt.Points = %d, want 50", receipt.Points)
	}
}

// 风控频次：最近 1 小时兑换笔数达到阈值则拒绝
func TestRedeemFraudVelocity(t *testing.T) {
	f := newRedemptionFixture()
	f.seedCredit(t, 1, 900, f.clock.Add(-48*time.Hour), nil)

	for i := 0; i < 5; i++ {
		f.seedRedemptionDebit(t, 1, 10, f.clock.Add(-time.Duration(50-i*10)*time.Minute))
	}

	_, err := f.svc.Redeem(context.Background(), &RedeemRequest{
		UserID: 1, Points: 10, RedemptionType: "cashback",
	})
	reason, blocked := IsFraudBlocked(err)
	if !blocked || reason != FraudReasonVelocity {
		t.Fatalf("err = %v, want 风控频次拦截", err)
	}
	if len(f.sink.fraudReasons) != 1 || f.sink.fraudReasons[0] != FraudReasonVelocity {
		t.Errorf("风控指标 = %v", f.sink.fraudReasons)
	}

	// 被拦截的兑换不落流水
	account := f.store.mustAccount(1)
	if account.AvailablePoints != 850 {
		t.Errorf("available = %d, want 850", account.AvailablePoints)
	}
}

// 风控总量：最近 24 小时入账积分超过阈值则拒绝
func TestRedeemFraudVolume(t *testing.T) {
	f := newRedemptionFixture()
	f.seedCredit(t, 1, 800, f.clock.Add(-2*time.Hour), nil)
	f.seedCredit(t, 1, 400, f.clock.Add(-time.Hour), nil)

	_, err := f.svc.Redeem(context.Background(), &RedeemRequest{
		UserID: 1, Points: 100, RedemptionType: "cashback",
	})
	reason, blocked := IsFraudBlocked(err)
	if !blocked || reason != FraudReasonVolume {
		t.Fatalf("err = %v, want 风控总量拦截", err)
	}
}

// 超过 24 小时的历史入账不参与总量核算
func TestRedeemFraudVolumeWindowExcludesOld(t *testing.T) {
	f := newRedemptionFixture()
	f.seedCredit(t, 1, 5000, f.clock.Add(-48*time.Hour), nil)
	f.seedCredit(t, 1, 100, f.clock.Add(-time.Hour), nil)

	if _, err := f.svc.Redeem(context.Background(), &RedeemRequest{
		UserID: 1, Points: 100, RedemptionType: "cashback",
	}); err != nil {
		t.Fatalf("窗口外入账不应触发风控: %v", err)
	}
}

func TestPlanAllocation(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	credits := []*model.RewardLedgerEntry{
		{ID: 1, UserID: 1, PointsDelta: 100, CreatedAt: now.Add(-3 * time.Hour)},
		{ID: 2, UserID: 1, PointsDelta: 50, CreatedAt: now.Add(-2 * time.Hour)},
		{ID: 3, UserID: 1, PointsDelta: 30, CreatedAt: now.Add(-time.Hour)},
	}

	// 第一条已被消耗 40，可用 60+50+30
	allocs, closedIDs, err := planAllocation(credits, map[int64]int64{1: 40}, 80, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(allocs) != 2 || allocs[0].SourceEntryID != 1 || allocs[0].Points != 60 ||
		allocs[1].SourceEntryID != 2 || allocs[1].Points != 20 {
		t.Errorf("allocs = %v", describeAllocs(allocs))
	}
	if len(closedIDs) != 1 || closedIDs[0] != 1 {
		t.Errorf("closedIDs = %v, want [1]", closedIDs)
	}

	// 可消耗不足
	if _, _, err := planAllocation(credits, nil, 200, now); err == nil {
		t.Error("可消耗积分不足应返回错误")
	}

	// 恰好用尽所有贷方
	allocs, closedIDs, err = planAllocation(credits, nil, 180, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(allocs) != 3 || len(closedIDs) != 3 {
		t.Errorf("allocs=%d closed=%d, want 3/3", len(allocs), len(closedIDs))
	}
}

func describeAllocs(allocs []*model.RewardAllocation) string {
	out := ""
	for _, a := range allocs {
		out += fmt.Sprintf("{src:%d pts:%d}", a.SourceEntryID, a.Points)
	}
	return out
}
