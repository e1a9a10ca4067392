package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"rewardsystem/internal/model"
	"rewardsystem/internal/repository"
)

// ============================================================================
// 引擎测试用内存实现
// 语义对齐 repository 包：乐观锁版本校验、状态迁移守卫、原子追加
// ============================================================================

type memStore struct {
	mu       sync.Mutex
	nextID   int64
	entries  []*model.RewardLedgerEntry
	allocs   []*model.RewardAllocation
	accounts map[int64]*model.RewardAccount
}

func newMemStore() *memStore {
	return &memStore{accounts: make(map[int64]*model.RewardAccount)}
}

func (m *memStore) LastBalance(_ context.Context, userID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	balance := int64(0)
	for _, e := range m.entries {
		if e.UserID == userID {
			balance = e.BalanceAfter
		}
	}
	return balance, nil
}

func (m *memStore) FindByEventID(_ context.Context, userID int64, eventType, eventID string) (*model.RewardLedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.UserID == userID && e.EventType == eventType && e.EventID == eventID {
			return e, nil
		}
	}
	return nil, nil
}

func (m *memStore) SumEventPoints(_ context.Context, userID int64, eventType string, since time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sum := int64(0)
	for _, e := range m.entries {
		if e.UserID == userID && e.EventType == eventType && e.PointsDelta > 0 && !e.CreatedAt.Before(since) {
			sum += e.PointsDelta
		}
	}
	return sum, nil
}

func (m *memStore) SumPositiveSince(_ context.Context, userID int64, since time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sum := int64(0)
	for _, e := range m.entries {
		if e.UserID == userID && e.PointsDelta > 0 && !e.CreatedAt.Before(since) {
			sum += e.PointsDelta
		}
	}
	return sum, nil
}

func (m *memStore) CountRedemptionsSince(_ context.Context, userID int64, since time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := int64(0)
	for _, e := range m.entries {
		if e.UserID == userID && e.EventType == model.EventTypePointsRedeemed && !e.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *memStore) ListAccrued(_ context.Context, userID int64) ([]*model.RewardLedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.RewardLedgerEntry
	for _, e := range m.entries {
		if e.UserID == userID && e.Status == model.EntryStatusAccrued && e.PointsDelta > 0 {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) AllocatedPoints(_ context.Context, entryIDs []int64) (map[int64]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wanted := make(map[int64]bool, len(entryIDs))
	for _, id := range entryIDs {
		wanted[id] = true
	}
	out := make(map[int64]int64)
	for _, a := range m.allocs {
		if wanted[a.SourceEntryID] {
			out[a.SourceEntryID] += a.Points
		}
	}
	return out, nil
}

func (m *memStore) ListDueCredits(_ context.Context, now time.Time, limit int) ([]*model.RewardLedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.RewardLedgerEntry
	for _, e := range m.entries {
		if e.Status == model.EntryStatusAccrued && e.PointsDelta > 0 && e.ExpiredBy(now) {
			out = append(out, e)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memStore) ListEntries(_ context.Context, userID int64, action string, cursor int64, limit int) ([]*model.RewardLedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.RewardLedgerEntry
	for _, e := range m.entries {
		if e.UserID != userID {
			continue
		}
		if cursor > 0 && e.ID >= cursor {
			continue
		}
		if action == "income" && e.PointsDelta <= 0 {
			continue
		}
		if action == "expense" && e.PointsDelta >= 0 {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) ListAllEntries(_ context.Context, userID int64) ([]*model.RewardLedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.RewardLedgerEntry
	for _, e := range m.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) AppendCredit(_ context.Context, entry *model.RewardLedgerEntry, tier string, version int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	account := m.accounts[entry.UserID]
	if account == nil || account.Version != version {
		return repository.ErrOptimisticLock
	}

	m.nextID++
	entry.ID = m.nextID
	m.entries = append(m.entries, entry)

	account.AvailablePoints += entry.PointsDelta
	account.LifetimePoints += entry.PointsDelta
	account.Tier = tier
	account.Version++
	return nil
}

func (m *memStore) AppendDebit(_ context.Context, debit *model.RewardLedgerEntry, allocs []*model.RewardAllocation,
	closedIDs []int64, closedStatus string, tier string, version int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	account := m.accounts[debit.UserID]
	if account == nil || account.Version != version {
		return repository.ErrOptimisticLock
	}

	for _, id := range closedIDs {
		credit := m.findLocked(id)
		if credit == nil || credit.Status != model.EntryStatusAccrued {
			return repository.ErrStatusConflict
		}
	}

	m.nextID++
	debit.ID = m.nextID
	m.entries = append(m.entries, debit)

	for _, a := range allocs {
		a.DebitEntryID = debit.ID
		m.allocs = append(m.allocs, a)
	}
	for _, id := range closedIDs {
		m.findLocked(id).Status = closedStatus
	}

	account.AvailablePoints += debit.PointsDelta
	if debit.EventType == model.EventTypePointsExpired {
		account.ExpiredPoints += -debit.PointsDelta
	} else {
		account.RedeemedPoints += -debit.PointsDelta
	}
	account.Tier = tier
	account.Version++
	return nil
}

func (m *memStore) UpdateStatus(_ context.Context, entryID int64, fromStatus, toStatus string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := m.findLocked(entryID)
	if entry == nil || entry.Status != fromStatus || !model.CanTransitionTo(fromStatus, toStatus) {
		return repository.ErrStatusConflict
	}
	entry.Status = toStatus
	return nil
}

func (m *memStore) findLocked(id int64) *model.RewardLedgerEntry {
	for _, e := range m.entries {
		if e.ID == id {
			return e
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// AccountStore
// ---------------------------------------------------------------------------

func (m *memStore) GetOrCreate(_ context.Context, userID int64) (*model.RewardAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	account := m.accounts[userID]
	if account == nil {
		account = &model.RewardAccount{UserID: userID, Tier: "bronze"}
		m.accounts[userID] = account
	}
	copied := *account
	return &copied, nil
}

func (m *memStore) Get(_ context.Context, userID int64) (*model.RewardAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	account := m.accounts[userID]
	if account == nil {
		return nil, repository.ErrAccountNotFound
	}
	copied := *account
	return &copied, nil
}

func (m *memStore) Replace(_ context.Context, account *model.RewardAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *account
	copied.Version = account.Version + 1
	m.accounts[account.UserID] = &copied
	return nil
}

// mustAccount 跳过仓储读路径，直接取内部账户状态做断言
func (m *memStore) mustAccount(userID int64) model.RewardAccount {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.accounts[userID]
}

// entryCount 用户流水条数
func (m *memStore) entryCount(userID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if e.UserID == userID {
			n++
		}
	}
	return n
}

// ---------------------------------------------------------------------------
// 其余依赖的测试替身
// ---------------------------------------------------------------------------

// memRules 按优先级降序返回生效规则
type memRules struct {
	rules []*model.RewardRule
}

func (r *memRules) ActiveRules(_ context.Context, eventType string) ([]*model.RewardRule, error) {
	var out []*model.RewardRule
	for _, rule := range r.rules {
		if rule.EventType == eventType && rule.IsActive {
			out = append(out, rule)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out, nil
}

// memLocker 单测里串行执行即可，只记录加锁次数
type memLocker struct {
	calls int
}

func (l *memLocker) WithUserLock(_ context.Context, _ int64, fn func() error) error {
	l.calls++
	return fn()
}

// recordedNotice 捕获的通知
type recordedNotice struct {
	UserID  int64
	Kind    string
	Payload map[string]interface{}
}

type memNotifier struct {
	notices []recordedNotice
}

func (n *memNotifier) Notify(_ context.Context, userID int64, kind string, payload map[string]interface{}) {
	n.notices = append(n.notices, recordedNotice{UserID: userID, Kind: kind, Payload: payload})
}

func (n *memNotifier) kinds() []string {
	var out []string
	for _, notice := range n.notices {
		out = append(out, notice.Kind)
	}
	return out
}

// memSink 捕获指标调用
type memSink struct {
	accruals     int
	redemptions  int
	fraudReasons []string
	tierChanges  []string
	expiredCount int
}

func (s *memSink) AccrualRecorded(string, int64, bool) { s.accruals++ }
func (s *memSink) RedemptionRecorded(string, int64)    { s.redemptions++ }
func (s *memSink) FraudBlocked(reason string)          { s.fraudReasons = append(s.fraudReasons, reason) }
func (s *memSink) TierChanged(tier string)             { s.tierChanges = append(s.tierChanges, tier) }
func (s *memSink) EntriesExpired(count int, _ int64)   { s.expiredCount += count }
