package service

import (
	"context"
	"fmt"

	"rewardsystem/internal/model"
)

// AccountService 账户投影查询与维护
type AccountService struct {
	ledger   LedgerStore
	accounts AccountStore
	locker   UserLocker
}

func NewAccountService(ledger LedgerStore, accounts AccountStore, locker UserLocker) *AccountService {
	return &AccountService{ledger: ledger, accounts: accounts, locker: locker}
}

// AccountOverview 账户概览
type AccountOverview struct {
	UserID          int64          `json:"user_id"`
	AvailablePoints int64          `json:"available_points"`
	LifetimePoints  int64          `json:"lifetime_points"`
	RedeemedPoints  int64          `json:"redeemed_points"`
	ExpiredPoints   int64          `json:"expired_points"`
	Tier            model.TierInfo `json:"tier"`
}

func (s *AccountService) Overview(ctx context.Context, userID int64) (*AccountOverview, error) {
	account, err := s.accounts.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("查询积分账户失败: %w", err)
	}
	return &AccountOverview{
		UserID:          account.UserID,
		AvailablePoints: account.AvailablePoints,
		LifetimePoints:  account.LifetimePoints,
		RedeemedPoints:  account.RedeemedPoints,
		ExpiredPoints:   account.ExpiredPoints,
		Tier:            model.TierFor(account.LifetimePoints),
	}, nil
}

// LedgerRecord 单条流水展示
type LedgerRecord struct {
	ID           int64  `json:"id"`
	EntryNo      string `json:"entry_no"`
	EventType    string `json:"event_type"`
	PointsDelta  int64  `json:"points_delta"`
	BalanceAfter int64  `json:"balance_after"`
	Status       string `json:"status"`
	Remark       string `json:"remark"`
	CreatedAt    string `json:"created_at"`
}

// LedgerHistory 流水列表（游标分页）
type LedgerHistory struct {
	Records    []LedgerRecord `json:"records"`
	NextCursor int64          `json:"next_cursor"`
	HasMore    bool           `json:"has_more"`
}

// History 查询用户流水，action 取 ""（全部）/income/expense
func (s *AccountService) History(ctx context.Context, userID int64, action string, cursor int64, limit int) (*LedgerHistory, error) {
	if limit <= 0 {
		limit = 10
	}

	entries, err := s.ledger.ListEntries(ctx, userID, action, cursor, limit+1)
	if err != nil {
		return nil, fmt.Errorf("查询积分流水失败: %w", err)
	}

	history := &LedgerHistory{
		Records: make([]LedgerRecord, 0, len(entries)),
	}
	if len(entries) > limit {
		history.HasMore = true
		entries = entries[:limit]
		history.NextCursor = entries[len(entries)-1].ID
	}

	for _, e := range entries {
		history.Records = append(history.Records, LedgerRecord{
			ID:           e.ID,
			EntryNo:      e.EntryNo,
			EventType:    e.EventType,
			PointsDelta:  e.PointsDelta,
			BalanceAfter: e.BalanceAfter,
			Status:       e.Status,
			Remark:       e.Remark,
			CreatedAt:    e.CreatedAt.Format("2006-01-02 15:04:05"),
		})
	}
	return history, nil
}

// Rebuild 按创建顺序回放用户全部流水，重建账户投影
// 投影不是事实来源，被怀疑漂移时可随时重建
func (s *AccountService) Rebuild(ctx context.Context, userID int64) (*AccountOverview, error) {
	var overview *AccountOverview
	err := s.locker.WithUserLock(ctx, userID, func() error {
		entries, err := s.ledger.ListAllEntries(ctx, userID)
		if err != nil {
			return fmt.Errorf("回放流水失败: %w", err)
		}

		account, err := s.accounts.GetOrCreate(ctx, userID)
		if err != nil {
			return err
		}

		replayed := ReplayEntries(userID, entries)
		replayed.ID = account.ID
		replayed.Version = account.Version
		if err := s.accounts.Replace(ctx, replayed); err != nil {
			return fmt.Errorf("覆盖账户投影失败: %w", err)
		}

		overview = &AccountOverview{
			UserID:          userID,
			AvailablePoints: replayed.AvailablePoints,
			LifetimePoints:  replayed.LifetimePoints,
			RedeemedPoints:  replayed.RedeemedPoints,
			ExpiredPoints:   replayed.ExpiredPoints,
			Tier:            model.TierFor(replayed.LifetimePoints),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return overview, nil
}

// ReplayEntries 回放流水得到账户投影，纯函数
// 可用余额 = 全部 points_delta 之和；累计获得 = 正向流水之和
func ReplayEntries(userID int64, entries []*model.RewardLedgerEntry) *model.RewardAccount {
	account := &model.RewardAccount{UserID: userID}
	for _, e := range entries {
		account.AvailablePoints += e.PointsDelta
		if e.PointsDelta > 0 {
			account.LifetimePoints += e.PointsDelta
			continue
		}
		switch e.EventType {
		case model.EventTypePointsExpired:
			account.ExpiredPoints += -e.PointsDelta
		default:
			account.RedeemedPoints += -e.PointsDelta
		}
	}
	account.Tier = model.TierFor(account.LifetimePoints).Name
	return account
}
