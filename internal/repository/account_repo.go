package repository

import (
	"context"
	"errors"

	"rewardsystem/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrAccountNotFound = errors.New("积分账户不存在")

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) Get(ctx context.Context, userID int64) (*model.RewardAccount, error) {
	var account model.RewardAccount
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (r *AccountRepository) GetOrCreate(ctx context.Context, userID int64) (*model.RewardAccount, error) {
	account, err := r.Get(ctx, userID)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return nil, err
	}

	newAccount := &model.RewardAccount{
		UserID: userID,
		Tier:   model.TierFor(0).Name,
	}

	// 并发开户时靠唯一索引 + DoNothing 保证只有一行
	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(newAccount).Error
	if err != nil {
		return nil, err
	}

	return r.Get(ctx, userID)
}

// Replace 用流水回放结果整体覆盖投影
// 不校验版本：重建是在用户锁内执行的管理操作
func (r *AccountRepository) Replace(ctx context.Context, account *model.RewardAccount) error {
	result := r.db.WithContext(ctx).
		Model(&model.RewardAccount{}).
		Where("user_id = ?", account.UserID).
		Updates(map[string]interface{}{
			"available_points": account.AvailablePoints,
			"lifetime_points":  account.LifetimePoints,
			"redeemed_points":  account.RedeemedPoints,
			"expired_points":   account.ExpiredPoints,
			"tier":             account.Tier,
			"version":          gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}
