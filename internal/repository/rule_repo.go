package repository

import (
	"context"
	"errors"

	"rewardsystem/internal/model"

	"gorm.io/gorm"
)

var ErrRuleNotFound = errors.New("积分规则不存在")

type RuleRepository struct {
	db *gorm.DB
}

func NewRuleRepository(db *gorm.DB) *RuleRepository {
	return &RuleRepository{db: db}
}

func (r *RuleRepository) Create(ctx context.Context, rule *model.RewardRule) error {
	return r.db.WithContext(ctx).Create(rule).Error
}

func (r *RuleRepository) GetByID(ctx context.Context, id int64) (*model.RewardRule, error) {
	var rule model.RewardRule
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&rule).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRuleNotFound
		}
		return nil, err
	}
	return &rule, nil
}

// ActiveRules 某事件类型的生效规则
// 优先级降序；同优先级取最新创建的
func (r *RuleRepository) ActiveRules(ctx context.Context, eventType string) ([]*model.RewardRule, error) {
	var rules []*model.RewardRule
	err := r.db.WithContext(ctx).
		Where("event_type = ? AND is_active = ?", eventType, true).
		Order("priority DESC, created_at DESC, id DESC").
		Find(&rules).Error
	return rules, err
}

func (r *RuleRepository) List(ctx context.Context, eventType string) ([]*model.RewardRule, error) {
	query := r.db.WithContext(ctx).Model(&model.RewardRule{})
	if eventType != "" {
		query = query.Where("event_type = ?", eventType)
	}

	var rules []*model.RewardRule
	err := query.Order("event_type ASC, priority DESC").Find(&rules).Error
	return rules, err
}

// UpdateFields 按字段更新规则，fields 由 service 层的更新结构体显式展开
func (r *RuleRepository) UpdateFields(ctx context.Context, id int64, fields map[string]interface{}) error {
	result := r.db.WithContext(ctx).
		Model(&model.RewardRule{}).
		Where("id = ?", id).
		Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRuleNotFound
	}
	return nil
}
