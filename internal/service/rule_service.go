package service

import (
	"context"
	"errors"
	"fmt"

	"rewardsystem/internal/model"
	"rewardsystem/internal/repository"
)

// RuleService 规则管理
// 规则由管理端维护，入账引擎只读
type RuleService struct {
	repo *repository.RuleRepository
}

func NewRuleService(repo *repository.RuleRepository) *RuleService {
	return &RuleService{repo: repo}
}

func (s *RuleService) Create(ctx context.Context, rule *model.RewardRule) error {
	if err := validateRule(rule); err != nil {
		return err
	}
	return s.repo.Create(ctx, rule)
}

func (s *RuleService) List(ctx context.Context, eventType string) ([]*model.RewardRule, error) {
	return s.repo.List(ctx, eventType)
}

func (s *RuleService) Get(ctx context.Context, id int64) (*model.RewardRule, error) {
	rule, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrRuleNotFound) {
			return nil, ErrRuleNotFound
		}
		return nil, err
	}
	return rule, nil
}

// RuleUpdate 规则部分更新
// 每个字段显式声明，nil 表示不修改；不走请求体到实体的反射式拷贝
type RuleUpdate struct {
	PointsPerEvent *int64                `json:"points_per_event"`
	DailyCap       *int64                `json:"daily_cap"`
	WeeklyCap      *int64                `json:"weekly_cap"`
	MonthlyCap     *int64                `json:"monthly_cap"`
	MinAmount      *int64                `json:"min_amount"`
	MaxAmount      *int64                `json:"max_amount"`
	Conditions     *model.RuleConditions `json:"conditions"`
	IsActive       *bool                 `json:"is_active"`
	Priority       *int                  `json:"priority"`
	Description    *string               `json:"description"`
}

// Update 校验后逐字段应用更新
func (s *RuleService) Update(ctx context.Context, id int64, upd *RuleUpdate) (*model.RewardRule, error) {
	if err := validateRuleUpdate(upd); err != nil {
		return nil, err
	}

	fields := make(map[string]interface{})
	if upd.PointsPerEvent != nil {
		fields["points_per_event"] = *upd.PointsPerEvent
	}
	if upd.DailyCap != nil {
		fields["daily_cap"] = *upd.DailyCap
	}
	if upd.WeeklyCap != nil {
		fields["weekly_cap"] = *upd.WeeklyCap
	}
	if upd.MonthlyCap != nil {
		fields["monthly_cap"] = *upd.MonthlyCap
	}
	if upd.MinAmount != nil {
		fields["min_amount"] = *upd.MinAmount
	}
	if upd.MaxAmount != nil {
		fields["max_amount"] = *upd.MaxAmount
	}
	if upd.Conditions != nil {
		fields["conditions"] = *upd.Conditions
	}
	if upd.IsActive != nil {
		fields["is_active"] = *upd.IsActive
	}
	if upd.Priority != nil {
		fields["priority"] = *upd.Priority
	}
	if upd.Description != nil {
		fields["description"] = *upd.Description
	}
	if len(fields) == 0 {
		return s.Get(ctx, id)
	}

	if err := s.repo.UpdateFields(ctx, id, fields); err != nil {
		if errors.Is(err, repository.ErrRuleNotFound) {
			return nil, ErrRuleNotFound
		}
		return nil, err
	}
	return s.Get(ctx, id)
}

func validateRule(rule *model.RewardRule) error {
	if rule.EventType == "" {
		return errors.New("event_type 不能为空")
	}
	if rule.PointsPerEvent < 0 {
		return errors.New("points_per_event 不能为负数")
	}
	for _, cap := range []*int64{rule.DailyCap, rule.WeeklyCap, rule.MonthlyCap} {
		if cap != nil && *cap < 0 {
			return errors.New("周期上限不能为负数")
		}
	}
	if rule.MinAmount != nil && rule.MaxAmount != nil && *rule.MinAmount > *rule.MaxAmount {
		return errors.New("金额区间下限不能大于上限")
	}
	return validateConditions(&rule.Conditions)
}

func validateRuleUpdate(upd *RuleUpdate) error {
	if upd.PointsPerEvent != nil && *upd.PointsPerEvent < 0 {
		return errors.New("points_per_event 不能为负数")
	}
	for _, cap := range []*int64{upd.DailyCap, upd.WeeklyCap, upd.MonthlyCap} {
		if cap != nil && *cap < 0 {
			return errors.New("周期上限不能为负数")
		}
	}
	if upd.Conditions != nil {
		return validateConditions(upd.Conditions)
	}
	return nil
}

func validateConditions(conditions *model.RuleConditions) error {
	for i := range conditions.Multipliers {
		m := &conditions.Multipliers[i]
		if m.Field == "" {
			return errors.New("加成条件 field 不能为空")
		}
		if m.Factor <= 0 {
			return fmt.Errorf("加成倍率必须大于0: field=%s", m.Field)
		}
		if len(m.Equals) == 0 && m.GTE == nil && m.LT == nil {
			return fmt.Errorf("加成条件缺少匹配谓词: field=%s", m.Field)
		}
	}
	return nil
}
