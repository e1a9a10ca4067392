package handler

import (
	"errors"
	"strconv"

	"rewardsystem/internal/config"
	"rewardsystem/internal/infrastructure/lock"
	"rewardsystem/internal/metrics"
	"rewardsystem/internal/model"
	"rewardsystem/internal/repository"
	"rewardsystem/internal/service"
	"rewardsystem/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	accrualService    *service.AccrualService
	redemptionService *service.RedemptionService
	accountService    *service.AccountService
	ruleService       *service.RuleService
}

// NewHandler 创建处理器实例
func NewHandler(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *Handler {
	ledgerRepo := repository.NewLedgerRepository(db)
	accountRepo := repository.NewAccountRepository(db)
	ruleRepo := repository.NewRuleRepository(db)
	outboxRepo := repository.NewOutboxRepository(db)

	locker := lock.NewRedisUserLocker(rdb)
	notifier := service.NewOutboxNotifier(outboxRepo, cfg.Kafka.Topic.RewardNotify)
	sink := metrics.NewPromSink()
	fraud := service.NewFraudChecker(ledgerRepo, &cfg.Business)

	return &Handler{
		accrualService:    service.NewAccrualService(ledgerRepo, ruleRepo, accountRepo, locker, notifier, sink, &cfg.Business),
		redemptionService: service.NewRedemptionService(ledgerRepo, accountRepo, locker, fraud, notifier, sink, &cfg.Business),
		accountService:    service.NewAccountService(ledgerRepo, accountRepo, locker),
		ruleService:       service.NewRuleService(ruleRepo),
	}
}

// ============================================================
// 入账相关接口
// ============================================================

// AccrueRequest 奖励事件入账请求
type AccrueRequest struct {
	UserID    int64                  `json:"user_id" binding:"required"`
	EventType string                 `json:"event_type" binding:"required"` // 如 ride_completed
	EventID   string                 `json:"event_id"`                      // 外部业务单号（幂等关键）
	Amount    *int64                 `json:"amount"`                        // 交易金额（最小货币单位）
	Metadata  map[string]interface{} `json:"metadata"`                      // 如 vehicle_type, duration_hours
}

// AccrueEvent 奖励事件入账
// POST /api/v1/rewards/events
func (h *Handler) AccrueEvent(c *gin.Context) {
	var req AccrueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.accrualService.Accrue(c.Request.Context(), &service.AccrualRequest{
		UserID:    req.UserID,
		EventType: req.EventType,
		EventID:   req.EventID,
		Amount:    req.Amount,
		Metadata:  req.Metadata,
	})
	if err != nil {
		if isSystemBusy(err) {
			response.BusinessError(c, response.CodeSystemBusy, err.Error())
			return
		}
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, result)
}

// isSystemBusy 写入冲突重试耗尽与用户锁竞争都是瞬态失败，告知调用方稍后重试
func isSystemBusy(err error) bool {
	return errors.Is(err, service.ErrRetryExhausted) || errors.Is(err, lock.ErrLockFailed)
}

// ============================================================
// 兑换相关接口
// ============================================================

// RedeemRequest 积分兑换请求
type RedeemRequest struct {
	UserID         int64  `json:"user_id" binding:"required"`
	Points         int64  `json:"points" binding:"required,gt=0"`
	RedemptionType string `json:"redemption_type" binding:"required"` // cashback / discount / voucher
}

// Redeem 积分兑换
// POST /api/v1/rewards/redeem
//
// 余额不足与风控拦截都是预期内的业务结论，以业务码返回
func (h *Handler) Redeem(c *gin.Context) {
	var req RedeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	receipt, err := h.redemptionService.Redeem(c.Request.Context(), &service.RedeemRequest{
		UserID:         req.UserID,
		Points:         req.Points,
		RedemptionType: req.RedemptionType,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInsufficientBalance):
			response.BusinessError(c, response.CodeInsufficientBalance, "积分余额不足")
		case errors.Is(err, service.ErrInvalidPoints):
			response.ParamError(c, err.Error())
		case isSystemBusy(err):
			response.BusinessError(c, response.CodeSystemBusy, err.Error())
		default:
			if reason, blocked := service.IsFraudBlocked(err); blocked {
				response.BusinessError(c, response.CodeFraudBlocked, reason)
				return
			}
			response.ServerError(c, err.Error())
		}
		return
	}

	response.Success(c, receipt)
}

// ============================================================
// 账户相关接口
// ============================================================

// GetBalance 查询账户概览
// GET /api/v1/rewards/balance?user_id=xxx
func (h *Handler) GetBalance(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		response.ParamError(c, "user_id 参数错误")
		return
	}

	overview, err := h.accountService.Overview(c.Request.Context(), userID)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, overview)
}

// GetHistory 查询积分流水
// GET /api/v1/rewards/history?user_id=xxx&action=income&cursor=0&limit=10
func (h *Handler) GetHistory(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		response.ParamError(c, "user_id 参数错误")
		return
	}

	action := c.DefaultQuery("action", "")
	if action != "" && action != "income" && action != "expense" {
		response.ParamError(c, "action 只能取 income 或 expense")
		return
	}
	cursor, _ := strconv.ParseInt(c.DefaultQuery("cursor", "0"), 10, 64)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

	history, err := h.accountService.History(c.Request.Context(), userID, action, cursor, limit)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, history)
}

// RebuildAccount 重建账户投影
// POST /api/v1/rewards/rebuild
func (h *Handler) RebuildAccount(c *gin.Context) {
	var req struct {
		UserID int64 `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	overview, err := h.accountService.Rebuild(c.Request.Context(), req.UserID)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, overview)
}

// ============================================================
// 规则管理接口
// ============================================================

// CreateRuleRequest 创建规则请求
type CreateRuleRequest struct {
	EventType      string               `json:"event_type" binding:"required"`
	PointsPerEvent int64                `json:"points_per_event" binding:"min=0"`
	DailyCap       *int64               `json:"daily_cap"`
	WeeklyCap      *int64               `json:"weekly_cap"`
	MonthlyCap     *int64               `json:"monthly_cap"`
	MinAmount      *int64               `json:"min_amount"`
	MaxAmount      *int64               `json:"max_amount"`
	Conditions     model.RuleConditions `json:"conditions"`
	Priority       int                  `json:"priority"`
	Description    string               `json:"description"`
}

// CreateRule 创建积分规则
// POST /api/v1/rewards/rules
func (h *Handler) CreateRule(c *gin.Context) {
	var req CreateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	rule := &model.RewardRule{
		EventType:      req.EventType,
		PointsPerEvent: req.PointsPerEvent,
		DailyCap:       req.DailyCap,
		WeeklyCap:      req.WeeklyCap,
		MonthlyCap:     req.MonthlyCap,
		MinAmount:      req.MinAmount,
		MaxAmount:      req.MaxAmount,
		Conditions:     req.Conditions,
		IsActive:       true,
		Priority:       req.Priority,
		Description:    req.Description,
	}
	if err := h.ruleService.Create(c.Request.Context(), rule); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	response.Success(c, rule)
}

// ListRules 查询规则列表
// GET /api/v1/rewards/rules?event_type=xxx
func (h *Handler) ListRules(c *gin.Context) {
	rules, err := h.ruleService.List(c.Request.Context(), c.Query("event_type"))
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, gin.H{"list": rules, "total": len(rules)})
}

// GetRule 查询规则详情
// GET /api/v1/rewards/rules/:id
func (h *Handler) GetRule(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "id 参数错误")
		return
	}

	rule, err := h.ruleService.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrRuleNotFound) {
			response.BusinessError(c, response.CodeRuleNotFound, "积分规则不存在")
			return
		}
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, rule)
}

// UpdateRule 更新积分规则（逐字段显式更新）
// PUT /api/v1/rewards/rules/:id
func (h *Handler) UpdateRule(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "id 参数错误")
		return
	}

	var upd service.RuleUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	rule, err := h.ruleService.Update(c.Request.Context(), id, &upd)
	if err != nil {
		if errors.Is(err, service.ErrRuleNotFound) {
			response.BusinessError(c, response.CodeRuleNotFound, "积分规则不存在")
			return
		}
		response.ParamError(c, err.Error())
		return
	}

	response.Success(c, rule)
}
