package service

import (
	"errors"
	"fmt"
)

// 业务结果类错误：属于预期内的业务结论，调用方据此生成用户提示
var (
	ErrInsufficientBalance = errors.New("积分余额不足")
	ErrRuleNotFound        = errors.New("积分规则不存在")
	ErrInvalidPoints       = errors.New("积分数额必须大于0")
)

// 瞬时故障类错误：调用方可整体重试
var (
	ErrRetryExhausted = errors.New("系统繁忙，请稍后重试")
)

// 完整性错误：数据不变量被破坏，属于程序缺陷，操作中止且不落任何变更
var (
	ErrLedgerInconsistent = errors.New("账户余额与流水回放结果不一致")
)

// 风控拒绝原因（对外返回的固定文案）
const (
	FraudReasonVelocity = "too many redemptions in short time"
	FraudReasonVolume   = "suspicious point accumulation pattern"
)

// FraudBlockedError 兑换被风控拦截
type FraudBlockedError struct {
	Reason string
}

func (e *FraudBlockedError) Error() string {
	return fmt.Sprintf("兑换被风控拦截: %s", e.Reason)
}

// IsFraudBlocked 判断错误是否为风控拦截，并取出原因
func IsFraudBlocked(err error) (string, bool) {
	var fbe *FraudBlockedError
	if errors.As(err, &fbe) {
		return fbe.Reason, true
	}
	return "", false
}
