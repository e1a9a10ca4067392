package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rewardsystem/pkg/idgen"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// 分布式锁
// ============================================================================
//
// 同一用户的入账与兑换必须串行：两次并发操作如果交错执行
// "读上限合计 -> 追加流水"，会双双读到加新积分前的合计，超发积分。
//
// 加锁：SET key value NX EX timeout
//   - NX 保证互斥，EX 防止持有者崩溃后死锁
//   - value 记录持有者，释放时校验，避免误删他人的锁
// 释放：Lua 脚本保证"校验+删除"原子执行
//
// 锁按用户维度划分，不同用户完全并行。
// ============================================================================

var ErrLockFailed = errors.New("获取分布式锁失败")

// DistributedLock Redis 分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string
	expiration time.Duration
}

func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 尝试获取锁（非阻塞）
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	success, err := l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
	if err != nil {
		return false, err
	}
	return success, nil
}

// Lock 阻塞式获取锁（带重试）
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
			// 继续重试
		}
	}
	return ErrLockFailed
}

// Unlock 释放锁，Lua 脚本校验持有者后删除
func (l *DistributedLock) Unlock(ctx context.Context) error {
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
	_, err := l.client.Eval(ctx, script, []string{l.key}, l.value).Result()
	return err
}

// ============================================================================
// 用户维度积分锁
// ============================================================================

// RedisUserLocker 按用户加锁执行回调，实现 service.UserLocker
type RedisUserLocker struct {
	client *redis.Client
}

func NewRedisUserLocker(client *redis.Client) *RedisUserLocker {
	return &RedisUserLocker{client: client}
}

func (l *RedisUserLocker) WithUserLock(ctx context.Context, userID int64, fn func() error) error {
	key := fmt.Sprintf("reward:lock:user:%d", userID)
	value := fmt.Sprintf("%d", idgen.NextID())

	userLock := NewDistributedLock(l.client, key, value, 30*time.Second)
	if err := userLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return err
	}
	defer userLock.Unlock(ctx)

	return fn()
}
