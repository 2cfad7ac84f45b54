package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ErrLockHeld 同一 (tenant, source) 已有同步在跑
// 非阻塞：冲突触发直接丢弃并报失败任务，不排队不自动重试
var ErrLockHeld = errors.New("sync already running for this (tenant, source)")

// RunLock Redis 分布式同步锁（跨进程：手动触发和周期触发可能打到不同实例）
type RunLock struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRunLock 创建同步锁
// ttl 是崩溃兜底：进程挂掉后锁最长泄漏 ttl，正常路径由 Release 释放
func NewRunLock(client *redis.Client, ttl time.Duration) *RunLock {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RunLock{client: client, ttl: ttl}
}

func lockKey(tenantID, sourceID string) string {
	return fmt.Sprintf("directory:sync:lock:%s:%s", tenantID, sourceID)
}

// Acquire 非阻塞抢锁；已被持有返回 ErrLockHeld
// 返回的 token 用于 Release 时校验归属
func (l *RunLock) Acquire(ctx context.Context, tenantID, sourceID string) (string, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, lockKey(tenantID, sourceID), token, l.ttl).Result()
	if err != nil {
		return "", fmt.Errorf("failed to acquire sync lock: %w", err)
	}
	if !ok {
		return "", ErrLockHeld
	}
	return token, nil
}

// releaseScript 比较并删除必须原子：分步 GET/DEL 之间锁可能过期并被
// 另一次同步重新持有，DEL 会误删对方的锁
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Release 释放锁；token 不匹配（锁已超时被他人重新持有）则不动
func (l *RunLock) Release(ctx context.Context, tenantID, sourceID, token string) error {
	err := releaseScript.Run(ctx, l.client, []string{lockKey(tenantID, sourceID)}, token).Err()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to release sync lock: %w", err)
	}
	return nil
}
