package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ErrLockHeld 表示另一个 worker 正在处理同一个版本。
var ErrLockHeld = errors.New("repository: version lock held by another worker")

// 仅当锁仍由自己持有时才删除，避免误删超时后被他人重新获取的锁
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// JobStateRepository 在 Redis 中维护每个版本的咨询锁和投递计数。
type JobStateRepository interface {
	AcquireLock(ctx context.Context, versionID string, ttl time.Duration) (string, error)
	ReleaseLock(ctx context.Context, versionID, token string) error
	IncrDeliveries(ctx context.Context, versionID string) (int64, error)
	ResetDeliveries(ctx context.Context, versionID string) error
}

type redisJobStateRepository struct {
	redisClient *redis.Client
}

// NewJobStateRepository 创建一个新的 JobStateRepository 实例。
func NewJobStateRepository(redisClient *redis.Client) JobStateRepository {
	return &redisJobStateRepository{redisClient: redisClient}
}

func lockKey(versionID string) string {
	return fmt.Sprintf("docvault:lock:version:%s", versionID)
}

func deliveriesKey(versionID string) string {
	return fmt.Sprintf("docvault:deliveries:%s", versionID)
}

// AcquireLock 以 SET NX PX 获取锁，返回用于释放的令牌。锁在 ttl 后自动过期，崩溃的 worker 不会永久占住版本。
func (r *redisJobStateRepository) AcquireLock(ctx context.Context, versionID string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	ok, err := r.redisClient.SetNX(ctx, lockKey(versionID), token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("failed to acquire version lock: %w", err)
	}
	if !ok {
		return "", ErrLockHeld
	}
	return token, nil
}

// ReleaseLock 释放锁；令牌不匹配（锁已过期或被他人持有）时静默忽略。
func (r *redisJobStateRepository) ReleaseLock(ctx context.Context, versionID, token string) error {
	if err := releaseScript.Run(ctx, r.redisClient, []string{lockKey(versionID)}, token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("failed to release version lock: %w", err)
	}
	return nil
}

// IncrDeliveries 记录一次投递并返回累计次数，计数保留 24 小时。
func (r *redisJobStateRepository) IncrDeliveries(ctx context.Context, versionID string) (int64, error) {
	key := deliveriesKey(versionID)
	n, err := r.redisClient.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count deliveries: %w", err)
	}
	_ = r.redisClient.Expire(ctx, key, 24*time.Hour).Err()
	return n, nil
}

// ResetDeliveries 清理失败计数
func (r *redisJobStateRepository) ResetDeliveries(ctx context.Context, versionID string) error {
	return r.redisClient.Del(ctx, deliveriesKey(versionID)).Err()
}
