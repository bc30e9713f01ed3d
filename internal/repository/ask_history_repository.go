package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"docvault-go/internal/model"

	"github.com/go-redis/redis/v8"
)

const (
	askHistoryLimit = 20
	askHistoryTTL   = 7 * 24 * time.Hour
)

// AskHistoryRepository 定义了问答历史记录的操作接口。
type AskHistoryRepository interface {
	Append(ctx context.Context, userID uint, record model.AskRecord) error
	List(ctx context.Context, userID uint) ([]model.AskRecord, error)
}

type redisAskHistoryRepository struct {
	redisClient *redis.Client
}

// NewAskHistoryRepository 创建一个新的 AskHistoryRepository 实例。
func NewAskHistoryRepository(redisClient *redis.Client) AskHistoryRepository {
	return &redisAskHistoryRepository{redisClient: redisClient}
}

func askHistoryKey(userID uint) string {
	return fmt.Sprintf("user:%d:ask_history", userID)
}

// Append 追加一条记录，只保留最近 20 条。
func (r *redisAskHistoryRepository) Append(ctx context.Context, userID uint, record model.AskRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal ask record: %w", err)
	}
	key := askHistoryKey(userID)
	pipe := r.redisClient.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, -askHistoryLimit, -1)
	pipe.Expire(ctx, key, askHistoryTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append ask history: %w", err)
	}
	return nil
}

// List 按时间顺序返回用户的问答历史。
func (r *redisAskHistoryRepository) List(ctx context.Context, userID uint) ([]model.AskRecord, error) {
	items, err := r.redisClient.LRange(ctx, askHistoryKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get ask history: %w", err)
	}
	records := make([]model.AskRecord, 0, len(items))
	for _, item := range items {
		var rec model.AskRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}
