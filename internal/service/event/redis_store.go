package event

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// 事件在 Redis 中的过期时间
	eventTTL = 24 * time.Hour
	// Redis key 前缀
	eventKeyPrefix = "session:events:"
)

// RedisStore Redis 事件存储
// 每个会话一个 list，整体带 TTL
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore 创建 Redis 事件存储
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

var _ Store = (*RedisStore)(nil)

// SaveEvent 追加事件
func (s *RedisStore) SaveEvent(ctx context.Context, evt *Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	key := eventKeyPrefix + evt.SessionID
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.Expire(ctx, key, eventTTL)
	_, err = pipe.Exec(ctx)
	return err
}

// GetEvents 读取会话全部事件
func (s *RedisStore) GetEvents(ctx context.Context, sessionID string) ([]*Event, error) {
	key := eventKeyPrefix + sessionID
	values, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		if err == redis.Nil {
			return []*Event{}, nil
		}
		return nil, err
	}

	events := make([]*Event, 0, len(values))
	for _, v := range values {
		var evt Event
		if err := json.Unmarshal([]byte(v), &evt); err != nil {
			continue // 跳过坏数据
		}
		events = append(events, &evt)
	}
	return events, nil
}

// ClearEvents 清空会话事件
func (s *RedisStore) ClearEvents(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, eventKeyPrefix+sessionID).Err()
}
