package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/clearpath-ai/texcare-backend/internal/model"
)

// Redis is the durable conversation backend. Each thread is a Redis list
// keyed by thread_id; the list TTL refreshes on every append so retention
// follows the session timeout.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis creates a Redis-backed store from a redis:// URL.
func NewRedis(url string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("memory.NewRedis: %w", err)
	}
	return &Redis{client: redis.NewClient(opts), ttl: ttl}, nil
}

// Ping verifies connectivity at startup.
func (s *Redis) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the client.
func (s *Redis) Close() error { return s.client.Close() }

func threadKey(threadID string) string { return "thread:" + threadID }

func (s *Redis) Append(ctx context.Context, threadID, role, content string) error {
	msg, err := json.Marshal(model.Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("memory.Append: marshal: %w", err)
	}

	key := threadKey(threadID)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, msg)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return model.NewError(model.KindUpstreamUnavailable, "memory.Append", "", err)
	}
	return nil
}

func (s *Redis) Recent(ctx context.Context, threadID string, maxTurns int) ([]model.Message, error) {
	n := int64(2 * maxTurns)
	raw, err := s.client.LRange(ctx, threadKey(threadID), -n, -1).Result()
	if err != nil {
		return nil, model.NewError(model.KindUpstreamUnavailable, "memory.Recent", "", err)
	}

	msgs := make([]model.Message, 0, len(raw))
	for _, r := range raw {
		var m model.Message
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			return nil, fmt.Errorf("memory.Recent: unmarshal: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func (s *Redis) Len(ctx context.Context, threadID string) (int, error) {
	n, err := s.client.LLen(ctx, threadKey(threadID)).Result()
	if err != nil {
		return 0, model.NewError(model.KindUpstreamUnavailable, "memory.Len", "", err)
	}
	return int(n), nil
}

func (s *Redis) Reset(ctx context.Context, threadID string) error {
	if err := s.client.Del(ctx, threadKey(threadID)).Err(); err != nil {
		return model.NewError(model.KindUpstreamUnavailable, "memory.Reset", "", err)
	}
	return nil
}
