package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	historyKeyPrefix = "history:"
	defaultTTL       = 24 * time.Hour
)

// RedisStore persists history as one JSON document per session. The TTL is
// refreshed on every write so an active consultation never expires mid-call.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Append(ctx context.Context, sessionID string, turn Turn) error {
	return s.update(ctx, sessionID, func(turns []Turn) []Turn {
		return append(turns, turn)
	})
}

func (s *RedisStore) Turns(ctx context.Context, sessionID string) ([]Turn, error) {
	val, err := s.client.Get(ctx, s.key(sessionID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("history get: %w", err)
	}
	var turns []Turn
	if err := json.Unmarshal([]byte(val), &turns); err != nil {
		return nil, fmt.Errorf("history decode: %w", err)
	}
	return turns, nil
}

func (s *RedisStore) MarkInterrupted(ctx context.Context, sessionID string) error {
	return s.update(ctx, sessionID, func(turns []Turn) []Turn {
		for i := len(turns) - 1; i >= 0; i-- {
			if turns[i].Role != RoleAssistant {
				continue
			}
			if len(turns[i].Content) < len(InterruptedSuffix) ||
				turns[i].Content[len(turns[i].Content)-len(InterruptedSuffix):] != InterruptedSuffix {
				turns[i].Content += InterruptedSuffix
			}
			break
		}
		return turns
	})
}

func (s *RedisStore) Clear(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, s.key(sessionID)).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// update applies fn under WATCH so concurrent appends from the session's
// pipeline and the coordinator never lose turns.
func (s *RedisStore) update(ctx context.Context, sessionID string, fn func([]Turn) []Turn) error {
	key := s.key(sessionID)
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		var turns []Turn
		val, err := tx.Get(ctx, key).Result()
		if err != nil && err != redis.Nil {
			return err
		}
		if err == nil {
			if err := json.Unmarshal([]byte(val), &turns); err != nil {
				return fmt.Errorf("history decode: %w", err)
			}
		}
		newVal, err := json.Marshal(fn(turns))
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, newVal, s.ttl)
			return nil
		})
		return err
	}, key)
}

func (s *RedisStore) key(sessionID string) string {
	return historyKeyPrefix + sessionID
}
