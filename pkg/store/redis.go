package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix = "chat:"
	sessionSetKey    = "chat_sessions"
)

// RedisCache keeps sessions under chat:<id> with an expiry and tracks
// their IDs in the chat_sessions set.
type RedisCache struct {
	client redis.UniversalClient
}

// NewRedisCache wraps client.
func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client}
}

// DialRedis connects to addr and checks the connection.
func DialRedis(ctx context.Context, addr string) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return NewRedisCache(client), nil
}

// Close closes the underlying client.
func (r *RedisCache) Close() error {
	return r.client.Close()
}

func (r *RedisCache) Put(ctx context.Context, conv *Conversation, ttl time.Duration) error {
	if err := validate(conv); err != nil {
		return err
	}
	data, err := json.Marshal(conv)
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, sessionKeyPrefix+conv.ID, data, ttl)
	pipe.SAdd(ctx, sessionSetKey, conv.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache session %s: %w", conv.ID, err)
	}
	return nil
}

func (r *RedisCache) Get(ctx context.Context, id string) (*Conversation, error) {
	data, err := r.client.Get(ctx, sessionKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	var conv Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &conv, nil
}

// List returns live session IDs. IDs whose key has expired are removed from
// the set.
func (r *RedisCache) List(ctx context.Context) ([]string, error) {
	ids, err := r.client.SMembers(ctx, sessionSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	var live []string
	for _, id := range ids {
		n, err := r.client.Exists(ctx, sessionKeyPrefix+id).Result()
		if err != nil {
			return nil, fmt.Errorf("check session %s: %w", id, err)
		}
		if n == 0 {
			if err := r.client.SRem(ctx, sessionSetKey, id).Err(); err != nil {
				return nil, fmt.Errorf("prune session %s: %w", id, err)
			}
			continue
		}
		live = append(live, id)
	}
	sort.Strings(live)
	return live, nil
}

func (r *RedisCache) Delete(ctx context.Context, id string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, sessionKeyPrefix+id)
	pipe.SRem(ctx, sessionSetKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}
