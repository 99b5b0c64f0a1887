package history

import (
	"context"
	"fmt"

	"github.com/okjin/crawlwatch/internal/task"
	"github.com/redis/go-redis/v9"
)

const (
	hashKey   = "crawl_history"
	recentKey = "crawl_history_recent"
)

// RedisStore persists history in Redis so it survives client restarts.
// Snapshots live in a hash keyed by task id; recency order is a list of ids
// trimmed to Bound.
type RedisStore struct {
	client *redis.Client
	ctx    context.Context
}

func NewRedisStore(addr string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{
		client: client,
		ctx:    ctx,
	}, nil
}

func (s *RedisStore) Upsert(t *task.Task) error {
	snapshot, err := t.ToJSON()
	if err != nil {
		return err
	}

	exists, err := s.client.HExists(s.ctx, hashKey, t.ID).Result()
	if err != nil {
		return err
	}

	if err := s.client.HSet(s.ctx, hashKey, t.ID, snapshot).Err(); err != nil {
		return err
	}
	if exists {
		// Replacement in place; recency order unchanged.
		return nil
	}

	if err := s.client.LPush(s.ctx, recentKey, t.ID).Err(); err != nil {
		return err
	}

	// Evict beyond the bound, oldest first.
	for {
		length, err := s.client.LLen(s.ctx, recentKey).Result()
		if err != nil || length <= Bound {
			return err
		}
		evicted, err := s.client.RPop(s.ctx, recentKey).Result()
		if err != nil {
			return err
		}
		if err := s.client.HDel(s.ctx, hashKey, evicted).Err(); err != nil {
			return err
		}
	}
}

func (s *RedisStore) Recent() ([]*task.Task, error) {
	ids, err := s.client.LRange(s.ctx, recentKey, 0, Bound-1).Result()
	if err != nil {
		return nil, err
	}

	tasks := make([]*task.Task, 0, len(ids))
	for _, id := range ids {
		snapshot, err := s.client.HGet(s.ctx, hashKey, id).Result()
		if err != nil {
			continue
		}
		t, err := task.FromJSON(snapshot)
		if err != nil {
			continue
		}
		tasks = append(tasks, t)
	}

	return tasks, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
