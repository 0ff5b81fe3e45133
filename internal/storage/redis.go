package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/nikhilbhutani/safebrowse/internal/activity"
	"github.com/nikhilbhutani/safebrowse/internal/policy"
)

// RedisStore keeps the policy document under one key and the history in a
// list, both below a key prefix.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) policyKey() string  { return s.prefix + "policy" }
func (s *RedisStore) historyKey() string { return s.prefix + "history" }

func (s *RedisStore) LoadPolicy(ctx context.Context) (policy.Document, bool, error) {
	val, err := s.client.Get(ctx, s.policyKey()).Result()
	if errors.Is(err, redis.Nil) {
		return policy.Document{}, false, nil
	}
	if err != nil {
		return policy.Document{}, false, fmt.Errorf("redis get %s: %w", s.policyKey(), err)
	}
	var doc policy.Document
	if err := json.Unmarshal([]byte(val), &doc); err != nil {
		return policy.Document{}, false, fmt.Errorf("parse policy: %w", err)
	}
	return doc, true, nil
}

func (s *RedisStore) SavePolicy(ctx context.Context, doc policy.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal policy: %w", err)
	}
	return s.client.Set(ctx, s.policyKey(), data, 0).Err()
}

func (s *RedisStore) LoadHistory(ctx context.Context) ([]activity.Entry, error) {
	vals, err := s.client.LRange(ctx, s.historyKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange %s: %w", s.historyKey(), err)
	}
	entries := make([]activity.Entry, 0, len(vals))
	for _, v := range vals {
		var e activity.Entry
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *RedisStore) AppendHistory(ctx context.Context, e activity.Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal history entry: %w", err)
	}
	return s.client.RPush(ctx, s.historyKey(), data).Err()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
