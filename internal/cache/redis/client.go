package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/orgai/backend/internal/history"
	"github.com/orgai/backend/internal/metrics"
	"github.com/orgai/backend/pkg/apperr"
	"github.com/orgai/backend/pkg/logger"
)

type Client struct {
	client *redis.Client
}

func NewClient(ctx context.Context, addr, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, apperr.Connection("connect to redis", fmt.Errorf("failed to connect to redis: %w", err))
	}

	logger.Info("Redis client initialized", zap.String("addr", addr))

	return &Client{client: client}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// SessionStore keeps conversation history and queue counters in Redis. Each
// append runs RPUSH, LTRIM and EXPIRE in one MULTI transaction, so the list
// never exceeds the cap even under concurrent writers.
type SessionStore struct {
	client     *redis.Client
	maxEntries int
	ttl        time.Duration
}

var _ history.Store = (*SessionStore)(nil)

func (c *Client) SessionStore(maxEntries int, ttl time.Duration) *SessionStore {
	if maxEntries <= 0 {
		maxEntries = history.DefaultMaxEntries
	}
	return &SessionStore{client: c.client, maxEntries: maxEntries, ttl: ttl}
}

func historyKey(user string) string { return fmt.Sprintf("history:%s", user) }
func queueKey(user string) string   { return fmt.Sprintf("queue:%s", user) }

func (s *SessionStore) Append(ctx context.Context, user string, entries ...history.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	values := make([]any, 0, len(entries))
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal history entry: %w", err)
		}
		values = append(values, data)
	}

	key := historyKey(user)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, values...)
		pipe.LTrim(ctx, key, int64(-s.maxEntries), -1)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}

	logger.Debug("History appended", zap.String("user", user), zap.Int("entries", len(entries)))
	return nil
}

func (s *SessionStore) Entries(ctx context.Context, user string) ([]history.Entry, error) {
	raw, err := s.client.LRange(ctx, historyKey(user), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	if len(raw) == 0 {
		metrics.CacheMisses.WithLabelValues("history").Inc()
		return nil, nil
	}
	metrics.CacheHits.WithLabelValues("history").Inc()

	entries := make([]history.Entry, 0, len(raw))
	for _, item := range raw {
		var e history.Entry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			logger.Warn("Skipping corrupt history entry", zap.String("user", user), zap.Error(err))
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *SessionStore) Clear(ctx context.Context, user string) error {
	if err := s.client.Del(ctx, historyKey(user)).Err(); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	return nil
}

func (s *SessionStore) NextQueue(ctx context.Context, user string) (int64, error) {
	key := queueKey(user)
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment queue counter: %w", err)
	}
	if s.ttl > 0 {
		if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
			logger.Warn("Failed to set queue counter expiry", zap.String("user", user), zap.Error(err))
		}
	}
	return n, nil
}

// Ping reports whether Redis is reachable, for health checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
