package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"batchzip/internal/models"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "batchzip:status:"

// RedisStore keeps each status as one JSON value that expires after ttl.
type RedisStore struct {
	client    redis.UniversalClient
	ttl       time.Duration
	keyPrefix string
	now       func() time.Time
	logger    *slog.Logger
}

type RedisOption func(*RedisStore)

func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.keyPrefix = prefix
	}
}

func WithLogger(logger *slog.Logger) RedisOption {
	return func(s *RedisStore) {
		s.logger = logger
	}
}

func NewRedisStore(client redis.UniversalClient, ttl time.Duration, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client:    client,
		ttl:       ttl,
		keyPrefix: defaultKeyPrefix,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) SetProgress(ctx context.Context, cacheKey string, state models.TaskState, done, total int, message string) {
	s.write(ctx, models.TaskStatus{
		CacheKey: cacheKey,
		State:    state,
		Done:     done,
		Total:    total,
		Message:  message,
	})
}

func (s *RedisStore) SetCompleted(ctx context.Context, cacheKey string, result models.BatchResult) {
	s.write(ctx, completedStatus(cacheKey, result))
}

func (s *RedisStore) SetFailed(ctx context.Context, cacheKey string, message string) {
	s.write(ctx, failedStatus(cacheKey, message))
}

func (s *RedisStore) Get(ctx context.Context, cacheKey string) (*models.TaskStatus, error) {
	data, err := s.client.Get(ctx, s.key(cacheKey)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, cacheKey)
		}
		return nil, fmt.Errorf("failed to read status %s: %w", cacheKey, err)
	}

	var st models.TaskStatus
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to decode status %s: %w", cacheKey, err)
	}
	return &st, nil
}

func (s *RedisStore) write(ctx context.Context, st models.TaskStatus) {
	st.UpdatedAt = s.now()

	data, err := json.Marshal(st)
	if err != nil {
		s.logger.Error("failed to encode status", "cache_key", st.CacheKey, "error", err)
		return
	}

	if err := s.client.Set(ctx, s.key(st.CacheKey), data, s.ttl).Err(); err != nil {
		s.logger.Error("failed to write status", "cache_key", st.CacheKey, "state", st.State, "error", err)
	}
}

func (s *RedisStore) key(cacheKey string) string {
	return s.keyPrefix + cacheKey
}
