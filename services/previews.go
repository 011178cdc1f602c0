package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"multisvg/workflow"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var _ workflow.PreviewStore = (*RedisPreviewStore)(nil)

// RedisPreviewStore keeps previews in redis with a TTL, so a preview leaked
// by a crashed process still expires.
type RedisPreviewStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisPreviewStore(client *redis.Client, prefix string, ttl time.Duration) *RedisPreviewStore {
	return &RedisPreviewStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisPreviewStore) key(id string) string {
	return s.prefix + id
}

func (s *RedisPreviewStore) Allocate(ctx context.Context, name string, content []byte) (string, error) {
	id := uuid.NewString()
	if err := s.client.Set(ctx, s.key(id), content, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("failed to store preview for %s: %w", name, err)
	}
	return id, nil
}

func (s *RedisPreviewStore) Release(ctx context.Context, id string) error {
	n, err := s.client.Del(ctx, s.key(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete preview: %w", err)
	}
	if n == 0 {
		return workflow.ErrPreviewNotFound
	}
	return nil
}

func (s *RedisPreviewStore) Open(ctx context.Context, id string) ([]byte, error) {
	content, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, workflow.ErrPreviewNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read preview: %w", err)
	}
	return content, nil
}
