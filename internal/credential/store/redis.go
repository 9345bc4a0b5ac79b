package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"jobs-admin/client/internal/credential/domain"
)

// RedisStore keeps the credential as a hash under a single key. Save runs DEL+HSET in a
// MULTI/EXEC block so the hash is never half written.
type RedisStore struct {
	client redis.UniversalClient
	key    string
}

// NewRedisStore returns a RedisStore writing to key.
func NewRedisStore(client redis.UniversalClient, key string) *RedisStore {
	return &RedisStore{client: client, key: key}
}

// Save replaces the credential hash.
func (s *RedisStore) Save(ctx context.Context, cred domain.Credential) error {
	if err := cred.Validate(); err != nil {
		return err
	}
	rec := encode(cred)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key)
		pipe.HSet(ctx, s.key, rec)
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: redis save: %w", err)
	}
	return nil
}

// Load reads the credential hash.
func (s *RedisStore) Load(ctx context.Context) (*domain.Credential, error) {
	rec, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("store: redis load: %w", err)
	}
	cred, ok := decode("redis", rec)
	if !ok {
		return nil, nil
	}
	return cred, nil
}

// Clear deletes the credential hash.
func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("store: redis clear: %w", err)
	}
	return nil
}
