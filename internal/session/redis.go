// internal/session/redis.go
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces session hashes in Redis.
const keyPrefix = "session:"

// ConnectRedis builds a client for addr/db and pings it.
func ConnectRedis(ctx context.Context, addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// RedisBackend stores each session as a hash "session:<id>" with a sliding TTL.
type RedisBackend struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisBackend(rdb *redis.Client, ttl time.Duration) *RedisBackend {
	return &RedisBackend{rdb: rdb, ttl: ttl}
}

func (b *RedisBackend) Open(id string) Session {
	return &redisSession{id: id, key: keyPrefix + id, backend: b}
}

type redisSession struct {
	id      string
	key     string
	backend *RedisBackend
}

func (s *redisSession) ID() string { return s.id }

func (s *redisSession) Get(ctx context.Context, key string, dst any) (bool, error) {
	raw, err := s.backend.rdb.HGet(ctx, s.key, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to HGET %s/%s: %w", s.key, key, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decode session key %s: %w", key, err)
	}
	return true, nil
}

func (s *redisSession) Put(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode session key %s: %w", key, err)
	}
	_, err = s.backend.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.key, key, raw)
		if s.backend.ttl > 0 {
			pipe.Expire(ctx, s.key, s.backend.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to HSET %s/%s: %w", s.key, key, err)
	}
	return nil
}

func (s *redisSession) Forget(ctx context.Context, key string) error {
	if err := s.backend.rdb.HDel(ctx, s.key, key).Err(); err != nil {
		return fmt.Errorf("failed to HDEL %s/%s: %w", s.key, key, err)
	}
	return nil
}
