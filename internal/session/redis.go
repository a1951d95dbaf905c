package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/piewallah/pw-gateway/internal/model"
)

// RedisBackend stores the credential under one key so several processes
// share the same session. A positive ttl bounds how long the key survives
// without a write.
type RedisBackend struct {
	rdb *redis.Client
	key string
	ttl time.Duration
}

func NewRedisBackend(rdb *redis.Client, key string, ttl time.Duration) *RedisBackend {
	return &RedisBackend{rdb: rdb, key: key, ttl: ttl}
}

func (r *RedisBackend) Load(ctx context.Context) (model.Credential, error) {
	bs, err := r.rdb.Get(ctx, r.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.Credential{}, ErrNoCredential
		}
		return model.Credential{}, fmt.Errorf("redis get %s: %w", r.key, err)
	}
	var c model.Credential
	if err := json.Unmarshal(bs, &c); err != nil {
		return model.Credential{}, fmt.Errorf("decode credential: %w", err)
	}
	return c, nil
}

func (r *RedisBackend) Save(ctx context.Context, c model.Credential) error {
	bs, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, r.key, bs, r.ttl).Err()
}

func (r *RedisBackend) Delete(ctx context.Context) error {
	return r.rdb.Del(ctx, r.key).Err()
}
