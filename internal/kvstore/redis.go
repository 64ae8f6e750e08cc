package kvstore

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// Redis stores values as plain strings under "<prefix>:<key>".
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis wraps an already connected client.
func NewRedis(client *redis.Client, prefix string) *Redis {
	if client == nil {
		panic("kvstore: redis client cannot be nil")
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(k string) string {
	if r.prefix == "" {
		return k
	}
	return r.prefix + ":" + k
}

func (r *Redis) Save(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return storageError("save", key, err)
	}
	return nil
}

func (r *Redis) Load(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, storageError("load", key, err)
	}
	return v, true, nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return storageError("delete", key, err)
	}
	return nil
}
