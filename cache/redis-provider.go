package cache

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisPrefix    = "swoff:"
	redisStoresKey = redisPrefix + "stores"
)

// RedisCache keeps every store in its own hash.
// The names of opened stores are kept in a set.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to the redis server at addr.
func NewRedisCache(addr, password string, db int) RedisCache {
	return RedisCache{
		client: redis.NewClient(&redis.Options{
			Addr:        addr,
			Password:    password,
			DB:          db,
			DialTimeout: 5 * time.Second,
		}),
	}
}

func (r RedisCache) Close() error {
	return r.client.Close()
}

func storeHash(store string) string {
	return redisPrefix + "store:" + store
}

// Open makes sure the server is reachable and registers the store name.
// Redis has no empty hashes, so the store itself springs into existence on first Put.
func (r RedisCache) Open(ctx context.Context, store string) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return err
	}
	return r.client.SAdd(ctx, redisStoresKey, store).Err()
}

func (r RedisCache) Get(ctx context.Context, store, key string) ([]byte, bool, error) {
	bytes, err := r.client.HGet(ctx, storeHash(store), key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return bytes, true, nil
}

func (r RedisCache) Put(ctx context.Context, store, key string, bytes []byte) error {
	open, err := r.client.SIsMember(ctx, redisStoresKey, store).Result()
	if err != nil {
		return err
	}
	if !open {
		return fmt.Errorf("%w: %s", ErrStoreNotOpen, store)
	}
	return r.client.HSet(ctx, storeHash(store), key, bytes).Err()
}

func (r RedisCache) Keys(ctx context.Context, store string, cb func(string)) error {
	keys, err := r.client.HKeys(ctx, storeHash(store)).Result()
	if err != nil {
		return err
	}
	sort.Strings(keys)
	for _, key := range keys {
		cb(key)
	}
	return nil
}
