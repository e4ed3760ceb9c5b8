package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"storefront-checkout/internal/pkg/redis"

	"github.com/go-gorm/caches/v4"
	_redis "github.com/redis/go-redis/v9"
)

func newCacher(cfg *Config) caches.Cacher {
	if cfg.Rds != nil && cfg.Rds.Client != nil && cfg.CacheTime > 0 {
		return &redisCacher{rdb: cfg.Rds, cacheTime: cfg.CacheTime}
	}
	return &memoryCacher{}
}

// redisCacher keeps query results in redis under the caches prefix. Any
// write through gorm invalidates every cached query.
type redisCacher struct {
	rdb       *redis.Client
	cacheTime time.Duration
}

func (c *redisCacher) Get(ctx context.Context, key string, q *caches.Query[any]) (*caches.Query[any], error) {
	res, err := c.rdb.Client.Get(ctx, key).Result()
	if errors.Is(err, _redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := q.Unmarshal([]byte(res)); err != nil {
		return nil, err
	}
	return q, nil
}

func (c *redisCacher) Store(ctx context.Context, key string, val *caches.Query[any]) error {
	res, err := val.Marshal()
	if err != nil {
		return err
	}
	return c.rdb.Client.Set(ctx, key, res, c.cacheTime).Err()
}

func (c *redisCacher) Invalidate(ctx context.Context) error {
	var (
		cursor uint64
		keys   []string
	)
	for {
		batch, next, err := c.rdb.Client.Scan(ctx, cursor, fmt.Sprintf("%s*", caches.IdentifierPrefix), 100).Result()
		if err != nil {
			return err
		}
		keys = append(keys, batch...)
		if cursor = next; cursor == 0 {
			break
		}
	}

	if len(keys) > 0 {
		return c.rdb.Client.Del(ctx, keys...).Err()
	}
	return nil
}

// memoryCacher is the single-process fallback when redis is not configured.
type memoryCacher struct {
	mu    sync.RWMutex
	store map[string][]byte
}

func (c *memoryCacher) Get(_ context.Context, key string, q *caches.Query[any]) (*caches.Query[any], error) {
	c.mu.RLock()
	val, ok := c.store[key]
	c.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	if err := q.Unmarshal(val); err != nil {
		return nil, err
	}
	return q, nil
}

func (c *memoryCacher) Store(_ context.Context, key string, val *caches.Query[any]) error {
	res, err := val.Marshal()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store == nil {
		c.store = map[string][]byte{}
	}
	c.store[key] = res
	return nil
}

func (c *memoryCacher) Invalidate(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store = nil
	return nil
}
