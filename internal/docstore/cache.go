package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache backs GetCached: a local read that must succeed or fail explicitly
// without a round trip to the document database.
type Cache interface {
	Get(ctx context.Context, path string) (Doc, bool, error)
	Set(ctx context.Context, path string, doc Doc) error
	Delete(ctx context.Context, path string) error
}

// RedisCache keeps document snapshots as JSON values with a TTL.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl, prefix: "rollcall:doc:"}
}

func (c *RedisCache) Get(ctx context.Context, path string) (Doc, bool, error) {
	raw, err := c.client.Get(ctx, c.prefix+path).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var doc Doc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

func (c *RedisCache) Set(ctx context.Context, path string, doc Doc) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.prefix+path, raw, c.ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, path string) error {
	return c.client.Del(ctx, c.prefix+path).Err()
}

// MemCache is the in-process cache used in tests and single-node dev runs.
type MemCache struct {
	mu   sync.RWMutex
	docs map[string]Doc
}

func NewMemCache() *MemCache {
	return &MemCache{docs: make(map[string]Doc)}
}

func (c *MemCache) Get(_ context.Context, path string) (Doc, bool, error) {
	c.mu.RLock()
	doc, ok := c.docs[path]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	snapshot, err := deepCopy(doc)
	return snapshot, true, err
}

func (c *MemCache) Set(_ context.Context, path string, doc Doc) error {
	snapshot, err := deepCopy(doc)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.docs[path] = snapshot
	c.mu.Unlock()
	return nil
}

func (c *MemCache) Delete(_ context.Context, path string) error {
	c.mu.Lock()
	delete(c.docs, path)
	c.mu.Unlock()
	return nil
}
