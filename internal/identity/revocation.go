package identity

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRevocations keys revoked token IDs with a TTL matching the token's
// remaining lifetime, so the set cleans itself up.
type RedisRevocations struct {
	client *redis.Client
	prefix string
}

func NewRedisRevocations(client *redis.Client) *RedisRevocations {
	return &RedisRevocations{client: client, prefix: "rollcall:revoked:"}
}

func (r *RedisRevocations) Revoke(ctx context.Context, tokenID string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	return r.client.Set(ctx, r.prefix+tokenID, "1", ttl).Err()
}

func (r *RedisRevocations) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	err := r.client.Get(ctx, r.prefix+tokenID).Err()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// MemRevocations is the in-process revocation list for tests.
type MemRevocations struct {
	mu      sync.RWMutex
	revoked map[string]time.Time
}

func NewMemRevocations() *MemRevocations {
	return &MemRevocations{revoked: make(map[string]time.Time)}
}

func (r *MemRevocations) Revoke(_ context.Context, tokenID string, until time.Time) error {
	r.mu.Lock()
	r.revoked[tokenID] = until
	r.mu.Unlock()
	return nil
}

func (r *MemRevocations) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	r.mu.RLock()
	until, ok := r.revoked[tokenID]
	r.mu.RUnlock()
	return ok && time.Now().Before(until), nil
}
