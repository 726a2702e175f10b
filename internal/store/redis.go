package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis owns the process-wide client shared by the document cache, the
// change notifier, the repair queue and the token revocation list.
type Redis struct {
	Client *redis.Client
}

// NewRedis connects to the given address. Timeouts are short: every Redis
// use in this system is advisory (cache, notify, revocation) or polled
// (queue), so a slow Redis must not stall request handling.
func NewRedis(addr string) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})
	return &Redis{Client: client}
}

// Healthy reports whether Redis answers a ping; feeds /healthz.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}

// Close releases the client's connection pool.
func (r *Redis) Close() error {
	if r == nil || r.Client == nil {
		return nil
	}
	return r.Client.Close()
}
