package cache

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"moff.io/wallet-bridge/pkg/errors"
)

const dedupPrefix = "wallet-bridge:relay:seen:"

// RedisDeduplicator marks relay messages with SETNX so replays are dropped
// across restarts and replicas.
type RedisDeduplicator struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisDeduplicator(client redis.UniversalClient, ttl time.Duration) *RedisDeduplicator {
	return &RedisDeduplicator{client: client, ttl: ttl}
}

func (d *RedisDeduplicator) Seen(ctx context.Context, key string) (bool, error) {
	fresh, err := d.client.SetNX(ctx, dedupPrefix+key, 1, d.ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, "setnx relay message key")
	}
	return !fresh, nil
}

// Purge forgets every marked message.
func (d *RedisDeduplicator) Purge(ctx context.Context) error {
	return DeleteFromPrefix(ctx, d.client, dedupPrefix)
}

type tup struct {
	expireAt int64
}

// MemoryDeduplicator is the in-process fallback when redis is not configured.
type MemoryDeduplicator struct {
	mu    sync.Mutex
	ttl   time.Duration
	seen  map[string]tup
	now   func() time.Time
	sweep time.Time
}

func NewMemoryDeduplicator(ttl time.Duration) *MemoryDeduplicator {
	return &MemoryDeduplicator{ttl: ttl, seen: make(map[string]tup), now: time.Now}
}

func (d *MemoryDeduplicator) Seen(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	d.expire(now)
	if t, ok := d.seen[key]; ok && t.expireAt > now.UnixNano() {
		return true, nil
	}
	d.seen[key] = tup{expireAt: now.Add(d.ttl).UnixNano()}
	return false, nil
}

func (d *MemoryDeduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// expire drops stale keys at most once per ttl.
func (d *MemoryDeduplicator) expire(now time.Time) {
	if now.Sub(d.sweep) < d.ttl {
		return
	}
	d.sweep = now
	for k, t := range d.seen {
		if t.expireAt <= now.UnixNano() {
			delete(d.seen, k)
		}
	}
}
