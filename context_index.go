package synchub

import (
	"context"
	"errors"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// ContextIndex resolves a record id to the bucket that owns it, for events
// whose payload only carries the record id.
type ContextIndex interface {
	Set(ctx context.Context, recordID string, bucket Bucket) error
	Get(ctx context.Context, recordID string) (Bucket, bool, error)
	Remove(ctx context.Context, recordID string) error
}

// Compile-time interface compliance checks
var (
	_ ContextIndex = (*MemoryContextIndex)(nil)
	_ ContextIndex = (*RedisContextIndex)(nil)
)

// ============================================================================
// MemoryContextIndex
// ============================================================================

// MemoryContextIndex keeps entries in process memory. Entries older than the
// retention are dropped; a zero retention keeps them until removed.
type MemoryContextIndex struct {
	items *gocache.Cache
}

// NewMemoryContextIndex creates an in-memory index.
func NewMemoryContextIndex(retention time.Duration) *MemoryContextIndex {
	if retention <= 0 {
		return &MemoryContextIndex{items: gocache.New(gocache.NoExpiration, 0)}
	}
	return &MemoryContextIndex{items: gocache.New(retention, retention)}
}

func (m *MemoryContextIndex) Set(_ context.Context, recordID string, bucket Bucket) error {
	m.items.Set(recordID, bucket, gocache.DefaultExpiration)
	return nil
}

func (m *MemoryContextIndex) Get(_ context.Context, recordID string) (Bucket, bool, error) {
	v, ok := m.items.Get(recordID)
	if !ok {
		return Bucket{}, false, nil
	}
	b, ok := v.(Bucket)
	return b, ok, nil
}

func (m *MemoryContextIndex) Remove(_ context.Context, recordID string) error {
	m.items.Delete(recordID)
	return nil
}

// Len returns the number of live entries.
func (m *MemoryContextIndex) Len() int {
	return m.items.ItemCount()
}

// ============================================================================
// RedisContextIndex
// ============================================================================

const redisContextPrefix = "synchub:ctx:"

// RedisContextIndex stores entries in Redis so several hub processes (or a
// restarted one) share the same index.
type RedisContextIndex struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisContextIndex creates a Redis-backed index. A zero ttl stores keys
// without expiry.
func NewRedisContextIndex(client redis.UniversalClient, ttl time.Duration) *RedisContextIndex {
	return &RedisContextIndex{client: client, ttl: ttl}
}

func (r *RedisContextIndex) Set(ctx context.Context, recordID string, bucket Bucket) error {
	if err := r.client.Set(ctx, redisContextPrefix+recordID, bucket.String(), r.ttl).Err(); err != nil {
		return fmt.Errorf("set context %s: %w", recordID, err)
	}
	return nil
}

func (r *RedisContextIndex) Get(ctx context.Context, recordID string) (Bucket, bool, error) {
	val, err := r.client.Get(ctx, redisContextPrefix+recordID).Result()
	if errors.Is(err, redis.Nil) {
		return Bucket{}, false, nil
	}
	if err != nil {
		return Bucket{}, false, fmt.Errorf("get context %s: %w", recordID, err)
	}
	b, err := ParseBucket(val)
	if err != nil {
		return Bucket{}, false, fmt.Errorf("get context %s: %w", recordID, err)
	}
	return b, true, nil
}

func (r *RedisContextIndex) Remove(ctx context.Context, recordID string) error {
	if err := r.client.Del(ctx, redisContextPrefix+recordID).Err(); err != nil {
		return fmt.Errorf("remove context %s: %w", recordID, err)
	}
	return nil
}
