package synchub

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisIndex(t *testing.T, ttl time.Duration) (*RedisContextIndex, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisContextIndex(client, ttl), mr
}

func TestContextIndex_Contract(t *testing.T) {
	factories := map[string]func(t *testing.T) ContextIndex{
		"memory": func(t *testing.T) ContextIndex { return NewMemoryContextIndex(0) },
		"redis": func(t *testing.T) ContextIndex {
			idx, _ := newRedisIndex(t, 0)
			return idx
		},
	}

	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			idx := factory(t)
			ch := Bucket{Kind: BucketChannel, ID: "ch-1"}
			grp := Bucket{Kind: BucketGroup, ID: "g-1"}

			_, ok, err := idx.Get(ctx, "msg-1")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, idx.Set(ctx, "msg-1", ch))
			got, ok, err := idx.Get(ctx, "msg-1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, ch, got)

			require.NoError(t, idx.Set(ctx, "msg-1", grp))
			got, _, _ = idx.Get(ctx, "msg-1")
			assert.Equal(t, grp, got, "last writer wins")

			require.NoError(t, idx.Remove(ctx, "msg-1"))
			_, ok, err = idx.Get(ctx, "msg-1")
			require.NoError(t, err)
			assert.False(t, ok)

			assert.NoError(t, idx.Remove(ctx, "never-set"))
		})
	}
}

func TestRedisContextIndex_TTL(t *testing.T) {
	ctx := context.Background()
	idx, mr := newRedisIndex(t, time.Minute)

	require.NoError(t, idx.Set(ctx, "msg-1", Bucket{Kind: BucketChannel, ID: "ch-1"}))
	assert.Equal(t, "channel:ch-1", mustGet(t, mr, redisContextPrefix+"msg-1"))
	assert.Equal(t, time.Minute, mr.TTL(redisContextPrefix+"msg-1"))

	mr.FastForward(2 * time.Minute)
	_, ok, err := idx.Get(ctx, "msg-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisContextIndex_CorruptValue(t *testing.T) {
	idx, mr := newRedisIndex(t, 0)
	require.NoError(t, mr.Set(redisContextPrefix+"msg-1", "garbage"))

	_, ok, err := idx.Get(context.Background(), "msg-1")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestRedisContextIndex_Unavailable(t *testing.T) {
	idx, mr := newRedisIndex(t, 0)
	mr.Close()

	_, _, err := idx.Get(context.Background(), "msg-1")
	assert.Error(t, err)
}

func TestMemoryContextIndex_Retention(t *testing.T) {
	idx := NewMemoryContextIndex(20 * time.Millisecond)
	ctx := context.Background()
	require.NoError(t, idx.Set(ctx, "msg-1", Bucket{Kind: BucketGroup, ID: "g-1"}))
	assert.Equal(t, 1, idx.Len())

	assert.Eventually(t, func() bool {
		_, ok, _ := idx.Get(ctx, "msg-1")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := mr.Get(key)
	require.NoError(t, err)
	return v
}
